package network

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rcond-project/rcond/internal/protocol"
)

// Handshake outcomes. A protocol violation closes the transport with no
// response at all; a bad password is answered with the protocol's
// rejection frame before closing.
var (
	ErrNotAuthFrame = errors.New("first frame is not an auth frame")
	ErrBadPassword  = errors.New("auth password mismatch")
)

// Authenticate runs the server side of the RCON auth handshake on a new
// connection. It reads exactly one frame, requires it to be AUTH, always
// acknowledges with an empty RESPONSE_VALUE carrying the client's id,
// then answers with AUTH_RESPONSE: the client's id on success, -1 on a
// password mismatch. Returns the client's submitted id on success.
//
// Any transport error aborts the handshake; the caller closes the
// connection on any non-nil error.
func Authenticate(conn net.Conn, password string, timeout time.Duration) (int32, error) {
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
	}

	f, err := protocol.ReadFrame(conn)
	if err != nil {
		return 0, fmt.Errorf("failed to read auth frame: %w", err)
	}

	if f.Kind != protocol.KindAuth {
		return 0, ErrNotAuthFrame
	}

	// Acknowledgment required by the protocol regardless of outcome.
	ack := protocol.Frame{ID: f.ID, Kind: protocol.KindResponseValue}
	if err := protocol.WriteFrame(conn, ack); err != nil {
		return 0, fmt.Errorf("failed to write auth ack: %w", err)
	}

	if f.Body != password {
		reject := protocol.Frame{ID: -1, Kind: protocol.KindAuthResponse}
		if err := protocol.WriteFrame(conn, reject); err != nil {
			return 0, fmt.Errorf("failed to write auth rejection: %w", err)
		}
		return 0, ErrBadPassword
	}

	accept := protocol.Frame{ID: f.ID, Kind: protocol.KindAuthResponse}
	if err := protocol.WriteFrame(conn, accept); err != nil {
		return 0, fmt.Errorf("failed to write auth response: %w", err)
	}

	// Steady-state reads have no deadline: a request may stay pending
	// indefinitely and the connection stays open until the peer goes away.
	conn.SetReadDeadline(time.Time{})

	return f.ID, nil
}
