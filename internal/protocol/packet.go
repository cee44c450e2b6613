// Package protocol implements the Source-engine RCON wire format:
// length-prefixed binary frames with little-endian 32-bit fields,
// exchanged over plain TCP. The codec is pure byte manipulation and
// holds no connection state.
package protocol

// Kind identifies the message kind of a frame.
type Kind int32

// The four RCON message kinds. KindAuthResponse deliberately shares its
// numeric value with KindExecCommand; the real protocol disambiguates by
// direction and handshake state, never by value alone.
const (
	KindResponseValue Kind = 0
	KindExecCommand   Kind = 2
	KindAuthResponse  Kind = 2
	KindAuth          Kind = 3
)

// String returns a readable name for the kind as seen by the server.
// Kind 2 is reported as exec_command because servers only ever receive
// that interpretation of the shared value.
func (k Kind) String() string {
	switch k {
	case KindResponseValue:
		return "response_value"
	case KindExecCommand:
		return "exec_command"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

const (
	// FrameOverhead is the byte count a frame's size field covers beyond
	// the body: id (4) + kind (4) + terminator (2).
	FrameOverhead = 10

	// HeaderSize is the length of the three leading int32 fields
	// (size, id, kind).
	HeaderSize = 12

	// MaxBodyBytes is the largest body accepted when reading frames from
	// a stream. RCON commands are short; anything near this limit is a
	// broken or hostile peer.
	MaxBodyBytes = 4096
)

// Frame is one RCON message as it appears on the wire.
// Size counts id + kind + body + the two terminating null bytes.
type Frame struct {
	Size int32  `json:"size"`
	ID   int32  `json:"id"`
	Kind Kind   `json:"type"`
	Body string `json:"body"`
}

// EncodedLen returns the total on-wire length of the frame, including
// the 4-byte size prefix.
func (f Frame) EncodedLen() int {
	return HeaderSize + len(f.Body) + 2
}
