package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcond-project/rcond/internal/config"
	"github.com/rcond-project/rcond/internal/events"
	"github.com/rcond-project/rcond/internal/protocol"
)

// Listener accepts RCON client connections, runs the auth handshake on
// each, and drives one read-loop goroutine per authenticated session.
type Listener struct {
	cfg      *config.Config
	eventBus *events.EventBus
	registry *SessionRegistry
	listener net.Listener
	nextID   atomic.Uint64
}

// NewListener creates a new RCON TCP listener.
func NewListener(cfg *config.Config, eventBus *events.EventBus, registry *SessionRegistry) *Listener {
	return &Listener{
		cfg:      cfg,
		eventBus: eventBus,
		registry: registry,
	}
}

// Start begins listening for RCON client connections and blocks until the
// context is cancelled or the listener fails.
func (l *Listener) Start(ctx context.Context) error {
	rcon := l.cfg.GetRcon()
	addr := fmt.Sprintf("%s:%d", rcon.Host, rcon.Port)

	// SO_REUSEADDR allows immediate rebinding after a restart.
	lc := ReuseAddrListenConfig()
	var err error
	l.listener, err = lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start RCON listener on %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Msg("RCON listener started")

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("RCON listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		log.Debug().
			Str("remote", conn.RemoteAddr().String()).
			Msg("new RCON connection")

		go l.handleConnection(ctx, conn)
	}
}

// handleConnection authenticates a single client connection and, on
// success, registers a session and runs its read loop. All failures are
// scoped to this connection.
func (l *Listener) handleConnection(ctx context.Context, rawConn net.Conn) {
	rcon := l.cfg.GetRcon()
	remote := rawConn.RemoteAddr().String()

	logger := log.With().
		Str("component", "rcon_handler").
		Str("remote", remote).
		Logger()

	handshakeTimeout := time.Duration(rcon.HandshakeTimeoutSec) * time.Second
	_, err := Authenticate(rawConn, rcon.Password, handshakeTimeout)
	if err != nil {
		switch {
		case errors.Is(err, ErrBadPassword):
			logger.Warn().Msg("auth rejected: wrong password")
			l.eventBus.Emit(ctx, events.Event{
				Type:    events.EventAuthFailed,
				Source:  remote,
				Payload: events.AuthFailedPayload{RemoteAddr: remote},
			})
		case errors.Is(err, ErrNotAuthFrame):
			// Protocol violation: close silently, no event.
			logger.Warn().Msg("first frame was not AUTH, dropping connection")
		default:
			logger.Debug().Err(err).Msg("handshake aborted")
		}
		rawConn.Close()
		return
	}

	sessionID := l.nextID.Add(1)
	writeTimeout := time.Duration(rcon.WriteTimeoutSec) * time.Second
	sess := NewSession(sessionID, rawConn, writeTimeout)

	logger = log.With().
		Str("component", "rcon_handler").
		Uint64("session_id", sessionID).
		Str("remote", remote).
		Logger()

	logger.Info().Msg("client authenticated, session registered")

	l.registry.Register(sess)
	l.eventBus.Emit(ctx, events.Event{
		Type:    events.EventClientConnected,
		Source:  sessionSource(sessionID),
		Payload: events.ClientConnectedPayload{SessionID: sessionID, RemoteAddr: remote},
	})

	reason := "eof"
	defer func() {
		if l.registry.Unregister(sessionID) || sess.IsClosed() {
			l.eventBus.Emit(ctx, events.Event{
				Type:    events.EventClientClosed,
				Source:  sessionSource(sessionID),
				Payload: events.ClientClosedPayload{SessionID: sessionID, RemoteAddr: remote, Reason: reason},
			})
		}
	}()

	for {
		f, err := sess.ReadFrame()
		if err != nil {
			if sess.IsClosed() {
				reason = "closed"
				return
			}
			if isConnGone(err) {
				logger.Info().Msg("client disconnected")
				return
			}
			// Fatal for this connection only; others are unaffected.
			logger.Error().Err(err).Msg("read error, closing session")
			reason = "error"
			return
		}

		switch f.Kind {
		case protocol.KindExecCommand:
			sess.TrackRequest(f)
			logger.Debug().
				Int32("request_id", f.ID).
				Str("body", f.Body).
				Msg("command received")
			l.eventBus.Emit(ctx, events.Event{
				Type:    events.EventClientRequest,
				Source:  sessionSource(sessionID),
				Payload: events.ClientRequestPayload{SessionID: sessionID, Message: f},
			})

		case protocol.KindResponseValue:
			// Client echo, part of the multi-packet response termination
			// convention: mirror it straight back.
			if err := sess.WriteFrame(f); err != nil {
				logger.Error().Err(err).Msg("echo write failed, closing session")
				reason = "error"
				return
			}

		default:
			logger.Debug().
				Int32("kind", int32(f.Kind)).
				Msg("ignoring frame of unknown kind")
		}
	}
}

// Stop closes the listening socket. Open sessions are untouched; the
// shutdown policy decides their fate at a higher level.
func (l *Listener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

func sessionSource(id uint64) string {
	return fmt.Sprintf("session:%d", id)
}

// isConnGone reports whether err is one of the ordinary "peer went away"
// conditions that end a session without being noteworthy.
func isConnGone(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
