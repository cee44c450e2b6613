// Package network implements the RCON TCP listener, the authentication
// handshake, and the per-connection session handling.
package network

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rcond-project/rcond/internal/protocol"
)

// ErrSessionNotFound is returned when an operation names a session id
// that is not (or no longer) registered.
var ErrSessionNotFound = errors.New("rcon session not found")

// PendingRequest is an EXEC_COMMAND frame that has not been replied to.
// It is cleared only by a reply bearing the same id or by session teardown.
type PendingRequest struct {
	Frame      protocol.Frame `json:"frame"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Session owns one authenticated RCON client connection. The read loop
// runs on the session's own goroutine; writes can also come from reply
// calls on other goroutines, so every write is serialized through the
// session mutex to keep frames from interleaving on the wire.
type Session struct {
	mu     sync.Mutex
	id     uint64
	conn   net.Conn
	logger zerolog.Logger

	writeTimeout time.Duration

	connectedAt  time.Time
	lastActivity time.Time

	// Outstanding requests keyed by frame id. Uniqueness is scoped to the
	// session; two clients may use the same id independently.
	pending map[int32]PendingRequest

	requests uint64
	replies  uint64

	closed bool
}

// NewSession wraps an authenticated net.Conn.
func NewSession(id uint64, conn net.Conn, writeTimeout time.Duration) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		conn:         conn,
		writeTimeout: writeTimeout,
		connectedAt:  now,
		lastActivity: now,
		pending:      make(map[int32]PendingRequest),
		logger: log.With().
			Str("component", "session").
			Uint64("session_id", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// ID returns the opaque session identifier.
func (s *Session) ID() uint64 {
	return s.id
}

// RemoteAddr returns the remote address of the connection.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// ReadFrame reads the next frame from the connection. Only the session's
// read-loop goroutine may call this.
func (s *Session) ReadFrame() (protocol.Frame, error) {
	f, err := protocol.ReadFrame(s.conn)
	if err != nil {
		return protocol.Frame{}, err
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()

	return f, nil
}

// WriteFrame sends a frame on the connection. Safe for concurrent use.
func (s *Session) WriteFrame(f protocol.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("session %d is closed", s.id)
	}

	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := protocol.WriteFrame(s.conn, f); err != nil {
		return err
	}

	s.lastActivity = time.Now()
	return nil
}

// TrackRequest records an EXEC_COMMAND frame as awaiting a reply.
func (s *Session) TrackRequest(f protocol.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[f.ID] = PendingRequest{Frame: f, ReceivedAt: time.Now()}
	s.requests++
}

// Reply writes a RESPONSE_VALUE frame with the given id and body, then
// clears the matching pending request. This is the only way a pending
// request is resolved short of teardown.
func (s *Session) Reply(requestID int32, body string) error {
	if err := s.WriteFrame(protocol.Frame{ID: requestID, Kind: protocol.KindResponseValue, Body: body}); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.pending[requestID]; ok {
		delete(s.pending, requestID)
		s.replies++
	}
	s.mu.Unlock()

	s.logger.Debug().Int32("request_id", requestID).Msg("reply sent")
	return nil
}

// Pending returns the outstanding requests ordered by arrival time.
func (s *Session) Pending() []PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PendingRequest, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}

// PendingCount returns the number of outstanding requests.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Counters returns the total requests received and replies sent.
func (s *Session) Counters() (requests, replies uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests, s.replies
}

// ConnectedAt returns the time the session was established.
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// LastActivity returns the time of the last read/write activity.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Close tears down the transport and discards pending requests.
// Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.pending = make(map[int32]PendingRequest)
	s.logger.Info().Msg("session closed")
	return s.conn.Close()
}

// IsClosed returns whether the session has been closed.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SessionRegistry tracks active authenticated sessions. It is shared by
// the accept loop, every session goroutine, and the sweeper.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
}

// NewSessionRegistry creates a new SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[uint64]*Session),
	}
}

// Register adds a session to the registry.
func (r *SessionRegistry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID()] = s
	log.Debug().Uint64("session_id", s.ID()).Msg("session registered")
}

// Unregister removes a session from the registry and closes it.
// Returns false when the id was not registered.
func (r *SessionRegistry) Unregister(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}

	s.Close()
	delete(r.sessions, id)
	log.Debug().Uint64("session_id", id).Msg("session unregistered")
	return true
}

// Get returns the session for an id.
func (r *SessionRegistry) Get(id uint64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// All returns a snapshot of the active sessions.
func (r *SessionRegistry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of active sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes and removes every session in the registry.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		s.Close()
		delete(r.sessions, id)
	}

	log.Info().Msg("all sessions closed")
}
