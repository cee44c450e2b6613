// Package server wires the RCON subsystem together and exposes the
// operations the command-interpretation layer and the admin surfaces
// (API, CLI) call into.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcond-project/rcond/internal/config"
	"github.com/rcond-project/rcond/internal/db"
	"github.com/rcond-project/rcond/internal/events"
	"github.com/rcond-project/rcond/internal/network"
)

// Manager owns the session registry and the RCON listener, and is the
// single entry point for replying to and closing client sessions.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus

	registry *network.SessionRegistry
	listener *network.Listener

	// audit is optional; nil when the audit log is disabled.
	audit *db.AuditLog

	startedAt time.Time
}

// NewManager creates and initializes the manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus) *Manager {
	registry := network.NewSessionRegistry()
	return &Manager{
		cfg:       cfg,
		eventBus:  eventBus,
		registry:  registry,
		listener:  network.NewListener(cfg, eventBus, registry),
		startedAt: time.Now(),
	}
}

// SetAuditLog injects the audit log once it has been opened.
func (m *Manager) SetAuditLog(audit *db.AuditLog) {
	m.audit = audit
}

// Registry exposes the session registry to the sweeper.
func (m *Manager) Registry() *network.SessionRegistry {
	return m.registry
}

// Audit returns the audit log, or nil when auditing is disabled.
func (m *Manager) Audit() *db.AuditLog {
	return m.audit
}

// StartedAt returns the manager start time.
func (m *Manager) StartedAt() time.Time {
	return m.startedAt
}

// Start runs the RCON listener until the context is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	return m.listener.Start(ctx)
}

// Reply sends a RESPONSE_VALUE frame carrying body with the given request
// id on the named session, resolving the matching pending request. This
// is the one operation the command-interpretation layer calls for every
// request it handles.
func (m *Manager) Reply(sessionID uint64, requestID int32, body string) error {
	sess, ok := m.registry.Get(sessionID)
	if !ok {
		return fmt.Errorf("reply to session %d: %w", sessionID, network.ErrSessionNotFound)
	}

	if err := sess.Reply(requestID, body); err != nil {
		return fmt.Errorf("reply to session %d: %w", sessionID, err)
	}

	if m.audit != nil {
		if err := m.audit.MarkReplied(sessionID, requestID, time.Now()); err != nil {
			log.Warn().Err(err).Uint64("session_id", sessionID).Msg("failed to audit reply")
		}
	}
	return nil
}

// CloseSession tears down a client session. Idempotent: closing an
// unknown or already-closed session is a no-op. The session's goroutine
// observes the closed transport and emits the closed event itself.
func (m *Manager) CloseSession(sessionID uint64) {
	if m.registry.Unregister(sessionID) {
		log.Info().Uint64("session_id", sessionID).Msg("session closed by operator")
	}
}

// Shutdown stops accepting connections and applies the configured
// shutdown policy to the sessions that are still open: force closes them
// all, drain leaves them to finish on their own.
func (m *Manager) Shutdown() {
	m.listener.Stop()

	policy := m.cfg.GetApplicationData().ShutdownPolicy
	if policy == config.ShutdownForce {
		m.registry.CloseAll()
	}

	log.Info().Str("policy", policy).Int("open_sessions", m.registry.Count()).Msg("manager shut down")
}

// PendingInfo describes one outstanding request for the admin surfaces.
type PendingInfo struct {
	RequestID  int32     `json:"request_id"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// SessionInfo is a point-in-time snapshot of one session.
type SessionInfo struct {
	ID           uint64        `json:"id"`
	RemoteAddr   string        `json:"remote_addr"`
	ConnectedAt  time.Time     `json:"connected_at"`
	LastActivity time.Time     `json:"last_activity"`
	Requests     uint64        `json:"requests"`
	Replies      uint64        `json:"replies"`
	Pending      []PendingInfo `json:"pending"`
}

// Sessions returns a snapshot of every active session.
func (m *Manager) Sessions() []SessionInfo {
	sessions := m.registry.All()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, m.snapshot(s))
	}
	return out
}

// Session returns a snapshot of one session.
func (m *Manager) Session(sessionID uint64) (SessionInfo, error) {
	s, ok := m.registry.Get(sessionID)
	if !ok {
		return SessionInfo{}, network.ErrSessionNotFound
	}
	return m.snapshot(s), nil
}

// SessionCount returns the number of active sessions.
func (m *Manager) SessionCount() int {
	return m.registry.Count()
}

// PendingCount returns the number of outstanding requests across all
// sessions.
func (m *Manager) PendingCount() int {
	total := 0
	for _, s := range m.registry.All() {
		total += s.PendingCount()
	}
	return total
}

func (m *Manager) snapshot(s *network.Session) SessionInfo {
	requests, replies := s.Counters()
	info := SessionInfo{
		ID:           s.ID(),
		RemoteAddr:   s.RemoteAddr(),
		ConnectedAt:  s.ConnectedAt(),
		LastActivity: s.LastActivity(),
		Requests:     requests,
		Replies:      replies,
	}
	for _, p := range s.Pending() {
		info.Pending = append(info.Pending, PendingInfo{
			RequestID:  p.Frame.ID,
			Body:       p.Frame.Body,
			ReceivedAt: p.ReceivedAt,
		})
	}
	return info
}
