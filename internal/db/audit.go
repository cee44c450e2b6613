package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcond-project/rcond/internal/events"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS commands (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  INTEGER NOT NULL,
	request_id  INTEGER NOT NULL,
	body        TEXT NOT NULL,
	received_at TIMESTAMP NOT NULL,
	replied_at  TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_commands_session ON commands(session_id);
CREATE INDEX IF NOT EXISTS idx_commands_received ON commands(received_at);

CREATE TABLE IF NOT EXISTS auth_attempts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	remote_addr TEXT NOT NULL,
	success     INTEGER NOT NULL,
	attempted_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_auth_attempted ON auth_attempts(attempted_at);
`

// AuditLog records executed commands and authentication attempts.
type AuditLog struct {
	db *Database
}

// NewAuditLog opens the audit database and ensures the schema exists.
func NewAuditLog(dbPath string) (*AuditLog, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := database.Exec(auditSchema); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	return &AuditLog{db: database}, nil
}

// Close closes the underlying database.
func (a *AuditLog) Close() error {
	return a.db.Close()
}

// Subscribe registers the audit handlers on the event bus. Command and
// auth events flow in through here; reply timestamps are recorded
// directly by the manager, which is the only component that sees replies.
func (a *AuditLog) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventClientRequest, "audit.command", a.onClientRequest)
	bus.Subscribe(events.EventClientConnected, "audit.authOK", a.onClientConnected)
	bus.Subscribe(events.EventAuthFailed, "audit.authFail", a.onAuthFailed)
}

func (a *AuditLog) onClientRequest(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.ClientRequestPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", e.Payload)
	}
	return a.RecordCommand(p.SessionID, p.Message.ID, p.Message.Body, time.Now())
}

func (a *AuditLog) onClientConnected(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.ClientConnectedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", e.Payload)
	}
	return a.RecordAuthAttempt(p.RemoteAddr, true, time.Now())
}

func (a *AuditLog) onAuthFailed(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.AuthFailedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", e.Payload)
	}
	return a.RecordAuthAttempt(p.RemoteAddr, false, time.Now())
}

// RecordCommand inserts a received command.
func (a *AuditLog) RecordCommand(sessionID uint64, requestID int32, body string, receivedAt time.Time) error {
	_, err := a.db.Exec(
		`INSERT INTO commands (session_id, request_id, body, received_at) VALUES (?, ?, ?, ?)`,
		sessionID, requestID, body, receivedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// MarkReplied stamps the most recent unreplied command row matching the
// session and request id.
func (a *AuditLog) MarkReplied(sessionID uint64, requestID int32, repliedAt time.Time) error {
	_, err := a.db.Exec(
		`UPDATE commands SET replied_at = ?
		 WHERE id = (
			SELECT id FROM commands
			WHERE session_id = ? AND request_id = ? AND replied_at IS NULL
			ORDER BY received_at DESC LIMIT 1
		 )`,
		repliedAt.UTC(), sessionID, requestID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark command replied: %w", err)
	}
	return nil
}

// RecordAuthAttempt inserts an authentication attempt.
func (a *AuditLog) RecordAuthAttempt(remoteAddr string, success bool, attemptedAt time.Time) error {
	_, err := a.db.Exec(
		`INSERT INTO auth_attempts (remote_addr, success, attempted_at) VALUES (?, ?, ?)`,
		remoteAddr, success, attemptedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record auth attempt: %w", err)
	}
	return nil
}

// CommandRecord is one audited command.
type CommandRecord struct {
	ID         int64      `json:"id"`
	SessionID  uint64     `json:"session_id"`
	RequestID  int32      `json:"request_id"`
	Body       string     `json:"body"`
	ReceivedAt time.Time  `json:"received_at"`
	RepliedAt  *time.Time `json:"replied_at,omitempty"`
}

// RecentCommands returns the newest audited commands, most recent first.
func (a *AuditLog) RecentCommands(limit int) ([]CommandRecord, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := a.db.Query(
		`SELECT id, session_id, request_id, body, received_at, replied_at
		 FROM commands ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.RequestID, &rec.Body, &rec.ReceivedAt, &rec.RepliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan command row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneBefore deletes commands and auth attempts older than the cutoff
// and returns the number of removed rows.
func (a *AuditLog) PruneBefore(cutoff time.Time) (int64, error) {
	var removed int64

	res, err := a.db.Exec(`DELETE FROM commands WHERE received_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune commands: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	res, err = a.db.Exec(`DELETE FROM auth_attempts WHERE attempted_at < ?`, cutoff.UTC())
	if err != nil {
		return removed, fmt.Errorf("failed to prune auth attempts: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	log.Debug().Int64("rows", removed).Msg("audit rows pruned")
	return removed, nil
}
