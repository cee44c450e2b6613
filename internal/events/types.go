// Package events defines event types and the publish-subscribe bus that
// connects the RCON connection subsystem to the command-interpretation
// layer and the other interested components (audit log, telemetry, CLI).
package events

import (
	"time"

	"github.com/rcond-project/rcond/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection lifecycle events
	EventClientConnected  EventType = "client_connected"
	EventClientRequest    EventType = "client_request"
	EventClientClosed     EventType = "client_closed"
	EventRequestUnreplied EventType = "request_unreplied"
	EventAuthFailed       EventType = "auth_failed"

	// System events
	EventShutdown EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ClientConnectedPayload is emitted after a client passes the auth handshake.
type ClientConnectedPayload struct {
	SessionID  uint64 `json:"session_id"`
	RemoteAddr string `json:"remote_addr"`
}

// ClientRequestPayload carries one EXEC_COMMAND frame received from a client.
type ClientRequestPayload struct {
	SessionID uint64         `json:"session_id"`
	Message   protocol.Frame `json:"message"`
}

// ClientClosedPayload is emitted on session teardown, whatever the cause.
type ClientClosedPayload struct {
	SessionID  uint64 `json:"session_id"`
	RemoteAddr string `json:"remote_addr"`
	Reason     string `json:"reason"`
}

// RequestUnrepliedPayload is emitted by the sweeper for every request that
// is still outstanding, once per sweep. Purely advisory: the request stays
// pending until replied to or the session closes.
type RequestUnrepliedPayload struct {
	SessionID uint64         `json:"session_id"`
	Message   protocol.Frame `json:"message"`
	Age       time.Duration  `json:"age_ns"`
}

// AuthFailedPayload is emitted when a client submits a wrong password.
// Protocol violations (a non-AUTH first frame) close silently and emit
// nothing, so their only trace is the absence of a connected event.
type AuthFailedPayload struct {
	RemoteAddr string `json:"remote_addr"`
}
