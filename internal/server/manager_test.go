package server

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rcond-project/rcond/internal/config"
	"github.com/rcond-project/rcond/internal/events"
	"github.com/rcond-project/rcond/internal/network"
	"github.com/rcond-project/rcond/internal/protocol"
)

func newTestManager() *Manager {
	cfg := config.DefaultConfig()
	cfg.Rcon.Password = "secret"
	return NewManager(cfg, events.NewEventBus())
}

// addPipeSession registers a session backed by a net.Pipe and returns the
// client half for reading what the manager writes.
func addPipeSession(t *testing.T, m *Manager, id uint64) net.Conn {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	m.Registry().Register(network.NewSession(id, server, time.Second))
	return client
}

func TestReplyUnknownSession(t *testing.T) {
	m := newTestManager()

	err := m.Reply(999, 42, "ok")
	if !errors.Is(err, network.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestReplyWritesAndResolves(t *testing.T) {
	m := newTestManager()
	client := addPipeSession(t, m, 1)

	sess, _ := m.Registry().Get(1)
	sess.TrackRequest(protocol.Frame{ID: 42, Kind: protocol.KindExecCommand, Body: "status"})

	replyErr := make(chan error, 1)
	go func() {
		replyErr <- m.Reply(1, 42, "ok")
	}()

	f, err := protocol.ReadFrame(client)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if f.ID != 42 || f.Kind != protocol.KindResponseValue || f.Body != "ok" {
		t.Fatalf("unexpected reply frame: %#v", f)
	}
	if err := <-replyErr; err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if sess.PendingCount() != 0 {
		t.Fatalf("pending request not resolved")
	}
}

func TestCloseSessionIdempotent(t *testing.T) {
	m := newTestManager()
	addPipeSession(t, m, 1)

	m.CloseSession(1)
	if m.SessionCount() != 0 {
		t.Fatalf("session still registered after close")
	}

	// Closing again, or closing an id that never existed, is a no-op.
	m.CloseSession(1)
	m.CloseSession(12345)
}

func TestSessionSnapshots(t *testing.T) {
	m := newTestManager()
	addPipeSession(t, m, 1)
	addPipeSession(t, m, 2)

	sess, _ := m.Registry().Get(2)
	sess.TrackRequest(protocol.Frame{ID: 9, Kind: protocol.KindExecCommand, Body: "maps"})

	if m.SessionCount() != 2 {
		t.Fatalf("session count: got %d", m.SessionCount())
	}
	if m.PendingCount() != 1 {
		t.Fatalf("pending count: got %d", m.PendingCount())
	}

	info, err := m.Session(2)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if len(info.Pending) != 1 || info.Pending[0].RequestID != 9 || info.Pending[0].Body != "maps" {
		t.Fatalf("unexpected snapshot: %#v", info)
	}

	if _, err := m.Session(77); !errors.Is(err, network.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestShutdownForceClosesSessions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rcon.Password = "secret"
	cfg.ApplicationData.ShutdownPolicy = config.ShutdownForce
	m := NewManager(cfg, events.NewEventBus())

	addPipeSession(t, m, 1)
	addPipeSession(t, m, 2)

	m.Shutdown()
	if m.SessionCount() != 0 {
		t.Fatalf("force shutdown left sessions open: %d", m.SessionCount())
	}
}

func TestShutdownDrainLeavesSessions(t *testing.T) {
	m := newTestManager() // default policy is drain
	addPipeSession(t, m, 1)

	m.Shutdown()
	if m.SessionCount() != 1 {
		t.Fatalf("drain shutdown should leave sessions open, got %d", m.SessionCount())
	}
}
