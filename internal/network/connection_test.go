package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rcond-project/rcond/internal/config"
	"github.com/rcond-project/rcond/internal/events"
	"github.com/rcond-project/rcond/internal/protocol"
)

// testHarness drives handleConnection over a net.Pipe with an already
// subscribed event channel per event type of interest.
type testHarness struct {
	bus      *events.EventBus
	registry *SessionRegistry
	listener *Listener
	received map[events.EventType]chan events.Event
}

func newHarness(t *testing.T, types ...events.EventType) *testHarness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Rcon.Password = "secret"

	h := &testHarness{
		bus:      events.NewEventBus(),
		registry: NewSessionRegistry(),
		received: make(map[events.EventType]chan events.Event),
	}
	h.listener = NewListener(cfg, h.bus, h.registry)

	for _, et := range types {
		ch := make(chan events.Event, 16)
		h.received[et] = ch
		h.bus.Subscribe(et, "test."+string(et), func(ctx context.Context, e events.Event) error {
			ch <- e
			return nil
		})
	}
	return h
}

// connect opens a piped connection, runs the handshake as the client,
// and returns the client half.
func (h *testHarness) connect(t *testing.T) net.Conn {
	t.Helper()

	server, client := net.Pipe()
	go h.listener.handleConnection(context.Background(), server)

	if err := protocol.WriteFrame(client, protocol.Frame{ID: 1, Kind: protocol.KindAuth, Body: "secret"}); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := protocol.ReadFrame(client); err != nil {
			t.Fatalf("handshake read %d: %v", i, err)
		}
	}
	return client
}

func (h *testHarness) waitEvent(t *testing.T, et events.EventType) events.Event {
	t.Helper()
	select {
	case e := <-h.received[et]:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s event", et)
		return events.Event{}
	}
}

func TestRequestTrackedAsPending(t *testing.T) {
	h := newHarness(t, events.EventClientConnected, events.EventClientRequest)
	client := h.connect(t)
	defer client.Close()

	connected := h.waitEvent(t, events.EventClientConnected)
	sid := connected.Payload.(events.ClientConnectedPayload).SessionID

	if err := protocol.WriteFrame(client, protocol.Frame{ID: 42, Kind: protocol.KindExecCommand, Body: "status"}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	e := h.waitEvent(t, events.EventClientRequest)
	payload := e.Payload.(events.ClientRequestPayload)
	if payload.SessionID != sid {
		t.Fatalf("session id: got %d want %d", payload.SessionID, sid)
	}
	if payload.Message.ID != 42 || payload.Message.Body != "status" {
		t.Fatalf("unexpected message: %#v", payload.Message)
	}
	if payload.Message.Size != int32(10+len("status")) {
		t.Fatalf("derived size: got %d", payload.Message.Size)
	}

	sess, ok := h.registry.Get(sid)
	if !ok {
		t.Fatalf("session not registered")
	}
	pending := sess.Pending()
	if len(pending) != 1 || pending[0].Frame.ID != 42 {
		t.Fatalf("unexpected pending set: %#v", pending)
	}
}

func TestReplyClearsPending(t *testing.T) {
	h := newHarness(t, events.EventClientConnected, events.EventClientRequest)
	client := h.connect(t)
	defer client.Close()

	connected := h.waitEvent(t, events.EventClientConnected)
	sid := connected.Payload.(events.ClientConnectedPayload).SessionID

	if err := protocol.WriteFrame(client, protocol.Frame{ID: 42, Kind: protocol.KindExecCommand, Body: "status"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	h.waitEvent(t, events.EventClientRequest)

	sess, _ := h.registry.Get(sid)

	replyErr := make(chan error, 1)
	go func() {
		replyErr <- sess.Reply(42, "ok")
	}()

	f, err := protocol.ReadFrame(client)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if f.Kind != protocol.KindResponseValue || f.ID != 42 || f.Body != "ok" {
		t.Fatalf("unexpected reply frame: %#v", f)
	}
	if err := <-replyErr; err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if sess.PendingCount() != 0 {
		t.Fatalf("pending not cleared after reply")
	}
}

func TestResponseValueEchoedBack(t *testing.T) {
	h := newHarness(t, events.EventClientConnected)
	client := h.connect(t)
	defer client.Close()

	h.waitEvent(t, events.EventClientConnected)

	if err := protocol.WriteFrame(client, protocol.Frame{ID: 7, Kind: protocol.KindResponseValue, Body: "tail"}); err != nil {
		t.Fatalf("write echo: %v", err)
	}

	f, err := protocol.ReadFrame(client)
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if f.ID != 7 || f.Kind != protocol.KindResponseValue || f.Body != "tail" {
		t.Fatalf("echo mismatch: %#v", f)
	}
}

func TestDisconnectEmitsClosedAndUnregisters(t *testing.T) {
	h := newHarness(t, events.EventClientConnected, events.EventClientClosed)
	client := h.connect(t)

	connected := h.waitEvent(t, events.EventClientConnected)
	sid := connected.Payload.(events.ClientConnectedPayload).SessionID

	client.Close()

	closed := h.waitEvent(t, events.EventClientClosed)
	payload := closed.Payload.(events.ClientClosedPayload)
	if payload.SessionID != sid {
		t.Fatalf("closed for wrong session: %d", payload.SessionID)
	}
	if _, ok := h.registry.Get(sid); ok {
		t.Fatalf("session still registered after disconnect")
	}
}

func TestSessionFaultIsolation(t *testing.T) {
	h := newHarness(t, events.EventClientConnected, events.EventClientClosed, events.EventClientRequest)

	clientA := h.connect(t)
	sidA := h.waitEvent(t, events.EventClientConnected).Payload.(events.ClientConnectedPayload).SessionID
	clientB := h.connect(t)
	sidB := h.waitEvent(t, events.EventClientConnected).Payload.(events.ClientConnectedPayload).SessionID
	defer clientB.Close()

	if err := protocol.WriteFrame(clientB, protocol.Frame{ID: 9, Kind: protocol.KindExecCommand, Body: "stats"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	h.waitEvent(t, events.EventClientRequest)

	// Tear down A; B must be untouched.
	clientA.Close()
	closed := h.waitEvent(t, events.EventClientClosed)
	if got := closed.Payload.(events.ClientClosedPayload).SessionID; got != sidA {
		t.Fatalf("closed event for wrong session: %d", got)
	}

	sessB, ok := h.registry.Get(sidB)
	if !ok {
		t.Fatalf("session B lost after A's teardown")
	}
	if sessB.PendingCount() != 1 {
		t.Fatalf("session B pending set disturbed: %d", sessB.PendingCount())
	}
}

func TestUnknownKindIgnored(t *testing.T) {
	h := newHarness(t, events.EventClientConnected, events.EventClientRequest)
	client := h.connect(t)
	defer client.Close()

	connected := h.waitEvent(t, events.EventClientConnected)
	sid := connected.Payload.(events.ClientConnectedPayload).SessionID

	if err := protocol.WriteFrame(client, protocol.Frame{ID: 3, Kind: protocol.Kind(99), Body: "junk"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	// Follow with a real command so we can observe ordering.
	if err := protocol.WriteFrame(client, protocol.Frame{ID: 4, Kind: protocol.KindExecCommand, Body: "echo"}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	e := h.waitEvent(t, events.EventClientRequest)
	if got := e.Payload.(events.ClientRequestPayload).Message.ID; got != 4 {
		t.Fatalf("expected request 4 only, got %d", got)
	}

	sess, _ := h.registry.Get(sid)
	if sess.PendingCount() != 1 {
		t.Fatalf("unknown kind affected pending set: %d", sess.PendingCount())
	}
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewSessionRegistry()
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	r.Register(NewSession(1, a, 0))
	r.Register(NewSession(2, b, 0))
	if r.Count() != 2 {
		t.Fatalf("count: got %d", r.Count())
	}

	r.CloseAll()
	if r.Count() != 0 {
		t.Fatalf("sessions left after CloseAll: %d", r.Count())
	}
}
