package api

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rcond-project/rcond/internal/config"
	"github.com/rcond-project/rcond/internal/events"
	"github.com/rcond-project/rcond/internal/network"
	"github.com/rcond-project/rcond/internal/protocol"
	"github.com/rcond-project/rcond/internal/server"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *server.Manager, http.Handler) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Rcon.Password = "secret"
	if mutate != nil {
		mutate(cfg)
	}

	manager := server.NewManager(cfg, events.NewEventBus())
	s := NewServer(cfg, manager)
	return s, manager, s.setupRouter()
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	_, _, router := newTestServer(t, func(cfg *config.Config) {
		cfg.ApplicationData.API.AuthDisabled = false
		cfg.ApplicationData.API.Token = "api-token"
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status: got %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	_, _, router := newTestServer(t, func(cfg *config.Config) {
		cfg.ApplicationData.API.AuthDisabled = false
		cfg.ApplicationData.API.Token = "api-token"
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d want 401", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: got %d want 401", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer api-token")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token: got %d want 200", w.Code)
	}
}

func TestGetSessions(t *testing.T) {
	_, manager, router := newTestServer(t, nil)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	sess := network.NewSession(1, a, time.Second)
	sess.TrackRequest(protocol.Frame{ID: 42, Kind: protocol.KindExecCommand, Body: "status"})
	manager.Registry().Register(sess)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("sessions status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"total":1`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestGetSessionNotFound(t *testing.T) {
	_, _, router := newTestServer(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/99", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: got %d want 404", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/notanumber", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want 400", w.Code)
	}
}

func TestPostReplyUnknownSession(t *testing.T) {
	_, _, router := newTestServer(t, nil)

	body := strings.NewReader(`{"request_id": 42, "body": "ok"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/5/reply", body)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: got %d want 404", w.Code)
	}
}

func TestGetCommandsWithoutAudit(t *testing.T) {
	_, _, router := newTestServer(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/commands", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d want 503", w.Code)
	}
}
