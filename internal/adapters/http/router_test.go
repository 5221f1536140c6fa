package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/Jingle/internal/adapters/signal"
	"github.com/dkeye/Jingle/internal/config"
	"github.com/dkeye/Jingle/internal/negotiate"
)

func testRouter(t *testing.T, servers []config.TURNServer) (http.Handler, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Mode = "test"
	cfg.Secret = "s3cret"
	cfg.TURN.Servers = servers
	sb := signal.NewSwitchboard(signal.Options{Domain: cfg.Switchboard.Domain}, nil)
	return SetupRouter(context.Background(), cfg, sb), RelayToken(cfg.Secret, cfg.Switchboard.Domain)
}

func TestCreateSessionGrant(t *testing.T) {
	r, token := testRouter(t, []config.TURNServer{
		{URL: "turn:192.0.2.9:3478?transport=tcp"},
		{URL: "turn:192.0.2.5:3479", Username: "u", Password: "p"},
	})

	req := httptest.NewRequest(http.MethodGet, "/create_session", nil)
	req.Header.Set(relayAuthHeaderLong, token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	g, err := negotiate.ParseRelayGrant(strings.NewReader(w.Body.String()))
	if err != nil {
		t.Fatalf("ParseRelayGrant() error = %v", err)
	}
	if g.IP != "192.0.2.5" || g.UDPPort != 3479 || g.Username != "u" || g.Password != "p" {
		t.Errorf("grant = %+v", g)
	}
}

func TestCreateSessionAuth(t *testing.T) {
	r, _ := testRouter(t, []config.TURNServer{{URL: "turn:192.0.2.5:3478"}})

	req := httptest.NewRequest(http.MethodGet, "/create_session", nil)
	req.Header.Set(relayAuthHeader, "wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestCreateSessionWithoutTURN(t *testing.T) {
	r, token := testRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/create_session", nil)
	req.Header.Set(relayAuthHeader, token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestRelayToken(t *testing.T) {
	if RelayToken("", "localhost") != "" {
		t.Error("token without a secret")
	}
	a, b := RelayToken("s", "a.example"), RelayToken("s", "b.example")
	if a == "" || a == b || a != RelayToken("s", "a.example") {
		t.Errorf("tokens %q, %q", a, b)
	}
}

func TestHealthz(t *testing.T) {
	r, _ := testRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"online":0`) {
		t.Errorf("healthz = %d %s", w.Code, w.Body.String())
	}
}
