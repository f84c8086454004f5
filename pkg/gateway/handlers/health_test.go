package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/callsim/pkg/gateway/config"
	"github.com/vango-go/callsim/pkg/gateway/lifecycle"
	"github.com/vango-go/callsim/pkg/gateway/live/sessions"
)

func readyConfig() config.Config {
	return config.Config{
		MaxBodyBytes:         1 << 20,
		LiveMaxMessageBytes:  1 << 20,
		LiveHandshakeTimeout: time.Second,
		LiveMaxDuration:      time.Hour,
	}
}

func decodeReady(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp
}

func TestHealthHandler_OK(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_Ready(t *testing.T) {
	tracker := sessions.NewTracker()
	unregister := tracker.Register("s1", sessions.Handle{ScenarioKey: "fire"})
	defer unregister()

	h := ReadyHandler{
		Config:       readyConfig(),
		Features:     Features{Synthesis: true, Persistence: true},
		Lifecycle:    &lifecycle.Lifecycle{},
		LiveSessions: tracker,
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	resp := decodeReady(t, rr)
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("ok=false: %v", resp)
	}
	if n, _ := resp["live_sessions"].(float64); n != 1 {
		t.Fatalf("live_sessions=%v, want 1", resp["live_sessions"])
	}
	features, _ := resp["features"].(map[string]any)
	if features["synthesis"] != true || features["persistence"] != true || features["analysis"] != false {
		t.Fatalf("features=%v", features)
	}
}

func TestReadyHandler_DrainingNotReady(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	h := ReadyHandler{Config: readyConfig(), Lifecycle: lc}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	resp := decodeReady(t, rr)
	if resp["draining"] != true || resp["ok"] != false {
		t.Fatalf("resp=%v", resp)
	}
}

func TestReadyHandler_BadConfigNotReady(t *testing.T) {
	cfg := readyConfig()
	cfg.LiveMaxDuration = 0
	rr := httptest.NewRecorder()
	ReadyHandler{Config: cfg}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if issues, _ := decodeReady(t, rr)["issues"].([]any); len(issues) != 1 {
		t.Fatalf("issues=%v", issues)
	}
}
