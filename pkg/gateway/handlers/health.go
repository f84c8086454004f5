package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/callsim/pkg/gateway/config"
	"github.com/vango-go/callsim/pkg/gateway/lifecycle"
	"github.com/vango-go/callsim/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Features reports which optional collaborators are wired.
type Features struct {
	Synthesis   bool `json:"synthesis"`
	Persistence bool `json:"persistence"`
	Analysis    bool `json:"analysis"`
}

type ReadyHandler struct {
	Config       config.Config
	Features     Features
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		Draining     bool     `json:"draining"`
		LiveSessions int      `json:"live_sessions"`
		Features     Features `json:"features"`
		Issues       []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.LiveMaxMessageBytes <= 0 {
		issues = append(issues, "live max message bytes must be > 0")
	}
	if h.Config.LiveHandshakeTimeout <= 0 {
		issues = append(issues, "live handshake timeout must be > 0")
	}
	if h.Config.LiveMaxDuration <= 0 {
		issues = append(issues, "live max duration must be > 0")
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case len(issues) > 0:
		status = http.StatusInternalServerError
	case draining:
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:           ok,
		Draining:     draining,
		LiveSessions: h.LiveSessions.Count(),
		Features:     h.Features,
		Issues:       issues,
	})
}
