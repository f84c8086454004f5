package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/callsim/pkg/core"
	"github.com/vango-go/callsim/pkg/core/reconcile"
	"github.com/vango-go/callsim/pkg/core/scenario"
	"github.com/vango-go/callsim/pkg/gateway/config"
	"github.com/vango-go/callsim/pkg/gateway/lifecycle"
	"github.com/vango-go/callsim/pkg/gateway/live/protocol"
	"github.com/vango-go/callsim/pkg/gateway/live/session"
	"github.com/vango-go/callsim/pkg/gateway/live/sessions"
	"github.com/vango-go/callsim/pkg/gateway/metrics"
	"github.com/vango-go/callsim/pkg/gateway/mw"
	"github.com/vango-go/callsim/pkg/gateway/ratelimit"
)

// LiveHandler handles /v1/calls/live websocket sessions.
type LiveHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker

	Synthesizer      reconcile.Synthesizer
	SynthesisEnabled bool
	Scenarios        *scenario.Catalog
	Recorder         session.Recorder

	// Limiter caps concurrent calls per client; nil means unlimited.
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		methodNotAllowed(w, reqID)
		return
	}
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "server is draining", Code: "draining", RequestID: reqID}, 529)
		return
	}
	if !h.originAllowed(r) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin", RequestID: reqID}, http.StatusForbidden)
		return
	}
	slot := h.Limiter.AcquireCall(ratelimit.ClientKey(r), time.Now())
	if !slot.Allowed {
		h.Metrics.RecordRateLimitHit("live_calls")
		mw.WriteRateLimited(w, reqID, slot.RetryAfter)
		return
	}
	defer slot.Permit.Release()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxMessageBytes)
	}

	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", nil)
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", nil)
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			var details map[string]any
			if de.Param != "" {
				details = map[string]any{"param": de.Param}
			}
			h.writeWSError(conn, de.Code, de.Message, details)
			return
		}
		h.writeWSError(conn, "bad_request", "invalid hello frame", nil)
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", nil)
		return
	}

	sessionID := "s_" + strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
	ack := protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sessionID,
		ScenarioKey:     hello.ScenarioKey,
		ActiveAgent:     hello.ActiveAgent,
		Agents:          hello.Agents,
		Features: protocol.HelloAckFeatures{
			Synthesis:   h.SynthesisEnabled && h.Synthesizer != nil,
			Persistence: h.Recorder != nil && h.Recorder.Enabled(),
		},
		Limits: protocol.HelloAckLimits{
			MaxMessageBytes:    h.Config.LiveMaxMessageBytes,
			GuardrailTimeoutMS: h.Config.GuardrailTimeout.Milliseconds(),
			MaxDurationMS:      h.Config.LiveMaxDuration.Milliseconds(),
		},
	}
	if err := conn.WriteJSON(ack); err != nil {
		return
	}
	startAt := time.Now()
	_ = conn.SetReadDeadline(time.Time{})

	catalog := h.Scenarios
	scenarioKey := hello.ScenarioKey
	s, err := session.New(session.Dependencies{
		Conn:        conn,
		Logger:      h.Logger,
		Synthesizer: h.Synthesizer,
		Voice: func(agent string) string {
			return catalog.VoiceFor(scenarioKey, agent)
		},
		OnAgentChange: func(agent string) {
			h.LiveSessions.SetActiveAgent(sessionID, agent)
		},
		Recorder:  h.Recorder,
		Hello:     hello,
		SessionID: sessionID,
		RequestID: reqID,
		StartTime: startAt,
		Config: session.Config{
			MaxMessageBytes:     h.Config.LiveMaxMessageBytes,
			PingInterval:        h.Config.LivePingInterval,
			WriteTimeout:        h.Config.LiveWriteTimeout,
			MaxSessionDuration:  h.Config.LiveMaxDuration,
			TeardownTimeout:     h.Config.TeardownTimeout,
			GuardrailTimeout:    h.Config.GuardrailTimeout,
			SynthesisTimeout:    h.Config.TTSTimeout,
			MaxEventsPerSecond:  h.Config.LiveMaxEventsPerSecond,
			MaxBytesPerSecond:   h.Config.LiveMaxBytesPerSecond,
			InboundBurstSeconds: h.Config.LiveInboundBurstSeconds,
		},
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize live session", nil)
		return
	}

	unregister := h.LiveSessions.Register(sessionID, sessions.Handle{
		ScenarioKey: hello.ScenarioKey,
		ActiveAgent: hello.ActiveAgent,
		StartedAt:   startAt,
		Cancel:      s.Cancel,
		Warn:        s.SendWarning,
	})
	defer unregister()

	h.Metrics.RecordLiveCallStart()
	outcome := "ok"
	if err := s.Run(); err != nil {
		outcome = "error"
		if h.Logger != nil {
			h.Logger.Warn("live session ended with error", "session_id", sessionID, "request_id", reqID, "error", err)
		}
	}
	h.Metrics.RecordLiveCallEnd(outcome, time.Since(startAt))
}

// ActiveCallsHandler lists in-progress live calls.
type ActiveCallsHandler struct {
	LiveSessions *sessions.Tracker
}

func (h ActiveCallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, requestIDFromContext(r.Context()))
		return
	}
	list := h.LiveSessions.List()
	if list == nil {
		list = []sessions.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string, details map[string]any) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Scope: "session", Code: code, Message: message, Close: true, Details: details})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
