package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/callsim/pkg/core/calls"
	"github.com/vango-go/callsim/pkg/core/scenario"
	"github.com/vango-go/callsim/pkg/gateway/config"
	"github.com/vango-go/callsim/pkg/gateway/handlers"
	"github.com/vango-go/callsim/pkg/gateway/lifecycle"
	"github.com/vango-go/callsim/pkg/gateway/live/sessions"
	"github.com/vango-go/callsim/pkg/gateway/metrics"
	"github.com/vango-go/callsim/pkg/gateway/mw"
	"github.com/vango-go/callsim/pkg/gateway/ratelimit"
	"github.com/vango-go/callsim/pkg/store"
)

// Deps are the collaborators behind the HTTP surface. Nil fields disable the
// matching feature.
type Deps struct {
	Store            store.CallStore
	Recorder         *calls.Recorder
	Synthesizer      handlers.Synthesizer
	SynthesisEnabled bool
	AnalysisEnabled  bool
	Scenarios        *scenario.Catalog
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	deps   Deps
	mux    *http.ServeMux

	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker
	limiter      *ratelimit.Limiter
	metrics      *metrics.Metrics
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Scenarios == nil {
		deps.Scenarios = scenario.Default()
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		deps:         deps,
		mux:          http.NewServeMux(),
		lifecycle:    &lifecycle.Lifecycle{},
		liveSessions: sessions.NewTracker(),
	}
	if cfg.MetricsEnabled {
		s.metrics = metrics.New("callsim")
	}
	if limits := (ratelimit.Config{
		RPS:                cfg.ClientRPS,
		Burst:              cfg.ClientBurst,
		MaxConcurrentCalls: cfg.MaxLiveCallsPerClient,
	}); limits.Enabled() {
		s.limiter = ratelimit.New(limits)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/", handlers.NotFoundHandler{})
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{
		Config: s.cfg,
		Features: handlers.Features{
			Synthesis:   s.deps.SynthesisEnabled,
			Persistence: s.deps.Recorder.Enabled(),
			Analysis:    s.deps.AnalysisEnabled,
		},
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
	})

	synth := s.metrics.InstrumentSynthesizer(s.deps.Synthesizer)
	live := handlers.LiveHandler{
		Config:           s.cfg,
		Logger:           s.logger,
		Lifecycle:        s.lifecycle,
		LiveSessions:     s.liveSessions,
		Synthesizer:      synth,
		SynthesisEnabled: s.deps.SynthesisEnabled,
		Scenarios:        s.deps.Scenarios,
		Limiter:          s.limiter,
		Metrics:          s.metrics,
	}
	if s.deps.Recorder != nil {
		live.Recorder = s.metrics.InstrumentRecorder(s.deps.Recorder)
	}
	s.mux.Handle("GET /v1/calls/live", live)
	s.mux.Handle("GET /v1/calls/live/active", handlers.ActiveCallsHandler{LiveSessions: s.liveSessions})

	callsHandler := handlers.CallsHandler{
		Store:  s.deps.Store,
		Logger: s.logger,
	}
	if s.deps.Recorder != nil {
		callsHandler.Analyzer = s.deps.Recorder
	}
	s.mux.HandleFunc("GET /v1/calls", callsHandler.List)
	s.mux.HandleFunc("POST /v1/calls", callsHandler.Create)
	s.mux.HandleFunc("GET /v1/calls/latest", callsHandler.Latest)
	s.mux.HandleFunc("GET /v1/calls/{id}", callsHandler.Get)
	s.mux.HandleFunc("POST /v1/calls/{id}/analyze", callsHandler.Analyze)

	s.mux.Handle("/v1/tts", handlers.TTSHandler{
		Synthesizer: synth,
		Timeout:     s.cfg.TTSTimeout,
		Logger:      s.logger,
	})
	s.mux.Handle("GET /v1/scenarios", handlers.ScenariosHandler{Catalog: s.deps.Scenarios})
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.metrics.Middleware(s.mux)
	h = mw.MaxBody(s.cfg.MaxBodyBytes, h)
	h = mw.RateLimit(s.limiter, s.metrics, h)
	h = mw.ProtocolVersion(h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining stops accepting new live calls.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

func (s *Server) WarnLiveSessionsDraining() int {
	return s.liveSessions.WarnAll("draining", "server is shutting down; finish the call")
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.liveSessions.CancelAll()
}

func (s *Server) LiveSessionCount() int {
	return s.liveSessions.Count()
}
