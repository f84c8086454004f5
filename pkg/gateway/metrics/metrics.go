// Package metrics exposes Prometheus counters for the HTTP surface, live
// calls, speech synthesis and call persistence. Every method is safe on a nil
// *Metrics so collaborators can be wired without it.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/callsim/pkg/core/calls"
	"github.com/vango-go/callsim/pkg/core/voice/tts"
)

type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	LiveCallsActive  prometheus.Gauge
	LiveCallsTotal   *prometheus.CounterVec
	LiveCallDuration prometheus.Histogram

	SynthesisTotal    *prometheus.CounterVec
	SynthesisDuration prometheus.Histogram

	CallsRecordedTotal *prometheus.CounterVec

	RateLimitHits *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callsim"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route pattern and status",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"route"},
		),
		LiveCallsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_calls_active",
				Help:      "Live calls currently connected",
			},
		),
		LiveCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_calls_total",
				Help:      "Finished live calls by outcome",
			},
			[]string{"outcome"},
		),
		LiveCallDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "live_call_duration_seconds",
				Help:      "Live call duration in seconds",
				Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
			},
		),
		SynthesisTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "synthesis_requests_total",
				Help:      "Speech synthesis requests by result",
			},
			[]string{"result"},
		),
		SynthesisDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "synthesis_duration_seconds",
				Help:      "Speech synthesis latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		CallsRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_recorded_total",
				Help:      "Call records written at session teardown by result",
			},
			[]string{"result"},
		),
		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by a per-client limit",
			},
			[]string{"limit_type"},
		),
	}

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.LiveCallsActive,
		m.LiveCallsTotal,
		m.LiveCallDuration,
		m.SynthesisTotal,
		m.SynthesisDuration,
		m.CallsRecordedTotal,
		m.RateLimitHits,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) RecordLiveCallStart() {
	if m == nil {
		return
	}
	m.LiveCallsActive.Inc()
}

func (m *Metrics) RecordLiveCallEnd(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LiveCallsActive.Dec()
	m.LiveCallsTotal.WithLabelValues(outcome).Inc()
	m.LiveCallDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordSynthesis(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SynthesisTotal.WithLabelValues(result).Inc()
	m.SynthesisDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordCallRecorded(result string) {
	if m == nil {
		return
	}
	m.CallsRecordedTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRateLimitHit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}

// Middleware records every non-websocket request under the ServeMux pattern
// that served it. It must wrap the mux directly so the pattern is visible
// once the mux returns.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.RecordRequest(r.Pattern, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func isWebSocketUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// Synthesizer matches the speech synthesis collaborator used by the live
// sessions and the TTS endpoint.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

type instrumentedSynthesizer struct {
	next Synthesizer
	m    *Metrics
}

// InstrumentSynthesizer counts every synthesis by result: ok, empty,
// unavailable or error.
func (m *Metrics) InstrumentSynthesizer(next Synthesizer) Synthesizer {
	if m == nil || next == nil {
		return next
	}
	return instrumentedSynthesizer{next: next, m: m}
}

func (s instrumentedSynthesizer) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	start := time.Now()
	audio, err := s.next.Synthesize(ctx, text, voiceID)
	result := "ok"
	switch {
	case errors.Is(err, tts.ErrUnavailable):
		result = "unavailable"
	case err != nil:
		result = "error"
	case len(audio) == 0:
		result = "empty"
	}
	s.m.RecordSynthesis(result, time.Since(start))
	return audio, err
}

// Recorder matches the teardown persistence collaborator of a live session.
type Recorder interface {
	Enabled() bool
	Record(ctx context.Context, s calls.Session) (calls.Outcome, error)
}

type instrumentedRecorder struct {
	next Recorder
	m    *Metrics
}

// InstrumentRecorder counts teardown saves by result.
func (m *Metrics) InstrumentRecorder(next Recorder) Recorder {
	if m == nil || next == nil {
		return next
	}
	return instrumentedRecorder{next: next, m: m}
}

func (r instrumentedRecorder) Enabled() bool { return r.next.Enabled() }

func (r instrumentedRecorder) Record(ctx context.Context, s calls.Session) (calls.Outcome, error) {
	out, err := r.next.Record(ctx, s)
	switch {
	case err != nil:
		r.m.RecordCallRecorded("error")
	case out.CallID != "":
		r.m.RecordCallRecorded("saved")
	case out.RecordingURL != "" || out.TranscriptURL != "":
		r.m.RecordCallRecorded("artifacts_only")
	default:
		r.m.RecordCallRecorded("skipped")
	}
	return out, err
}
