// Package session runs one live call over a websocket: inbound realtime
// events feed a reconcile engine, and transcript, handoff and audio updates
// stream back to the client until the call ends and is saved.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/callsim/pkg/core/calls"
	"github.com/vango-go/callsim/pkg/core/realtime"
	"github.com/vango-go/callsim/pkg/core/reconcile"
	"github.com/vango-go/callsim/pkg/core/transcript"
	"github.com/vango-go/callsim/pkg/gateway/live/protocol"
)

const outboundPriorityQueueSize = 16

var (
	errBackpressure = errors.New("outbound queue is full")
	errOutputClosed = errors.New("session output closed")
)

// Recorder persists a finished call. *calls.Recorder implements it.
type Recorder interface {
	Enabled() bool
	Record(ctx context.Context, s calls.Session) (calls.Outcome, error)
}

type Config struct {
	MaxMessageBytes     int64
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	MaxSessionDuration  time.Duration
	TeardownTimeout     time.Duration
	GuardrailTimeout    time.Duration
	SynthesisTimeout    time.Duration
	MaxEventsPerSecond  int
	MaxBytesPerSecond   int64
	InboundBurstSeconds int
	OutboundQueueSize   int
}

type Dependencies struct {
	Conn        *websocket.Conn
	Logger      *slog.Logger
	Synthesizer reconcile.Synthesizer
	// Voice resolves the voice id for an agent within this call's scenario.
	Voice     func(agentName string) string
	Recorder  Recorder
	Hello     protocol.ClientHello
	SessionID string
	RequestID string
	Config    Config
	StartTime time.Time
	Now       func() time.Time
	// OnAgentChange is called on the engine goroutine after a handoff.
	OnAgentChange func(agent string)
}

type LiveSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	synth     reconcile.Synthesizer
	voice     func(string) string
	recorder  Recorder
	hello     protocol.ClientHello
	sessionID string
	cfg       Config
	startTime time.Time
	now       func() time.Time
	onAgent   func(string)

	ctx    context.Context
	cancel context.CancelFunc

	outMu            sync.Mutex
	outClosed        bool
	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame
	dropped          int

	limiter       *inboundLimiter
	lastRateWarn  time.Time
	lastDropWarn  time.Time
	eventsApplied int
}

type outboundFrame struct {
	textPayload []byte
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

const (
	endReasonEndCall       = "end_call"
	endReasonClientClosed  = "client_closed"
	endReasonCanceled      = "canceled"
	endReasonMaxDuration   = "max_duration"
	endReasonWriteFailed   = "write_failed"
	endReasonProtocolError = "protocol_error"
)

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if len(deps.Hello.Agents) == 0 {
		return nil, fmt.Errorf("agent roster is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 256
	}
	if deps.Config.TeardownTimeout <= 0 {
		deps.Config.TeardownTimeout = time.Minute
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}
	if deps.StartTime.IsZero() {
		deps.StartTime = time.Now()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	logger := deps.Logger.With("session_id", deps.SessionID)
	if deps.RequestID != "" {
		logger = logger.With("request_id", deps.RequestID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		conn:             deps.Conn,
		logger:           logger,
		synth:            deps.Synthesizer,
		voice:            deps.Voice,
		recorder:         deps.Recorder,
		hello:            deps.Hello,
		sessionID:        deps.SessionID,
		cfg:              deps.Config,
		startTime:        deps.StartTime,
		now:              deps.Now,
		onAgent:          deps.OnAgentChange,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		limiter:          newInboundLimiter(deps.Now, deps.Config.MaxEventsPerSecond, deps.Config.MaxBytesPerSecond, deps.Config.InboundBurstSeconds),
	}, nil
}

// Run blocks until the call ends, then drains pending synthesis, saves the
// call and closes the connection.
func (s *LiveSession) Run() error {
	defer s.cancel()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}

	engine := reconcile.New(reconcile.Deps{
		Logger:           s.logger,
		Now:              s.now,
		Synthesizer:      s.synth,
		Voice:            s.voice,
		Roster:           s.hello.Agents,
		Active:           s.hello.ActiveAgent,
		Observer:         sessionObserver{s: s},
		SynthesisTimeout: s.cfg.SynthesisTimeout,
		GuardrailTimeout: s.cfg.GuardrailTimeout,
	})
	defer engine.Close()

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	engine.Begin()

	var maxDuration <-chan time.Time
	if s.cfg.MaxSessionDuration > 0 {
		timer := time.NewTimer(s.cfg.MaxSessionDuration)
		defer timer.Stop()
		maxDuration = timer.C
	}

	var (
		reason     string
		runErr     error
		writerDone bool
	)
loop:
	for {
		select {
		case <-s.ctx.Done():
			reason = endReasonCanceled
			break loop
		case err := <-writerErrCh:
			writerDone = true
			runErr = err
			reason = endReasonWriteFailed
			break loop
		case <-maxDuration:
			_ = s.sendWarning("max_duration", "call reached the maximum duration")
			reason = endReasonMaxDuration
			break loop
		case c := <-engine.Completions():
			engine.Complete(c)
		case frame, ok := <-readCh:
			if !ok {
				reason = endReasonClientClosed
				break loop
			}
			if frame.err != nil {
				if !websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warn("live read failed", "error", frame.err)
				}
				reason = endReasonClientClosed
				break loop
			}
			if end := s.handleFrame(engine, frame); end != "" {
				reason = end
				break loop
			}
		}
	}

	s.teardown(engine, reason, writerDone, writerErrCh)
	return runErr
}

// handleFrame applies one client frame and returns a non-empty end reason
// when the call must stop.
func (s *LiveSession) handleFrame(engine *reconcile.Engine, frame inboundFrame) string {
	if frame.messageType != websocket.TextMessage {
		_ = s.sendSessionError("unsupported", "binary frames are not supported", false, nil)
		return ""
	}
	if !s.limiter.Allow(len(frame.data)) {
		s.warnRateLimited()
		return ""
	}

	decoded, err := protocol.DecodeClientMessage(frame.data)
	if err != nil {
		var de *protocol.DecodeError
		if realtime.EventType(frame.data) == "control" && errors.As(err, &de) {
			_ = s.sendSessionError(de.Code, de.Error(), true, map[string]any{"param": de.Param})
			return endReasonProtocolError
		}
		s.logger.Warn("dropped malformed client frame", "error", err, "bytes", len(frame.data))
		return ""
	}

	switch msg := decoded.(type) {
	case protocol.RealtimeEvent:
		if err := engine.HandleEvent(msg.Raw); err == nil {
			s.eventsApplied++
		}
	case protocol.ClientControl:
		switch msg.Op {
		case protocol.ControlPing:
			_ = s.sendJSONPriority(protocol.ServerPong{Type: "pong"})
		case protocol.ControlEndCall:
			return endReasonEndCall
		}
	case protocol.ClientHello:
		_ = s.sendSessionError("bad_request", "hello already received", false, nil)
	}
	return ""
}

func (s *LiveSession) teardown(engine *reconcile.Engine, reason string, writerDone bool, writerErrCh <-chan error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TeardownTimeout)
	defer cancel()

	if !engine.Drain(ctx) {
		s.logger.Warn("teardown stopped waiting for speech synthesis", "timeout", s.cfg.TeardownTimeout)
	}

	items := engine.Snapshot()
	outcome, err := s.record(ctx, engine, items)
	if err != nil {
		_ = s.sendWarning("save_failed", "call was not fully saved")
	}
	if outcome.CallID != "" {
		_ = s.sendJSON(protocol.ServerCallSaved{
			Type:          "call_saved",
			CallID:        outcome.CallID,
			RecordingURL:  outcome.RecordingURL,
			TranscriptURL: outcome.TranscriptURL,
		})
	}

	s.closeOutbound()
	if !writerDone {
		timer := time.NewTimer(2 * s.cfg.WriteTimeout)
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
		timer.Stop()
	}
	s.cancel()

	s.logger.Info("live call ended",
		"reason", reason,
		"duration_ms", s.now().Sub(s.startTime).Milliseconds(),
		"items", len(items),
		"events_applied", s.eventsApplied,
		"dropped_frames", s.droppedFrames(),
		"call_id", outcome.CallID,
	)
}

func (s *LiveSession) record(ctx context.Context, engine *reconcile.Engine, items []transcript.Item) (calls.Outcome, error) {
	if s.recorder == nil || !s.recorder.Enabled() {
		return calls.Outcome{}, nil
	}
	if !hasMessages(items) {
		s.logger.Info("nothing said, call not saved")
		return calls.Outcome{}, nil
	}
	clips := engine.Audio()
	audio := make([][]byte, 0, len(clips))
	for _, clip := range clips {
		audio = append(audio, clip.Audio)
	}
	outcome, err := s.recorder.Record(ctx, calls.Session{
		SessionID:   s.sessionID,
		ScenarioKey: s.hello.ScenarioKey,
		Operator:    s.hello.Operator,
		Items:       items,
		Audio:       audio,
		StartedAt:   s.startTime,
		EndedAt:     s.now(),
	})
	if err != nil {
		s.logger.Warn("saving call failed", "error", err)
	}
	return outcome, err
}

func hasMessages(items []transcript.Item) bool {
	for _, it := range items {
		if it.Kind == transcript.KindMessage && !it.Hidden {
			return true
		}
	}
	return false
}

func (s *LiveSession) warnRateLimited() {
	now := s.now()
	if !s.lastRateWarn.IsZero() && now.Sub(s.lastRateWarn) < time.Second {
		return
	}
	s.lastRateWarn = now
	s.logger.Warn("inbound events rate limited")
	_ = s.sendWarning("rate_limited", "too many realtime events; some were dropped")
}

// warnDropped logs outbound backpressure at most once per second.
func (s *LiveSession) warnDropped(frameType string) {
	now := s.now()
	if !s.lastDropWarn.IsZero() && now.Sub(s.lastDropWarn) < time.Second {
		return
	}
	s.lastDropWarn = now
	s.logger.Warn("outbound queue full, frames dropped", "frame_type", frameType, "dropped_frames", s.droppedFrames())
}

func (s *LiveSession) sendWarning(code, message string) error {
	return s.sendJSON(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

func (s *LiveSession) sendSessionError(code, message string, close bool, details map[string]any) error {
	msg := protocol.ServerError{Type: "error", Scope: "session", Code: code, Message: message, Close: close, Details: details}
	if close {
		return s.sendJSONPriority(msg)
	}
	return s.sendJSON(msg)
}

func (s *LiveSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{textPayload: payload})
}

func (s *LiveSession) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(outboundFrame{textPayload: payload})
}

func (s *LiveSession) enqueueNormal(frame outboundFrame) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.outClosed {
		return errOutputClosed
	}
	select {
	case s.outboundNormal <- frame:
		return nil
	default:
		s.dropped++
		return errBackpressure
	}
}

// enqueuePriority evicts the oldest priority frames to make room.
func (s *LiveSession) enqueuePriority(frame outboundFrame) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.outClosed {
		return errOutputClosed
	}
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
			s.dropped++
		default:
		}
	}
	return errBackpressure
}

func (s *LiveSession) closeOutbound() {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.outClosed {
		return
	}
	s.outClosed = true
	close(s.outboundPriority)
	close(s.outboundNormal)
}

func (s *LiveSession) droppedFrames() int {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return s.dropped
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// Cancel ends the call from outside; the call is still saved.
func (s *LiveSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

func (s *LiveSession) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	return s.sendWarning(code, message)
}

// sessionObserver forwards engine notifications as server frames. It runs on
// the engine goroutine and never blocks; frames that do not fit are dropped
// and the next update for the same item carries its full state.
type sessionObserver struct {
	s *LiveSession
}

func (o sessionObserver) ItemChanged(item transcript.Item) {
	o.emit("transcript_item", protocol.ServerTranscriptItem{Type: "transcript_item", Item: item})
}

func (o sessionObserver) AgentChanged(from, to string) {
	if o.s.onAgent != nil {
		o.s.onAgent(to)
	}
	o.emit("agent_changed", protocol.ServerAgentChanged{Type: "agent_changed", From: from, To: to})
}

func (o sessionObserver) AudioReady(clip reconcile.AudioClip) {
	o.emit("assistant_audio", protocol.ServerAssistantAudio{
		Type:     "assistant_audio",
		ItemID:   clip.ItemID,
		VoiceID:  clip.VoiceID,
		Format:   protocol.AudioFormatMP3,
		AudioB64: base64.StdEncoding.EncodeToString(clip.Audio),
	})
}

func (o sessionObserver) emit(frameType string, v any) {
	err := o.s.sendJSON(v)
	if errors.Is(err, errBackpressure) {
		o.s.warnDropped(frameType)
	}
}
