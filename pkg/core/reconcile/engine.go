// Package reconcile owns the per-call transcript state machine: it applies
// normalized realtime operations to the transcript and fires the side effects
// (speech synthesis, agent handoff) that follow from them.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vango-go/callsim/pkg/core/realtime"
	"github.com/vango-go/callsim/pkg/core/transcript"
)

// Synthesizer turns assistant text into audio. Implementations signal a
// temporarily unavailable service with tts.ErrUnavailable.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

type Deps struct {
	Logger      *slog.Logger
	Now         func() time.Time
	Synthesizer Synthesizer
	// Voice maps the active agent name to a voice id.
	Voice    func(agentName string) string
	Roster   []string
	Active   string
	Observer Observer

	SynthesisTimeout time.Duration
	GuardrailTimeout time.Duration
	NewID            func() string
}

type completionKind int

const (
	completionSynthesis completionKind = iota + 1
	completionGuardrailTimeout
)

// Completion is work finished off the engine goroutine that must be applied
// back on it with Engine.Complete.
type Completion struct {
	kind    completionKind
	itemID  string
	voiceID string
	audio   []byte
	err     error
}

// Engine is single-writer: HandleEvent, Apply and Complete must all be called
// from the same goroutine. Run provides such a loop.
type Engine struct {
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
	synth      Synthesizer
	voice      func(string) string
	observer   Observer
	synthTO    time.Duration
	guardTO    time.Duration
	store      *transcript.Store
	resolver   *realtime.Resolver
	normalizer *realtime.Normalizer

	roster []string
	active string

	dispatched   map[string]struct{}
	toolsSeen    map[string]struct{}
	placeholders map[string]struct{}
	guardTimers  map[string]*time.Timer

	audio    []AudioClip
	inflight int

	completions chan Completion
	done        chan struct{}
	closed      bool
}

func New(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Voice == nil {
		deps.Voice = func(string) string { return "" }
	}
	if deps.SynthesisTimeout <= 0 {
		deps.SynthesisTimeout = 30 * time.Second
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return "crumb_" + uuid.Must(uuid.NewV7()).String() }
	}

	roster := make([]string, 0, len(deps.Roster))
	for _, name := range deps.Roster {
		if name = strings.TrimSpace(name); name != "" {
			roster = append(roster, name)
		}
	}
	active := strings.TrimSpace(deps.Active)
	if active == "" && len(roster) > 0 {
		active = roster[0]
	}

	e := &Engine{
		logger:       deps.Logger,
		now:          deps.Now,
		newID:        deps.NewID,
		synth:        deps.Synthesizer,
		voice:        deps.Voice,
		observer:     deps.Observer,
		synthTO:      deps.SynthesisTimeout,
		guardTO:      deps.GuardrailTimeout,
		store:        transcript.NewStore(deps.Logger, deps.Now),
		roster:       roster,
		active:       active,
		dispatched:   make(map[string]struct{}),
		toolsSeen:    make(map[string]struct{}),
		placeholders: make(map[string]struct{}),
		guardTimers:  make(map[string]*time.Timer),
		completions:  make(chan Completion, 16),
		done:         make(chan struct{}),
	}
	e.resolver = realtime.NewResolver(e.store.Has)
	e.normalizer = realtime.NewNormalizer(e.resolver).WithLogger(e.logger)
	return e
}

// Begin records the initially selected agent on the timeline.
func (e *Engine) Begin() {
	if e.active == "" {
		return
	}
	e.emitAgentBreadcrumb(e.active)
}

// HandleEvent normalizes one raw event and applies the resulting operations.
// Dropped events are logged and returned as a *realtime.SkipError; they never
// affect existing state.
func (e *Engine) HandleEvent(data []byte) error {
	ops, err := e.normalizer.Normalize(data)
	if err != nil {
		var skip *realtime.SkipError
		if errors.As(err, &skip) && skip.Unknown {
			e.logger.Debug("dropped realtime event", "event_type", skip.EventType, "reason", skip.Reason)
		} else {
			e.logger.Warn("dropped realtime event", "event_type", realtime.EventType(data), "error", err)
		}
		return err
	}
	for _, op := range ops {
		e.Apply(op)
	}
	return nil
}

// Apply executes one operation against the transcript.
func (e *Engine) Apply(op realtime.Op) {
	switch o := op.(type) {
	case realtime.StartItem:
		e.startItem(o)
	case realtime.AppendDelta:
		e.appendDelta(o)
	case realtime.ReplaceFinal:
		e.replaceFinal(o)
	case realtime.SetStatus:
		e.setStatus(o)
	case realtime.SetGuardrail:
		e.setGuardrail(o)
	case realtime.EmitBreadcrumb:
		e.emitBreadcrumb(o.Title, o.Annotation, o.CreatedAt)
	case realtime.DetectedToolCall:
		e.toolCall(o)
	default:
		e.logger.Warn("unsupported transcript operation", "op", realtime.Name(op))
	}
}

func (e *Engine) startItem(op realtime.StartItem) {
	if op.ItemID == "" || e.store.Has(op.ItemID) {
		return
	}
	seed := transcript.Seed{
		Kind:      transcript.KindMessage,
		Role:      op.Role,
		Content:   op.InitialText,
		CreatedAt: op.CreatedAt,
	}
	if op.Role == transcript.RoleAssistant {
		seed.Guardrail = &transcript.Guardrail{Status: transcript.StatusInProgress}
	}
	item, created := e.store.Upsert(op.ItemID, seed)
	if !created {
		return
	}
	if op.Placeholder {
		e.placeholders[op.ItemID] = struct{}{}
	}
	if op.Role == transcript.RoleAssistant {
		e.armGuardrailTimeout(op.ItemID)
	}
	e.observer.ItemChanged(item)
}

func (e *Engine) appendDelta(op realtime.AppendDelta) {
	if op.Delta == "" {
		return
	}
	var (
		item transcript.Item
		ok   bool
	)
	if _, pending := e.placeholders[op.ItemID]; pending {
		delete(e.placeholders, op.ItemID)
		item, ok = e.store.ReplaceContent(op.ItemID, op.Delta)
	} else {
		item, ok = e.store.AppendContent(op.ItemID, op.Delta)
	}
	if ok {
		e.observer.ItemChanged(item)
	}
}

func (e *Engine) replaceFinal(op realtime.ReplaceFinal) {
	cur, ok := e.store.Get(op.ItemID)
	if !ok {
		e.logger.Warn("final text for unknown transcript item", "item_id", op.ItemID)
		return
	}
	_, placeholder := e.placeholders[op.ItemID]
	if op.Provisional && !placeholder && strings.HasPrefix(cur.Content, op.Text) {
		return
	}
	delete(e.placeholders, op.ItemID)
	if cur.Content == op.Text {
		return
	}
	if item, ok := e.store.ReplaceContent(op.ItemID, op.Text); ok {
		e.observer.ItemChanged(item)
	}
}

func (e *Engine) target(id string) (string, bool) {
	if id != "" {
		return id, true
	}
	last, ok := e.store.Last(transcript.RoleAssistant)
	if !ok {
		return "", false
	}
	return last.ID, true
}

func (e *Engine) setStatus(op realtime.SetStatus) {
	id, ok := e.target(op.ItemID)
	if !ok {
		e.logger.Debug("status for missing assistant message ignored", "status", op.Status)
		return
	}
	item, ok, changed := e.store.Patch(id, transcript.Patch{Status: op.Status})
	if !ok {
		return
	}
	if changed {
		e.observer.ItemChanged(item)
	}
	if e.synthesisEligible(item, op) {
		e.dispatchSynthesis(item)
	}
}

func (e *Engine) setGuardrail(op realtime.SetGuardrail) {
	id, ok := e.target(op.ItemID)
	if !ok {
		e.logger.Debug("guardrail verdict without assistant message ignored", "category", op.Patch.Category)
		return
	}
	cur, ok := e.store.Get(id)
	if !ok {
		e.logger.Warn("guardrail verdict for unknown transcript item", "item_id", id)
		return
	}
	if !cur.IsAssistantMessage() {
		e.logger.Debug("guardrail verdict for non-assistant item ignored", "item_id", id)
		return
	}
	patch := op.Patch
	item, _, changed := e.store.Patch(id, transcript.Patch{Guardrail: &patch})
	if item.Guardrail != nil && item.Guardrail.Status == transcript.StatusDone {
		e.disarmGuardrailTimeout(id)
	}
	if changed {
		e.observer.ItemChanged(item)
	}
}

func (e *Engine) armGuardrailTimeout(id string) {
	if e.guardTO <= 0 || e.closed {
		return
	}
	e.guardTimers[id] = time.AfterFunc(e.guardTO, func() {
		e.post(Completion{kind: completionGuardrailTimeout, itemID: id})
	})
}

func (e *Engine) disarmGuardrailTimeout(id string) {
	if t, ok := e.guardTimers[id]; ok {
		t.Stop()
		delete(e.guardTimers, id)
	}
}

func (e *Engine) post(c Completion) {
	select {
	case e.completions <- c:
	case <-e.done:
	}
}

// Completions delivers results of off-loop work. Receive from it in the
// engine's loop and pass each value to Complete.
func (e *Engine) Completions() <-chan Completion {
	return e.completions
}

// Complete applies a result produced off the engine goroutine.
func (e *Engine) Complete(c Completion) {
	switch c.kind {
	case completionSynthesis:
		e.completeSynthesis(c)
	case completionGuardrailTimeout:
		delete(e.guardTimers, c.itemID)
		item, ok := e.store.Get(c.itemID)
		if !ok || item.Guardrail == nil || item.Guardrail.Status == transcript.StatusDone {
			return
		}
		e.logger.Info("guardrail verdict timed out, defaulting to pass", "item_id", c.itemID)
		e.setGuardrail(realtime.SetGuardrail{
			ItemID: c.itemID,
			Patch:  transcript.Guardrail{Status: transcript.StatusDone, Category: transcript.GuardrailNone},
		})
	}
}

// Run applies events and completions until events is closed or ctx ends.
func (e *Engine) Run(ctx context.Context, events <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-events:
			if !ok {
				return nil
			}
			_ = e.HandleEvent(data)
		case c := <-e.completions:
			e.Complete(c)
		}
	}
}

// Drain waits for in-flight synthesis to finish, applying results, until
// none remain or ctx ends.
func (e *Engine) Drain(ctx context.Context) bool {
	for e.inflight > 0 {
		select {
		case <-ctx.Done():
			return false
		case c := <-e.completions:
			e.Complete(c)
		}
	}
	return true
}

// Close stops timers and abandons outstanding completions.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	close(e.done)
	for id, t := range e.guardTimers {
		t.Stop()
		delete(e.guardTimers, id)
	}
}

func (e *Engine) Snapshot() []transcript.Item {
	return e.store.Snapshot()
}

func (e *Engine) Item(id string) (transcript.Item, bool) {
	return e.store.Get(e.resolver.Lookup(id))
}

func (e *Engine) ActiveAgent() string {
	return e.active
}

// Audio returns synthesized clips in completion order.
func (e *Engine) Audio() []AudioClip {
	out := make([]AudioClip, len(e.audio))
	copy(out, e.audio)
	return out
}

// Dispatched reports whether synthesis was already triggered for id.
func (e *Engine) Dispatched(id string) bool {
	_, ok := e.dispatched[id]
	return ok
}
