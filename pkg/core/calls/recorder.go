// Package calls persists a finished call: its recording, transcript, record
// row and extracted caller details.
package calls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vango-go/callsim/pkg/core/analysis"
	"github.com/vango-go/callsim/pkg/core/transcript"
	"github.com/vango-go/callsim/pkg/store"
	"github.com/vango-go/callsim/pkg/store/artifacts"
)

// ErrDisabled is returned by operations that need a call store when none is
// configured.
var ErrDisabled = errors.New("calls: persistence disabled")

// ErrNoTranscript is returned when re-analysing a call saved without a
// transcript artifact.
var ErrNoTranscript = errors.New("calls: call has no transcript")

var errEmptyTranscript = errors.New("calls: empty transcript")

type Deps struct {
	Logger    *slog.Logger
	Store     store.CallStore
	Artifacts artifacts.Store
	Analyzer  analysis.Analyzer
	Now       func() time.Time
	NewID     func() string
}

type Recorder struct {
	logger    *slog.Logger
	store     store.CallStore
	artifacts artifacts.Store
	analyzer  analysis.Analyzer
	now       func() time.Time
	newID     func() string
}

func NewRecorder(deps Deps) *Recorder {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	return &Recorder{
		logger:    deps.Logger,
		store:     deps.Store,
		artifacts: deps.Artifacts,
		analyzer:  deps.Analyzer,
		now:       deps.Now,
		newID:     deps.NewID,
	}
}

// Enabled reports whether finished calls are persisted.
func (r *Recorder) Enabled() bool {
	return r != nil && (r.store != nil || r.artifacts != nil)
}

// Session is the final state of one call.
type Session struct {
	SessionID   string
	ScenarioKey string
	Operator    string
	Items       []transcript.Item
	Audio       [][]byte
	StartedAt   time.Time
	EndedAt     time.Time
}

// Outcome reports what was saved. Fields are empty for steps that were
// skipped or failed.
type Outcome struct {
	CallID        string
	RecordingURL  string
	TranscriptURL string
}

// TranscriptText renders the saved transcript: visible messages in display
// order, one per line.
func TranscriptText(items []transcript.Item) string {
	return transcript.PlainText(items)
}

// Record saves a finished call. Individual step failures are logged and
// joined into the returned error; later steps still run.
func (r *Recorder) Record(ctx context.Context, s Session) (Outcome, error) {
	var (
		out  Outcome
		errs []error
	)
	if !r.Enabled() {
		return out, nil
	}
	end := s.EndedAt
	if end.IsZero() {
		end = r.now()
	}
	start := s.StartedAt
	if start.IsZero() {
		start = end
	}
	stamp := end.UTC().Format("20060102T150405Z")
	suffix := r.newID()
	text := TranscriptText(s.Items)
	audio := bytes.Join(s.Audio, nil)
	logger := r.logger.With("session_id", s.SessionID)

	if r.artifacts != nil {
		if len(audio) > 0 {
			key := fmt.Sprintf("recordings/call-%s-%s.mp3", stamp, suffix)
			u, err := r.artifacts.Put(ctx, key, audio, "audio/mpeg")
			if err != nil {
				logger.Error("recording upload failed", "key", key, "error", err)
				errs = append(errs, fmt.Errorf("upload recording: %w", err))
			} else {
				out.RecordingURL = u
			}
		}
		if text != "" {
			key := fmt.Sprintf("transcripts/transcript-%s-%s.txt", stamp, suffix)
			u, err := r.artifacts.Put(ctx, key, []byte(text), "text/plain; charset=utf-8")
			if err != nil {
				logger.Error("transcript upload failed", "key", key, "error", err)
				errs = append(errs, fmt.Errorf("upload transcript: %w", err))
			} else {
				out.TranscriptURL = u
			}
		}
	}

	if r.store == nil {
		return out, errors.Join(errs...)
	}

	endUTC := end.UTC()
	call := &store.Call{
		CallType:        store.CallTypeOther,
		CallStatus:      store.CallStatusCompleted,
		PriorityLevel:   1,
		DispatcherNotes: notes(s),
		RecordingURL:    out.RecordingURL,
		TranscriptURL:   out.TranscriptURL,
		StartTime:       start.UTC(),
		EndTime:         &endUTC,
		DurationSeconds: int(end.Sub(start).Round(time.Second) / time.Second),
	}
	if err := r.store.CreateCall(ctx, call); err != nil {
		logger.Error("create call record failed", "error", err)
		errs = append(errs, fmt.Errorf("create call record: %w", err))
		return out, errors.Join(errs...)
	}
	out.CallID = call.ID
	logger.Info("call saved", "call_id", call.ID, "recording_url", out.RecordingURL, "transcript_url", out.TranscriptURL)

	if _, err := r.analyze(ctx, call.ID, text); err != nil && !errors.Is(err, analysis.ErrNotConfigured) && !errors.Is(err, errEmptyTranscript) {
		logger.Warn("transcript analysis failed", "call_id", call.ID, "error", err)
		errs = append(errs, err)
	}
	return out, errors.Join(errs...)
}

// Reanalyze runs transcript analysis again for a stored call, reading the
// transcript back from the artifact store.
func (r *Recorder) Reanalyze(ctx context.Context, callID string) (*store.Call, error) {
	if r == nil || r.store == nil {
		return nil, ErrDisabled
	}
	call, err := r.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.TranscriptURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoTranscript, callID)
	}
	if r.artifacts == nil {
		return nil, fmt.Errorf("%w: no artifact store", ErrDisabled)
	}
	data, err := r.artifacts.Get(ctx, call.TranscriptURL)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	return r.analyze(ctx, callID, string(data))
}

func (r *Recorder) analyze(ctx context.Context, callID, text string) (*store.Call, error) {
	if r.analyzer == nil {
		return nil, analysis.ErrNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return nil, errEmptyTranscript
	}
	res, err := r.analyzer.Analyze(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("analyze transcript: %w", err)
	}
	call, err := r.store.UpdateCallerDetails(ctx, callID, store.CallerDetails{
		CallerName:    res.CallerName,
		CallerAddress: res.CallerAddress,
		CallerPhone:   res.CallerPhone,
		Description:   res.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("update caller details: %w", err)
	}
	return call, nil
}

func notes(s Session) string {
	var parts []string
	if s.ScenarioKey != "" {
		parts = append(parts, "scenario="+s.ScenarioKey)
	}
	if s.Operator != "" {
		parts = append(parts, "operator="+s.Operator)
	}
	if s.SessionID != "" {
		parts = append(parts, "session="+s.SessionID)
	}
	return strings.Join(parts, " ")
}
