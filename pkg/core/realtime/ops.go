// Package realtime turns the evolving realtime session event stream into a
// small closed set of transcript operations.
package realtime

import (
	"time"

	"github.com/vango-go/callsim/pkg/core/transcript"
)

// Placeholder is shown for user speech that has been detected but not yet
// transcribed.
const Placeholder = "Transcribing…"

// Source records which event family produced a status change. The engine
// uses it to decide side-effect eligibility.
type Source string

const (
	SourceStream        Source = "stream"
	SourceSpeech        Source = "speech"
	SourceTranscription Source = "transcription"
	SourceHistory       Source = "history"
	SourceResponse      Source = "response"
)

// Op is one of StartItem, AppendDelta, ReplaceFinal, SetStatus,
// SetGuardrail, EmitBreadcrumb or DetectedToolCall.
type Op interface {
	opName() string
}

type StartItem struct {
	ItemID      string
	Role        transcript.Role
	InitialText string
	Placeholder bool
	CreatedAt   time.Time
}

type AppendDelta struct {
	ItemID string
	Delta  string
}

// ReplaceFinal overwrites content. A Provisional replacement comes from a
// record that is still in progress and must not shorten content that already
// extends it.
type ReplaceFinal struct {
	ItemID      string
	Text        string
	Provisional bool
}

// SetStatus with an empty ItemID targets the most recent assistant message.
type SetStatus struct {
	ItemID string
	Status transcript.Status
	Source Source
}

// SetGuardrail with an empty ItemID targets the most recent assistant
// message.
type SetGuardrail struct {
	ItemID string
	Patch  transcript.Guardrail
}

type EmitBreadcrumb struct {
	Title      string
	Annotation transcript.Annotation
	CreatedAt  time.Time
}

type DetectedToolCall struct {
	ItemID    string
	ToolName  string
	Arguments string
	Output    string
	CreatedAt time.Time
}

func (StartItem) opName() string        { return "start_item" }
func (AppendDelta) opName() string      { return "append_delta" }
func (ReplaceFinal) opName() string     { return "replace_final" }
func (SetStatus) opName() string        { return "set_status" }
func (SetGuardrail) opName() string     { return "set_guardrail" }
func (EmitBreadcrumb) opName() string   { return "emit_breadcrumb" }
func (DetectedToolCall) opName() string { return "detected_tool_call" }

// Name returns a stable label for logs.
func Name(op Op) string {
	if op == nil {
		return ""
	}
	return op.opName()
}
