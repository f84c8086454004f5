// Package transcript holds the ordered, per-call conversation timeline.
package transcript

import (
	"strings"
	"time"
)

type Kind string

const (
	KindMessage    Kind = "MESSAGE"
	KindBreadcrumb Kind = "BREADCRUMB"
)

// Role is meaningful only for KindMessage items. The operator speaking into
// the simulator is the user; the AI-voiced caller is the assistant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

type GuardrailCategory string

const (
	GuardrailNone     GuardrailCategory = "NONE"
	GuardrailOffBrand GuardrailCategory = "OFF_BRAND"
)

// Guardrail is the moderation verdict attached to assistant messages.
type Guardrail struct {
	Status    Status            `json:"status"`
	Category  GuardrailCategory `json:"category,omitempty"`
	Rationale string            `json:"rationale,omitempty"`
	TestText  string            `json:"test_text,omitempty"`
}

// Passed reports whether a resolved verdict carries no violation.
func (g Guardrail) Passed() bool {
	return g.Status == StatusDone && (g.Category == "" || g.Category == GuardrailNone)
}

// Annotation is the expandable payload of a breadcrumb.
type Annotation struct {
	ToolName  string `json:"tool_name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
	Agent     string `json:"agent,omitempty"`
}

type Item struct {
	ID         string      `json:"item_id"`
	Kind       Kind        `json:"kind"`
	Role       Role        `json:"role,omitempty"`
	Content    string      `json:"content"`
	CreatedAt  time.Time   `json:"created_at"`
	Status     Status      `json:"status"`
	Guardrail  *Guardrail  `json:"guardrail,omitempty"`
	Hidden     bool        `json:"hidden,omitempty"`
	Annotation *Annotation `json:"annotation,omitempty"`

	seq uint64
}

// Clone returns a copy that shares no pointers with the receiver.
func (it Item) Clone() Item {
	out := it
	if it.Guardrail != nil {
		g := *it.Guardrail
		out.Guardrail = &g
	}
	if it.Annotation != nil {
		a := *it.Annotation
		out.Annotation = &a
	}
	return out
}

func (it Item) IsAssistantMessage() bool {
	return it.Kind == KindMessage && it.Role == RoleAssistant
}

// PlainText renders visible messages in display order, one trimmed line per
// non-empty message. Breadcrumbs are omitted.
func PlainText(items []Item) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		if it.Kind != KindMessage || it.Hidden {
			continue
		}
		text := strings.TrimSpace(it.Content)
		if text == "" {
			continue
		}
		lines = append(lines, text)
	}
	return strings.Join(lines, "\n")
}
