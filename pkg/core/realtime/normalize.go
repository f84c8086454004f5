package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vango-go/callsim/pkg/core/transcript"
)

const guardrailRationale = "Guardrail triggered"

// Normalizer converts raw event frames into operations. It resolves
// identities through its Resolver and therefore belongs to exactly one call.
type Normalizer struct {
	resolver *Resolver
	logger   *slog.Logger
}

func NewNormalizer(resolver *Resolver) *Normalizer {
	if resolver == nil {
		resolver = NewResolver(nil)
	}
	return &Normalizer{resolver: resolver, logger: slog.Default()}
}

// WithLogger sets the logger used for drops inside otherwise valid events.
func (n *Normalizer) WithLogger(logger *slog.Logger) *Normalizer {
	if logger != nil {
		n.logger = logger
	}
	return n
}

// Normalize decodes one event. A nil error with no operations means the event
// was recognised and intentionally produces nothing. Dropped events return a
// *SkipError.
func (n *Normalizer) Normalize(data []byte) ([]Op, error) {
	f, ok := parseFields(data)
	if !ok {
		return nil, malformed("", "invalid json object")
	}
	typ := strings.TrimSpace(f.id("type"))
	if typ == "" {
		return nil, malformed("", "missing type")
	}

	switch typ {
	case EventTextDelta, EventOutputTextDelta, EventAudioTranscriptDelta, EventOutputAudioTxDelta:
		return n.assistantDelta(typ, f)
	case EventInputTranscriptionDelta, EventItemInputTranscriptionDelta:
		return n.userDelta(typ, f)
	case EventInputTranscriptionCompleted, EventInputTranscriptionCompletedV0:
		return n.userCompleted(typ, f)
	case EventSpeechStarted:
		return n.speechStarted(typ, f)
	case EventHistoryAdded, EventItemCreated, EventOutputItemDone:
		item, ok := f.object("item")
		if !ok {
			return nil, malformed(typ, "missing item")
		}
		return n.historyItem(typ, item, f.id(responseIDKeys...))
	case EventHistoryUpdated:
		return n.historyUpdated(typ, f)
	case EventFunctionArgsDone:
		return n.functionArgsDone(typ, f)
	case EventGuardrailTripped:
		return n.guardrailTripped(f), nil
	case EventResponseDone:
		return n.responseDone(f), nil
	case EventBreadcrumb:
		return n.breadcrumb(typ, f)
	}
	if _, ok := ignored[typ]; ok {
		return nil, nil
	}
	return nil, unknownType(typ)
}

func (n *Normalizer) resolve(typ string, f fields) (string, error) {
	id, ok := n.resolver.Resolve(Ref{
		ItemID:     f.id(itemIDKeys...),
		ResponseID: f.id(responseIDKeys...),
	})
	if !ok {
		return "", malformed(typ, "missing item_id and response_id")
	}
	return id, nil
}

func (n *Normalizer) assistantDelta(typ string, f fields) ([]Op, error) {
	delta, ok := f.str(deltaKeys...)
	if !ok {
		return nil, malformed(typ, "missing delta")
	}
	id, err := n.resolve(typ, f)
	if err != nil {
		return nil, err
	}
	if delta == "" {
		return nil, nil
	}
	return []Op{
		StartItem{ItemID: id, Role: transcript.RoleAssistant, CreatedAt: f.timestamp(createdAtKeys...)},
		AppendDelta{ItemID: id, Delta: delta},
		SetStatus{ItemID: id, Status: transcript.StatusInProgress, Source: SourceStream},
	}, nil
}

func (n *Normalizer) userDelta(typ string, f fields) ([]Op, error) {
	delta, ok := f.str(deltaKeys...)
	if !ok {
		return nil, malformed(typ, "missing delta")
	}
	itemID := f.id(itemIDKeys...)
	if itemID == "" {
		return nil, malformed(typ, "missing item_id")
	}
	id := n.resolver.Lookup(itemID)
	ops := []Op{
		StartItem{ItemID: id, Role: transcript.RoleUser, InitialText: Placeholder, Placeholder: true, CreatedAt: f.timestamp(createdAtKeys...)},
	}
	if delta != "" {
		ops = append(ops, AppendDelta{ItemID: id, Delta: delta})
	}
	return append(ops, SetStatus{ItemID: id, Status: transcript.StatusInProgress, Source: SourceTranscription}), nil
}

func (n *Normalizer) userCompleted(typ string, f fields) ([]Op, error) {
	itemID := f.id(itemIDKeys...)
	if itemID == "" {
		return nil, malformed(typ, "missing item_id")
	}
	text, ok := f.str(transcriptKeys...)
	if !ok {
		return nil, malformed(typ, "missing transcript")
	}
	id := n.resolver.Lookup(itemID)
	text = strings.TrimSpace(text)
	return []Op{
		StartItem{ItemID: id, Role: transcript.RoleUser, InitialText: text, CreatedAt: f.timestamp(createdAtKeys...)},
		ReplaceFinal{ItemID: id, Text: text},
		SetStatus{ItemID: id, Status: transcript.StatusDone, Source: SourceTranscription},
	}, nil
}

func (n *Normalizer) speechStarted(typ string, f fields) ([]Op, error) {
	itemID := f.id(itemIDKeys...)
	if itemID == "" {
		return nil, malformed(typ, "missing item_id")
	}
	id := n.resolver.Lookup(itemID)
	return []Op{
		StartItem{ItemID: id, Role: transcript.RoleUser, InitialText: Placeholder, Placeholder: true, CreatedAt: f.timestamp(createdAtKeys...)},
		SetStatus{ItemID: id, Status: transcript.StatusInProgress, Source: SourceSpeech},
	}, nil
}

func (n *Normalizer) historyUpdated(typ string, f fields) ([]Op, error) {
	items, ok := f.array("history", "items")
	if !ok {
		return nil, malformed(typ, "missing history")
	}
	var ops []Op
	for i, raw := range items {
		item, ok := parseFields(raw)
		if !ok {
			return nil, malformed(typ, fmt.Sprintf("history[%d] is not an object", i))
		}
		itemOps, err := n.historyItem(typ, item, "")
		if err != nil {
			// One malformed entry does not invalidate the rest of the history.
			n.logger.Warn("dropped history entry", "event_type", typ, "index", i, "error", err)
			continue
		}
		ops = append(ops, itemOps...)
	}
	return ops, nil
}

// historyItem converts one finalized item record. responseID is the id of the
// response that produced it, when the event names one.
func (n *Normalizer) historyItem(typ string, item fields, responseID string) ([]Op, error) {
	itemID := item.id(historyIDKeys...)
	if itemID == "" {
		return nil, malformed(typ, "history item missing id")
	}
	if responseID == "" {
		responseID = item.id(responseIDKeys...)
	}
	// Only messages can continue text streamed under a fallback key.
	id := n.resolver.Lookup(itemID)
	if item.id("type") == "message" {
		id = n.itemRef(itemID, responseID)
	}
	createdAt := item.timestamp(createdAtKeys...)

	switch item.id("type") {
	case "message":
		role := transcript.Role(item.id("role"))
		if role != transcript.RoleUser && role != transcript.RoleAssistant {
			return nil, nil
		}
		text := messageText(item)
		status := historyStatus(item.id("status"))
		if text == "" {
			// Nothing displayable yet; later updates will carry the text.
			return nil, nil
		}
		return []Op{
			StartItem{ItemID: id, Role: role, InitialText: text, CreatedAt: createdAt},
			ReplaceFinal{ItemID: id, Text: text, Provisional: status != transcript.StatusDone},
			SetStatus{ItemID: id, Status: status, Source: SourceHistory},
		}, nil
	case "function_call":
		name := strings.TrimSpace(item.text(toolNameKeys...))
		if name == "" {
			return nil, malformed(typ, "function_call missing name")
		}
		return []Op{DetectedToolCall{
			ItemID:    id,
			ToolName:  name,
			Arguments: item.text(argumentsKeys...),
			Output:    item.text(outputKeys...),
			CreatedAt: createdAt,
		}}, nil
	case "":
		return nil, malformed(typ, "history item missing type")
	default:
		return nil, nil
	}
}

func (n *Normalizer) functionArgsDone(typ string, f fields) ([]Op, error) {
	itemID := f.id(itemIDKeys...)
	if itemID == "" {
		return nil, malformed(typ, "missing item_id")
	}
	name := strings.TrimSpace(f.text(toolNameKeys...))
	if name == "" {
		return nil, malformed(typ, "missing name")
	}
	return []Op{DetectedToolCall{
		ItemID:    n.resolver.Lookup(itemID),
		ToolName:  name,
		Arguments: f.text(argumentsKeys...),
	}}, nil
}

func (n *Normalizer) guardrailTripped(f fields) []Op {
	category := transcript.GuardrailCategory(strings.ToUpper(f.id("category")))
	if category == "" || category == transcript.GuardrailNone {
		category = transcript.GuardrailOffBrand
	}
	rationale := strings.TrimSpace(f.text("rationale", "reason"))
	if rationale == "" {
		rationale = guardrailRationale
	}
	target := ""
	if itemID := f.id(itemIDKeys...); itemID != "" {
		target = n.resolver.Lookup(itemID)
	}
	return []Op{SetGuardrail{
		ItemID: target,
		Patch: transcript.Guardrail{
			Status:    transcript.StatusDone,
			Category:  category,
			Rationale: rationale,
			TestText:  f.text("test_text", "testText"),
		},
	}}
}

// responseDone completes the assistant messages named in response.output.
// Without any, it completes the most recent assistant message.
func (n *Normalizer) responseDone(f fields) []Op {
	var targets []string
	if resp, ok := f.object("response"); ok {
		if outputs, ok := resp.array("output"); ok {
			for _, raw := range outputs {
				out, ok := parseFields(raw)
				if !ok || out.id("type") != "message" {
					continue
				}
				if role := out.id("role"); role != "" && role != string(transcript.RoleAssistant) {
					continue
				}
				if id := out.id(historyIDKeys...); id != "" {
					targets = append(targets, n.itemRef(id, resp.id("id")))
				}
			}
		}
		if len(targets) == 0 {
			if respID := resp.id("id"); respID != "" {
				if id, ok := n.resolver.Resolve(Ref{ResponseID: respID}); ok && n.resolver.exists(id) {
					targets = append(targets, id)
				}
			}
		}
	}
	if len(targets) == 0 {
		targets = []string{""}
	}

	ops := make([]Op, 0, 2*len(targets))
	for _, id := range targets {
		ops = append(ops,
			SetStatus{ItemID: id, Status: transcript.StatusDone, Source: SourceResponse},
			SetGuardrail{ItemID: id, Patch: transcript.Guardrail{Status: transcript.StatusDone, Category: transcript.GuardrailNone}},
		)
	}
	return ops
}

// itemRef resolves an explicit item id, binding it to a streamed fallback row
// of responseID when one exists.
func (n *Normalizer) itemRef(itemID, responseID string) string {
	if responseID == "" {
		return n.resolver.Lookup(itemID)
	}
	id, _ := n.resolver.Resolve(Ref{ItemID: itemID, ResponseID: responseID})
	return id
}

func (n *Normalizer) breadcrumb(typ string, f fields) ([]Op, error) {
	title := strings.TrimSpace(f.text("title"))
	if title == "" {
		return nil, malformed(typ, "missing title")
	}
	op := EmitBreadcrumb{Title: title, CreatedAt: f.timestamp(createdAtKeys...)}
	if data, ok := f.object("data"); ok {
		op.Annotation = transcript.Annotation{
			ToolName:  data.text(toolNameKeys...),
			Arguments: data.text(argumentsKeys...),
			Output:    data.text(outputKeys...),
			Agent:     data.text("agent"),
		}
	}
	return []Op{op}, nil
}

// messageText joins the textual parts of a history message.
func messageText(item fields) string {
	parts, ok := item.array("content")
	if !ok {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, raw := range parts {
		part, ok := parseFields(raw)
		if !ok {
			continue
		}
		var s string
		switch part.id("type") {
		case "text", "input_text", "output_text":
			s = part.text("text")
		case "input_audio", "audio", "output_audio":
			s = part.text("transcript")
		}
		texts = append(texts, s)
	}
	return strings.TrimSpace(strings.Join(texts, " "))
}

func historyStatus(raw string) transcript.Status {
	if raw == "completed" {
		return transcript.StatusDone
	}
	return transcript.StatusInProgress
}

// EventType extracts the type discriminator without full normalization.
func EventType(data []byte) string {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ""
	}
	return strings.TrimSpace(envelope.Type)
}
