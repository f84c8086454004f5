package reconcile

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/vango-go/callsim/pkg/core/realtime"
	"github.com/vango-go/callsim/pkg/core/transcript"
	"github.com/vango-go/callsim/pkg/core/voice/tts"
)

var handoffPattern = regexp.MustCompile(`^transfer_to_(.+)$`)

// synthesisEligible reports whether a status change makes an assistant
// message speakable: a history record tagged in progress or completed,
// carrying text.
func (e *Engine) synthesisEligible(item transcript.Item, op realtime.SetStatus) bool {
	if !item.IsAssistantMessage() || op.Source != realtime.SourceHistory {
		return false
	}
	if op.Status != transcript.StatusInProgress && op.Status != transcript.StatusDone {
		return false
	}
	return strings.TrimSpace(item.Content) != ""
}

// dispatchSynthesis starts speech synthesis for item at most once. The id is
// recorded before the call is issued.
func (e *Engine) dispatchSynthesis(item transcript.Item) {
	if _, done := e.dispatched[item.ID]; done {
		return
	}
	e.dispatched[item.ID] = struct{}{}

	if e.synth == nil || e.closed {
		return
	}
	text := strings.TrimSpace(item.Content)
	voiceID := e.voice(e.active)
	e.inflight++

	e.logger.Debug("dispatching speech synthesis", "item_id", item.ID, "voice_id", voiceID, "agent", e.active)
	go func(synth Synthesizer, id string) {
		ctx, cancel := context.WithTimeout(context.Background(), e.synthTO)
		defer cancel()
		audio, err := synth.Synthesize(ctx, text, voiceID)
		e.post(Completion{kind: completionSynthesis, itemID: id, voiceID: voiceID, audio: audio, err: err})
	}(e.synth, item.ID)
}

func (e *Engine) completeSynthesis(c Completion) {
	if e.inflight > 0 {
		e.inflight--
	}
	switch {
	case errors.Is(c.err, tts.ErrUnavailable):
		e.logger.Info("speech synthesis unavailable, keeping text only", "item_id", c.itemID)
		return
	case c.err != nil:
		e.logger.Warn("speech synthesis failed", "item_id", c.itemID, "voice_id", c.voiceID, "error", c.err)
		return
	case len(c.audio) == 0:
		e.logger.Info("speech synthesis returned no audio", "item_id", c.itemID)
		return
	}
	clip := AudioClip{ItemID: c.itemID, VoiceID: c.voiceID, Audio: c.audio}
	e.audio = append(e.audio, clip)
	e.observer.AudioReady(clip)
}

func (e *Engine) toolCall(op realtime.DetectedToolCall) {
	if op.ItemID == "" {
		e.logger.Warn("tool call without item id ignored", "tool", op.ToolName)
		return
	}
	annotation := transcript.Annotation{
		ToolName:  op.ToolName,
		Arguments: op.Arguments,
		Output:    op.Output,
	}

	if _, seen := e.toolsSeen[op.ItemID]; seen {
		item, ok, changed := e.store.Patch(op.ItemID, transcript.Patch{Annotation: &annotation})
		if ok && changed {
			e.observer.ItemChanged(item)
		}
		return
	}
	e.toolsSeen[op.ItemID] = struct{}{}

	item, created := e.store.Upsert(op.ItemID, transcript.Seed{
		Kind:       transcript.KindBreadcrumb,
		Content:    "Tool call: " + op.ToolName,
		Status:     transcript.StatusDone,
		CreatedAt:  op.CreatedAt,
		Annotation: &annotation,
	})
	if created {
		e.observer.ItemChanged(item)
	} else {
		e.logger.Warn("tool call id collides with existing transcript item", "item_id", op.ItemID, "tool", op.ToolName)
	}

	e.handoff(op.ToolName)
}

// handoff switches the active agent when tool names a roster member other
// than the current one.
func (e *Engine) handoff(tool string) {
	m := handoffPattern.FindStringSubmatch(tool)
	if m == nil {
		return
	}
	want := m[1]
	for _, name := range e.roster {
		if !strings.EqualFold(name, want) {
			continue
		}
		if name == e.active {
			return
		}
		prev := e.active
		e.active = name
		e.logger.Info("agent handoff", "from", prev, "to", name)
		e.emitAgentBreadcrumb(name)
		e.observer.AgentChanged(prev, name)
		return
	}
	e.logger.Warn("handoff target not in roster", "target", want, "tool", tool)
}
