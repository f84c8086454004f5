package reconcile

import "github.com/vango-go/callsim/pkg/core/transcript"

// Observer receives engine notifications on the engine's goroutine.
// Implementations must not block.
type Observer interface {
	ItemChanged(item transcript.Item)
	AgentChanged(from, to string)
	AudioReady(clip AudioClip)
}

type nopObserver struct{}

func (nopObserver) ItemChanged(transcript.Item) {}
func (nopObserver) AgentChanged(string, string) {}
func (nopObserver) AudioReady(AudioClip)        {}

// AudioClip is synthesized speech for one assistant message.
type AudioClip struct {
	ItemID  string
	VoiceID string
	Audio   []byte
}
