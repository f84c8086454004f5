// Package tts provides text-to-speech for assistant messages.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned when the speech service cannot serve requests
// right now (missing credentials, quota, overload). Callers keep the text and
// skip audio.
var ErrUnavailable = errors.New("tts: speech synthesis unavailable")

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice  string // Voice identifier
	Model  string // Provider model override
	Format string // Output format: "mp3" or "pcm"
}

// Synthesis is the result of synthesis.
type Synthesis struct {
	Audio  []byte
	Format string
}

// APIError is a non-retryable error response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}
