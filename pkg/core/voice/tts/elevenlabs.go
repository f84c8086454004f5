package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	ElevenLabsDefaultBaseURL = "https://api.elevenlabs.io"
	ElevenLabsDefaultModel   = "eleven_multilingual_v2"

	// DefaultVoiceID is used when nothing else resolves a voice.
	DefaultVoiceID = "EXAVITQu4vr4xnSDxMaL"

	maxAudioBytes = 32 << 20
	maxErrorBody  = 2 << 10
)

// VoiceSettings mirrors the ElevenLabs voice_settings object.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DefaultVoiceSettings favours an expressive, clearly distressed caller.
var DefaultVoiceSettings = VoiceSettings{
	Stability:       0.5,
	SimilarityBoost: 0.8,
	Style:           0.7,
	UseSpeakerBoost: true,
}

type ElevenLabsProvider struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	model      string
	settings   VoiceSettings
}

func NewElevenLabs(apiKey string) *ElevenLabsProvider {
	return NewElevenLabsWithClient(apiKey, nil)
}

func NewElevenLabsWithClient(apiKey string, client *http.Client) *ElevenLabsProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &ElevenLabsProvider{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: client,
		baseURL:    ElevenLabsDefaultBaseURL,
		model:      ElevenLabsDefaultModel,
		settings:   DefaultVoiceSettings,
	}
}

func (e *ElevenLabsProvider) WithBaseURL(base string) *ElevenLabsProvider {
	if e == nil {
		return e
	}
	if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
		e.baseURL = base
	}
	return e
}

func (e *ElevenLabsProvider) WithModel(model string) *ElevenLabsProvider {
	if e == nil {
		return e
	}
	if model = strings.TrimSpace(model); model != "" {
		e.model = model
	}
	return e
}

func (e *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

// Configured reports whether an API key is present.
func (e *ElevenLabsProvider) Configured() bool {
	return e != nil && e.apiKey != ""
}

type elevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

func (e *ElevenLabsProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if !e.Configured() {
		return nil, fmt.Errorf("%w: elevenlabs api key is not configured", ErrUnavailable)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	voiceID := strings.TrimSpace(opts.Voice)
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = e.model
	}

	body, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: model, VoiceSettings: e.settings})
	if err != nil {
		return nil, err
	}
	endpoint := e.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusServiceUnavailable:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: elevenlabs status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{Provider: e.Name(), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("read elevenlabs audio: %w", err)
	}
	return &Synthesis{Audio: audio, Format: "mp3"}, nil
}
