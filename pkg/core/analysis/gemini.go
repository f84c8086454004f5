package analysis

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

// Gemini analyzes transcripts with the Google Gen AI SDK.
type Gemini struct {
	model    string
	generate func(ctx context.Context, model, system, prompt string) (string, error)
}

var _ Analyzer = (*Gemini)(nil)

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if model = strings.TrimSpace(model); model == "" {
		model = DefaultModel
	}
	return &Gemini{
		model: model,
		generate: func(ctx context.Context, model, system, prompt string) (string, error) {
			resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
				SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
				ResponseMIMEType:  "application/json",
			})
			if err != nil {
				return "", err
			}
			return resp.Text(), nil
		},
	}, nil
}

func (g *Gemini) Analyze(ctx context.Context, transcript string) (Result, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return Result{}, nil
	}
	reply, err := g.generate(ctx, g.model, systemPrompt, Prompt(transcript))
	if err != nil {
		return Result{}, fmt.Errorf("gemini analyze: %w", err)
	}
	return ParseResult(reply)
}
