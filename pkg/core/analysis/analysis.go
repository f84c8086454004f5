// Package analysis extracts caller details from a finished call transcript.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNotConfigured is returned by analyzers that have no model credentials.
var ErrNotConfigured = errors.New("analysis: not configured")

// Result holds the extracted fields. Nil means the transcript did not
// mention the value.
type Result struct {
	CallerName    *string `json:"caller_name"`
	CallerAddress *string `json:"caller_address"`
	CallerPhone   *string `json:"caller_phone"`
	Description   *string `json:"description"`
}

// Analyzer extracts a Result from plain transcript text.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (Result, error)
}

const systemPrompt = "You extract structured information from emergency call transcripts. Always respond with valid JSON only."

// Prompt builds the extraction request for transcript.
func Prompt(transcript string) string {
	var b strings.Builder
	b.WriteString("Analyze this call transcript and extract:\n")
	b.WriteString("1. Full caller name (if provided) in \"First Last\" format\n")
	b.WriteString("2. Complete address (if mentioned)\n")
	b.WriteString("3. Phone number (convert to XXX-XXX-XXXX format if provided)\n")
	b.WriteString("4. Brief description (4-5 words maximum)\n\n")
	b.WriteString("Return ONLY a valid JSON object with null for missing fields. Example:\n")
	b.WriteString(`{"caller_name": null, "caller_address": "123 Main St", "caller_phone": "555-123-4567", "description": "Abandoned vehicle on street"}`)
	b.WriteString("\n\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// ParseResult decodes a model reply. Code fences and surrounding prose are
// tolerated; blank strings become nil.
func ParseResult(reply string) (Result, error) {
	text := strings.TrimSpace(reply)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}
	if text == "" {
		return Result{}, fmt.Errorf("analysis: empty model reply")
	}

	var out Result
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return Result{}, fmt.Errorf("analysis: model reply is not valid JSON: %w", err)
	}
	for _, p := range []**string{&out.CallerName, &out.CallerAddress, &out.CallerPhone, &out.Description} {
		if *p == nil {
			continue
		}
		v := strings.TrimSpace(**p)
		if v == "" || strings.EqualFold(v, "null") {
			*p = nil
			continue
		}
		*p = &v
	}
	return out, nil
}
