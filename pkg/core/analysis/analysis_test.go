package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func str(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		caller  string
		address string
		phone   string
		desc    string
	}{
		{
			name:    "plain json",
			reply:   `{"caller_name":"Alex Taylor","caller_address":"22 A Street SW","caller_phone":"555-123-4567","description":"Abandoned vehicle near farm"}`,
			caller:  "Alex Taylor",
			address: "22 A Street SW",
			phone:   "555-123-4567",
			desc:    "Abandoned vehicle near farm",
		},
		{
			name:    "fenced with nulls",
			reply:   "```json\n{\"caller_name\": null, \"caller_address\": \"  \", \"caller_phone\": \"null\", \"description\": \"House fire\"}\n```",
			caller:  "<nil>",
			address: "<nil>",
			phone:   "<nil>",
			desc:    "House fire",
		},
		{
			name:    "surrounding prose",
			reply:   "Here you go: {\"description\": \"Burglary in progress\"} Thanks!",
			caller:  "<nil>",
			address: "<nil>",
			phone:   "<nil>",
			desc:    "Burglary in progress",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResult(tt.reply)
			if err != nil {
				t.Fatalf("ParseResult() error = %v", err)
			}
			if str(got.CallerName) != tt.caller || str(got.CallerAddress) != tt.address ||
				str(got.CallerPhone) != tt.phone || str(got.Description) != tt.desc {
				t.Fatalf("got name=%s address=%s phone=%s desc=%s", str(got.CallerName), str(got.CallerAddress), str(got.CallerPhone), str(got.Description))
			}
		})
	}
}

func TestParseResult_Invalid(t *testing.T) {
	for _, reply := range []string{"", "I could not find anything", "{not json}"} {
		if _, err := ParseResult(reply); err == nil {
			t.Fatalf("ParseResult(%q) expected error", reply)
		}
	}
}

func TestPromptIncludesTranscript(t *testing.T) {
	p := Prompt("user: my car was stolen")
	if !strings.HasSuffix(p, "Transcript:\nuser: my car was stolen") {
		t.Fatalf("prompt=%q", p)
	}
	if !strings.Contains(p, "XXX-XXX-XXXX") {
		t.Fatalf("prompt missing phone format")
	}
}

func TestGemini_Analyze(t *testing.T) {
	var gotModel, gotPrompt string
	g := &Gemini{
		model: "test-model",
		generate: func(ctx context.Context, model, system, prompt string) (string, error) {
			gotModel, gotPrompt = model, prompt
			return `{"caller_name":"Sam Lee","caller_address":null,"caller_phone":null,"description":"Kitchen fire"}`, nil
		},
	}
	res, err := g.Analyze(context.Background(), "  assistant: there's a fire  ")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if gotModel != "test-model" || !strings.HasSuffix(gotPrompt, "assistant: there's a fire") {
		t.Fatalf("model=%q prompt=%q", gotModel, gotPrompt)
	}
	if str(res.CallerName) != "Sam Lee" || res.CallerAddress != nil || str(res.Description) != "Kitchen fire" {
		t.Fatalf("res name=%s address=%s desc=%s", str(res.CallerName), str(res.CallerAddress), str(res.Description))
	}

	// Empty transcripts are not sent to the model.
	called := false
	g.generate = func(context.Context, string, string, string) (string, error) {
		called = true
		return "", nil
	}
	if _, err := g.Analyze(context.Background(), "   "); err != nil || called {
		t.Fatalf("empty transcript: err=%v called=%v", err, called)
	}
}

func TestGemini_AnalyzeError(t *testing.T) {
	boom := errors.New("quota")
	g := &Gemini{generate: func(context.Context, string, string, string) (string, error) { return "", boom }}
	if _, err := g.Analyze(context.Background(), "hello"); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want wrapped quota error", err)
	}
}

func TestNewGemini_RequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), " ", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err=%v, want ErrNotConfigured", err)
	}
}
