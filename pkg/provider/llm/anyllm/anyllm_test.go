package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lumo/pkg/provider/llm"
)

// ── New ───────────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider string
		model    string
		wantErr  string
	}{
		{name: "empty provider", provider: "", model: "m", wantErr: "providerName"},
		{name: "empty model", provider: "ollama", model: "", wantErr: "model"},
		{name: "unsupported", provider: "fakecloud", model: "m", wantErr: "unsupported provider"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.provider, tc.model, anyllmlib.WithAPIKey("dummy"))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("want error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNew_OllamaNeedsNoKey(t *testing.T) {
	t.Parallel()
	p, err := NewOllama("llama3.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "ollama/llama3.1" {
		t.Fatalf("want ollama/llama3.1, got %s", p.Name())
	}
}

func TestNew_OpenAIWithKey(t *testing.T) {
	t.Parallel()
	p, err := New("OpenAI", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "openai/gpt-4o-mini" {
		t.Fatalf("want lower-cased backend name, got %s", p.Name())
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.1"}
	params := p.buildParams(llm.Request{
		Text:        "save a note buy milk",
		Context:     "User: hi\nLumo: hello",
		Temperature: 0.2,
		MaxTokens:   256,
		Tools: []llm.ToolDefinition{{
			Name:        "save_note",
			Description: "Save a note",
			Parameters:  map[string]any{"type": "object"},
		}},
	})

	if params.Model != "llama3.1" {
		t.Errorf("want model llama3.1, got %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("want 3 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("want system first, got %q", params.Messages[0].Role)
	}
	if got := params.Messages[2].ContentString(); got != "save a note buy milk" {
		t.Errorf("want user text last, got %q", got)
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("want temperature 0.2, got %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("want max tokens 256, got %v", params.MaxTokens)
	}
	if len(params.Tools) != 1 || params.Tools[0].Function.Name != "save_note" || params.Tools[0].Type != "function" {
		t.Fatalf("unexpected tools: %+v", params.Tools)
	}
}

func TestBuildParams_ZeroKnobsLeftUnset(t *testing.T) {
	t.Parallel()

	params := (&Provider{model: "m"}).buildParams(llm.Request{Text: "hi"})
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Fatal("want nil temperature and max tokens")
	}
	if len(params.Tools) != 0 {
		t.Fatalf("want no tools, got %d", len(params.Tools))
	}
}
