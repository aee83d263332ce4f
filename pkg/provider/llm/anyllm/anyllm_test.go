package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/souffleur-ai/souffleur/pkg/provider/llm"
)

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	if _, err := New("", "llama3.1"); err == nil {
		t.Error("expected error for empty backend name")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("clippy", "llama3.1"); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

func TestBuildParamsTemperature(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.1"}
	base := llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	}

	t.Run("nil leaves backend default", func(t *testing.T) {
		t.Parallel()

		params := p.buildParams(base)
		if params.Temperature != nil {
			t.Errorf("temperature = %v, want unset", *params.Temperature)
		}
	})

	t.Run("explicit zero is transmitted", func(t *testing.T) {
		t.Parallel()

		req := base
		req.Temperature = llm.Float(0)
		params := p.buildParams(req)
		if params.Temperature == nil {
			t.Fatal("explicit zero temperature was dropped")
		}
		if *params.Temperature != 0 {
			t.Errorf("temperature = %v, want 0", *params.Temperature)
		}
	})

	t.Run("non-zero is transmitted", func(t *testing.T) {
		t.Parallel()

		req := base
		req.Temperature = llm.Float(0.7)
		params := p.buildParams(req)
		if params.Temperature == nil || *params.Temperature != 0.7 {
			t.Errorf("temperature = %v, want 0.7", params.Temperature)
		}
	})
}

func TestBuildParamsMessages(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.1"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You whisper suggestions.",
		Messages: []llm.Message{
			{Role: "user", Content: "Der Kunde fragt nach Garantieprodukten."},
			{Role: "assistant", Content: "", ToolCalls: []llm.ToolCall{
				{ID: "call-1", Name: "search_structured_products", Arguments: `{"q":"garantie"}`},
			}},
			{Role: "tool", Content: "[]", ToolCallID: "call-1"},
		},
		MaxTokens: 256,
	})

	if params.Model != "llama3.1" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("messages = %d, want 4 (system + 3)", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first message role = %q, want system", params.Messages[0].Role)
	}
	if got := params.Messages[1].Content; got != "Der Kunde fragt nach Garantieprodukten." {
		t.Errorf("user content = %q", got)
	}
	calls := params.Messages[2].ToolCalls
	if len(calls) != 1 || calls[0].Function.Name != "search_structured_products" {
		t.Errorf("tool calls = %+v", calls)
	}
	if params.Messages[3].ToolCallID != "call-1" {
		t.Errorf("tool call id = %q", params.Messages[3].ToolCallID)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("max tokens = %v, want 256", params.MaxTokens)
	}
}
