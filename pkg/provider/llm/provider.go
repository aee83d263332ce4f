// Package llm defines the Provider interface for language-model backends.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, or a local
// Ollama instance) and exposes a uniform completion interface so the insight
// agent never couples to a specific SDK. The co-pilot only needs blocking
// completions — a suggestion is either whispered whole or not at all — so
// there is no streaming surface here.
//
// Implementations must be safe for concurrent use: independent advisory
// sessions share one Provider instance.
package llm

import "context"

// Usage holds token accounting information returned by the model backend.
// Counts are in the model's native token unit and differ between providers
// for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages
	// and system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the model needs to produce a response.
// A zero-value request is invalid; at minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is the
	// freshly accumulated transcript chunk that drives the response.
	Messages []Message

	// Tools is the set of function definitions offered to the model. The
	// model may answer with tool calls instead of text; the caller executes
	// them and re-invokes with the results appended.
	Tools []ToolDefinition

	// Temperature controls output randomness in [0.0, 2.0]. Nil leaves the
	// backend's default; an explicit pointer is always transmitted, so the
	// co-pilot can pin 0 and the same transcript yields the same suggestion.
	Temperature *float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int

	// SystemPrompt is injected before the conversation history. Providers
	// without a dedicated system slot prepend it as a "system"-role message.
	SystemPrompt string
}

// Float returns a pointer to f, for optional request fields such as
// Temperature.
func Float(f float64) *float64 { return &f }

// CompletionResponse is the model's full answer to a single request.
type CompletionResponse struct {
	// Content is the text of the assistant's reply. Empty when the model
	// responds exclusively with tool calls.
	Content string

	// ToolCalls lists tool invocations requested by the model. The caller
	// executes them and appends the results to the conversation.
	ToolCalls []ToolCall

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens the given messages would consume
	// in the model's context window. The result need not be exact but should
	// not undercount; it is used to decide when conversation memory has grown
	// past the window budget.
	CountTokens(messages []Message) (int, error)
}
