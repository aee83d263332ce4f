package resilience

import (
	"context"

	"github.com/souffleur-ai/souffleur/pkg/provider/llm"
)

// LLMProvider is an llm.Provider guarded by a [Breaker]. Completions go
// through the breaker; token counting is a local estimate and always passes
// straight through.
type LLMProvider struct {
	inner   llm.Provider
	breaker *Breaker
}

var _ llm.Provider = (*LLMProvider)(nil)

// WrapLLM puts a breaker in front of p. While the breaker is open, Complete
// returns [ErrOpen] immediately so agent rounds degrade to silence instead of
// queueing behind a dead backend.
func WrapLLM(p llm.Provider, opts ...Option) *LLMProvider {
	return &LLMProvider{
		inner:   p,
		breaker: NewBreaker("llm", opts...),
	}
}

// Complete implements llm.Provider.
func (p *LLMProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := p.breaker.Do(func() error {
		var callErr error
		resp, callErr = p.inner.Complete(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CountTokens implements llm.Provider.
func (p *LLMProvider) CountTokens(messages []llm.Message) (int, error) {
	return p.inner.CountTokens(messages)
}

// Breaker exposes the underlying breaker for health checks and manual resets.
func (p *LLMProvider) Breaker() *Breaker {
	return p.breaker
}
