// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the insight agent sends correct
// CompletionRequests and to feed controlled responses without a live model.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []*llm.CompletionResponse{{Content: "* Suggest rebalancing."}},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/souffleur-ai/souffleur/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Responses are consumed in order, one per Complete call; when the list is
// exhausted the last response is repeated. Set Err to inject a transport
// failure instead.
type Provider struct {
	mu sync.Mutex

	// Responses is the sequence of responses returned by successive Complete
	// calls. A nil/empty list makes Complete return an empty response.
	Responses []*llm.CompletionResponse

	// Err, if non-nil, is returned by every Complete call.
	Err error

	// TokenCount is returned by CountTokens.
	TokenCount int

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Compile-time check that *Provider satisfies llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the next configured response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Responses) == 0 {
		return &llm.CompletionResponse{}, nil
	}

	idx := len(p.CompleteCalls) - 1
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	resp := p.Responses[idx]
	if resp == nil {
		return &llm.CompletionResponse{}, nil
	}
	return resp, nil
}

// CountTokens returns the configured TokenCount.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return p.TokenCount, nil
}

// Calls returns a snapshot of all recorded Complete calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}
