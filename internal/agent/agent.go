// Package agent implements the insight agent: the layer that turns a fresh
// transcript chunk into either a whispered suggestion or silence.
//
// One dispatch is one Respond call. The agent replays the session's
// conversation log as model messages, appends the fresh chunk, and runs the
// model with the tool catalogue until it produces text instead of tool
// calls. The raw text then passes through the output guard; only accepted
// insights (and the turns that led to them) are persisted, so a fully silent
// round leaves the conversation log untouched.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/souffleur-ai/souffleur/internal/copilot"
	"github.com/souffleur-ai/souffleur/internal/observe"
	"github.com/souffleur-ai/souffleur/internal/tools"
	"github.com/souffleur-ai/souffleur/pkg/memory"
	"github.com/souffleur-ai/souffleur/pkg/provider/llm"
)

// ErrAgentUnavailable indicates the model backend could not be reached or
// returned a transport-level failure.
var ErrAgentUnavailable = errors.New("agent: model backend unavailable")

// defaultMaxToolRounds bounds the tool loop within one dispatch. A model
// stuck re-requesting tools past this point is collapsed to silence.
const defaultMaxToolRounds = 4

// failedToolResult is handed to the model when a tool call could not be
// executed: an empty product list, so the model answers without the tool
// instead of hallucinating results.
const failedToolResult = "[]"

// defaultContextBudget caps the assembled prompt, in provider-estimated
// tokens. Local models typically run with an 8k window; the budget leaves
// headroom for the system prompt and the completion.
const defaultContextBudget = 6144

// Option configures an Agent.
type Option func(*Agent)

// WithGuard replaces the default output guard.
func WithGuard(g *copilot.Guard) Option {
	return func(a *Agent) { a.guard = g }
}

// WithTools attaches a tool host. Without one the model is offered no tools.
func WithTools(host tools.Host) Option {
	return func(a *Agent) { a.host = host }
}

// WithLanguage sets the output language code for the system prompt.
// Defaults to "de".
func WithLanguage(language string) Option {
	return func(a *Agent) { a.language = language }
}

// WithMaxToolRounds bounds the tool loop per dispatch. Values below 1 keep
// the default of 4.
func WithMaxToolRounds(n int) Option {
	return func(a *Agent) {
		if n >= 1 {
			a.maxToolRounds = n
		}
	}
}

// WithContextBudget caps the assembled prompt at n provider-estimated
// tokens. Values below 1 keep the default.
func WithContextBudget(n int) Option {
	return func(a *Agent) {
		if n >= 1 {
			a.contextBudget = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) { a.log = log }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// Agent produces insights from transcript chunks. One Agent instance serves
// all sessions; per-session state lives entirely in the memory store, keyed
// by session ID.
//
// Safe for concurrent use when the provider, store, and host are.
type Agent struct {
	provider      llm.Provider
	store         memory.Store
	host          tools.Host
	guard         *copilot.Guard
	language      string
	maxToolRounds int
	contextBudget int
	log           *slog.Logger
	metrics       *observe.Metrics
}

var _ copilot.Agent = (*Agent)(nil)

// New creates an Agent. provider and store are required.
func New(provider llm.Provider, store memory.Store, opts ...Option) (*Agent, error) {
	if provider == nil {
		return nil, fmt.Errorf("agent: provider must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("agent: memory store must not be nil")
	}

	a := &Agent{
		provider:      provider,
		store:         store,
		guard:         copilot.NewGuard(),
		language:      "de",
		maxToolRounds: defaultMaxToolRounds,
		contextBudget: defaultContextBudget,
		log:           slog.Default(),
		metrics:       observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Respond runs one dispatch for sessionID with the freshly accumulated
// transcript chunk. It returns the accepted insight, or the empty string
// when the round ends in silence. A non-nil error means the model backend
// failed; the caller may retry on the next dispatch.
func (a *Agent) Respond(ctx context.Context, sessionID, transcript string) (string, error) {
	turns, err := a.store.Turns(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("agent: loading conversation log: %w", err)
	}

	messages := historyToMessages(turns)
	messages = append(messages, llm.Message{Role: "user", Content: transcript})
	messages = a.trimToBudget(sessionID, messages)
	priorInsights := insightHistory(turns)

	var toolDefs []llm.ToolDefinition
	if a.host != nil {
		toolDefs = a.host.Tools()
	}

	// The advisor turn and any tool turns are persisted only once the round
	// commits to producing something. A round that ends in pure silence must
	// leave the log exactly as it found it.
	advisorPersisted := false
	persistAdvisor := func() {
		if advisorPersisted {
			return
		}
		advisorPersisted = true
		a.persist(ctx, sessionID, memory.Turn{Kind: memory.KindAdvisor, Text: transcript})
	}

	for round := 0; round < a.maxToolRounds; round++ {
		resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
			Messages:     messages,
			Tools:        toolDefs,
			Temperature:  llm.Float(0),
			SystemPrompt: SystemPrompt(a.language),
		})
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrAgentUnavailable, err)
		}

		if len(resp.ToolCalls) == 0 {
			insight, reason := a.guard.Check(resp.Content, priorInsights)
			if reason != copilot.ReasonNone {
				a.metrics.RecordSuppressed(ctx, string(reason))
				a.log.Debug("insight suppressed",
					slog.String("session", sessionID),
					slog.String("reason", string(reason)),
				)
				return "", nil
			}
			persistAdvisor()
			a.persist(ctx, sessionID, memory.Turn{Kind: memory.KindAgent, Text: resp.Content})
			return insight, nil
		}

		// Tool round: the model committed to consulting a tool, so the
		// advisor turn and everything downstream enters the log even if the
		// final answer later collapses to silence.
		persistAdvisor()
		a.persist(ctx, sessionID, memory.Turn{
			Kind:      memory.KindAgent,
			Text:      resp.Content,
			ToolCalls: toMemoryCalls(resp.ToolCalls),
		})
		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			content := a.executeTool(ctx, sessionID, call)
			a.persist(ctx, sessionID, memory.Turn{
				Kind:       memory.KindTool,
				Text:       content,
				ToolCallID: call.ID,
			})
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
			})
		}
	}

	a.log.Warn("tool round limit reached, collapsing to silence",
		slog.String("session", sessionID),
		slog.Int("limit", a.maxToolRounds),
	)
	a.metrics.RecordSuppressed(ctx, "tool_rounds_exceeded")
	return "", nil
}

// trimToBudget drops the oldest conversation messages until the prompt fits
// the context budget. The final message, the fresh transcript chunk, is
// never dropped. Tool results stranded at the front after a drop go with
// their vanished assistant turn.
func (a *Agent) trimToBudget(sessionID string, messages []llm.Message) []llm.Message {
	dropped := 0
	for len(messages) > 1 {
		n, err := a.provider.CountTokens(messages)
		if err != nil {
			a.log.Warn("counting prompt tokens",
				slog.String("session", sessionID),
				slog.Any("error", err),
			)
			return messages
		}
		if n <= a.contextBudget {
			break
		}
		messages = messages[1:]
		dropped++
		for len(messages) > 1 && messages[0].Role == "tool" {
			messages = messages[1:]
			dropped++
		}
	}
	if dropped > 0 {
		a.log.Debug("trimmed conversation to context budget",
			slog.String("session", sessionID),
			slog.Int("dropped", dropped),
		)
	}
	return messages
}

// executeTool runs one tool call and returns the content to hand back to the
// model. Execution failure is not fatal to the round; the model receives an
// empty result set and answers without the tool.
func (a *Agent) executeTool(ctx context.Context, sessionID string, call llm.ToolCall) string {
	if a.host == nil {
		return failedToolResult
	}

	start := time.Now()
	result, err := a.host.Execute(ctx, call.Name, call.Arguments)
	status := "ok"
	if err != nil || result.IsError {
		status = "error"
	}
	a.metrics.RecordToolExecution(ctx, call.Name, time.Since(start), status)

	if err != nil {
		a.log.Warn("tool execution failed",
			slog.String("session", sessionID),
			slog.String("tool", call.Name),
			slog.Any("error", err),
		)
		return failedToolResult
	}
	if result.IsError {
		a.log.Warn("tool returned error",
			slog.String("session", sessionID),
			slog.String("tool", call.Name),
			slog.String("message", result.Content),
		)
		return failedToolResult
	}
	return result.Content
}

// persist appends a turn to the session log. Storage failure is logged and
// swallowed; losing a log entry is preferable to losing a live suggestion.
func (a *Agent) persist(ctx context.Context, sessionID string, turn memory.Turn) {
	if err := a.store.Append(ctx, sessionID, turn); err != nil {
		a.log.Warn("persisting conversation turn",
			slog.String("session", sessionID),
			slog.String("kind", string(turn.Kind)),
			slog.Any("error", err),
		)
	}
}

// historyToMessages replays a conversation log as model messages.
func historyToMessages(turns []memory.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Kind {
		case memory.KindAdvisor:
			messages = append(messages, llm.Message{Role: "user", Content: turn.Text})
		case memory.KindAgent:
			messages = append(messages, llm.Message{
				Role:      "assistant",
				Content:   turn.Text,
				ToolCalls: toLLMCalls(turn.ToolCalls),
			})
		case memory.KindTool:
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    turn.Text,
				ToolCallID: turn.ToolCallID,
			})
		}
	}
	return messages
}

// insightHistory extracts the text of prior agent turns for the guard's
// repetition checks. Turns that only carried tool calls are skipped.
func insightHistory(turns []memory.Turn) []string {
	var insights []string
	for _, turn := range turns {
		if turn.Kind != memory.KindAgent {
			continue
		}
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		insights = append(insights, turn.Text)
	}
	return insights
}

func toMemoryCalls(calls []llm.ToolCall) []memory.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]memory.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = memory.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

func toLLMCalls(calls []memory.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}
