// Package memory defines the conversation store shared by all advisory
// sessions.
//
// Each session accumulates a time-ordered log of Turn values: transcript
// chunks from the advisor's call, the agent's accepted suggestions, and the
// tool results the agent consulted along the way. The log is what gives the
// agent continuity across dispatches within one call; replaying it as model
// messages lets a later dispatch build on an earlier suggestion instead of
// repeating it.
//
// Two implementations are provided: memstore (in-process, lost on restart)
// and postgres (durable, survives backend restarts mid-call).
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Kind classifies who produced a conversation turn.
type Kind string

const (
	// KindAdvisor marks a transcript chunk spoken during the call.
	KindAdvisor Kind = "advisor"

	// KindAgent marks a suggestion produced by the insight agent. Only
	// accepted suggestions are stored; silence and suppressed output never
	// enter the log.
	KindAgent Kind = "agent"

	// KindTool marks the result of a tool invocation the agent requested.
	KindTool Kind = "tool"
)

// ToolCall records a tool invocation attached to an agent turn.
type ToolCall struct {
	// ID is the model-assigned identifier for this call.
	ID string `json:"id"`

	// Name is the tool name.
	Name string `json:"name"`

	// Arguments is the JSON-encoded arguments string.
	Arguments string `json:"arguments"`
}

// Turn is one entry in a session's conversation log.
type Turn struct {
	// Kind identifies the producer of this turn.
	Kind Kind

	// Text is the turn content. For KindAgent turns this is the raw model
	// output before display filtering, so the agent sees its own full answer
	// on the next dispatch.
	Text string

	// ToolCalls holds the tool invocations an agent turn requested. Empty
	// for advisor and tool turns.
	ToolCalls []ToolCall

	// ToolCallID links a KindTool turn to the agent tool call it answers.
	ToolCallID string

	// CreatedAt is when the turn was appended to the log.
	CreatedAt time.Time
}

// Store is a per-session, append-only conversation log.
//
// Turns must be returned in append order. Implementations must be safe for
// concurrent use; distinct sessions never block each other.
type Store interface {
	// Append adds a turn to the log for sessionID. sessionID must be
	// non-empty. Returns an error only on storage failure.
	Append(ctx context.Context, sessionID string, turn Turn) error

	// Turns returns the full log for sessionID in append order.
	// Returns an empty (non-nil) slice for an unknown session.
	Turns(ctx context.Context, sessionID string) ([]Turn, error)

	// Clear removes all turns for sessionID. Clearing an unknown session is
	// not an error.
	Clear(ctx context.Context, sessionID string) error
}
