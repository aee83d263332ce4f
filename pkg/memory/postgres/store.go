// Package postgres provides a PostgreSQL-backed implementation of
// memory.Store.
//
// Conversation logs are kept in a single conversation_turns table so that a
// backend restart in the middle of an advisory call does not wipe the agent's
// context. The schema is created on startup via [Migrate].
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, sessionID, turn)
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souffleur-ai/souffleur/pkg/memory"
)

const ddlConversationTurns = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    kind         TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    tool_calls   JSONB        NOT NULL DEFAULT '[]',
    tool_call_id TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_session
    ON conversation_turns (session_id, id);
`

// Store is a PostgreSQL-backed memory.Store. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time check that *Store satisfies memory.Store.
var _ memory.Store = (*Store)(nil)

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates the conversation_turns table if it does not exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversationTurns); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Append implements memory.Store.
func (s *Store) Append(ctx context.Context, sessionID string, turn memory.Turn) error {
	if sessionID == "" {
		return fmt.Errorf("postgres store: sessionID must not be empty")
	}

	toolCalls, err := json.Marshal(turn.ToolCalls)
	if err != nil {
		return fmt.Errorf("postgres store: marshal tool calls: %w", err)
	}

	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const q = `
		INSERT INTO conversation_turns
		    (session_id, kind, text, tool_calls, tool_call_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = s.pool.Exec(ctx, q,
		sessionID,
		string(turn.Kind),
		turn.Text,
		toolCalls,
		turn.ToolCallID,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append turn: %w", err)
	}
	return nil
}

// Turns implements memory.Store. Results are ordered by insertion.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]memory.Turn, error) {
	const q = `
		SELECT kind, text, tool_calls, tool_call_id, created_at
		FROM   conversation_turns
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query turns: %w", err)
	}

	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Turn, error) {
		var (
			t         memory.Turn
			kind      string
			toolCalls []byte
		)
		if err := row.Scan(&kind, &t.Text, &toolCalls, &t.ToolCallID, &t.CreatedAt); err != nil {
			return memory.Turn{}, err
		}
		t.Kind = memory.Kind(kind)
		if err := json.Unmarshal(toolCalls, &t.ToolCalls); err != nil {
			return memory.Turn{}, err
		}
		if len(t.ToolCalls) == 0 {
			t.ToolCalls = nil
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan turns: %w", err)
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	return turns, nil
}

// Clear implements memory.Store.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	const q = `DELETE FROM conversation_turns WHERE session_id = $1`
	if _, err := s.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("postgres store: clear session: %w", err)
	}
	return nil
}
