// Package postgres provides a PostgreSQL-backed implementation of the
// [memory.Store] interface.
//
// Saved conversations live in two tables: a memories header row and one
// memory_utterances row per transcript turn, with a GIN full-text index over
// utterance text for SearchMemories. A single [pgxpool.Pool] is shared by all
// operations.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveMemory(ctx, mem)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlMemories = `
CREATE TABLE IF NOT EXISTS memories (
    id          TEXT         PRIMARY KEY,
    agent_id    TEXT         NOT NULL,
    title       TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL,
    saved_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memories_agent_id
    ON memories (agent_id);

CREATE INDEX IF NOT EXISTS idx_memories_saved_at
    ON memories (saved_at);
`

const ddlMemoryUtterances = `
CREATE TABLE IF NOT EXISTS memory_utterances (
    memory_id  TEXT         NOT NULL REFERENCES memories (id) ON DELETE CASCADE,
    position   INT          NOT NULL,
    speaker    TEXT         NOT NULL,
    text       TEXT         NOT NULL,
    timestamp  TIMESTAMPTZ  NOT NULL,
    PRIMARY KEY (memory_id, position)
);

CREATE INDEX IF NOT EXISTS idx_memory_utterances_fts
    ON memory_utterances USING GIN (to_tsvector('english', text));
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlMemories,
		ddlMemoryUtterances,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
