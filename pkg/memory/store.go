// Package memory defines the durable store for saved conversations.
//
// A [Memory] is a finished conversation the user explicitly chose to keep:
// the full transcript plus session metadata. The conversation core only ever
// calls SaveMemory — the remaining operations serve listing, retrieval, and
// full-text search from the CLI surface.
//
// The interface is public so that external packages can supply alternative
// storage backends (Postgres, SQLite, in-memory, …) without depending on
// reverie internals. Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"

	"github.com/reverie-voice/reverie/pkg/types"
)

// Memory is one saved conversation.
type Memory struct {
	// ID is the unique, stable identifier assigned when the conversation
	// session was created.
	ID string

	// AgentID identifies the remote voice agent the conversation was held with.
	AgentID string

	// Title is a short human-readable label. Implementations may derive it
	// from the first utterance when empty.
	Title string

	// Transcript is the full ordered utterance sequence.
	Transcript types.Transcript

	// StartedAt and EndedAt bound the live conversation.
	StartedAt time.Time
	EndedAt   time.Time

	// SavedAt is when the user confirmed the save.
	SavedAt time.Time
}

// ListOpts refines a ListMemories call. All non-zero fields are applied as
// AND conditions.
type ListOpts struct {
	// AgentID restricts results to conversations with a single agent.
	AgentID string

	// After filters memories saved after this instant (exclusive).
	After time.Time

	// Before filters memories saved before this instant (exclusive).
	Before time.Time

	// Limit caps the number of results returned. A value of 0 means the
	// implementation may apply its own default.
	Limit int
}

// Store persists saved conversations.
type Store interface {
	// SaveMemory writes m durably. Saving the same ID twice replaces the
	// previous record (upsert), which makes a retry after a partial failure
	// safe.
	SaveMemory(ctx context.Context, m Memory) error

	// GetMemory retrieves a memory by ID. Returns (nil, nil) when no memory
	// with that ID exists.
	GetMemory(ctx context.Context, id string) (*Memory, error)

	// ListMemories returns memories matching opts, most recently saved first.
	// Returns an empty (non-nil) slice when nothing matches.
	ListMemories(ctx context.Context, opts ListOpts) ([]Memory, error)

	// SearchMemories performs full-text search over transcript content.
	// Results are ordered by relevance. Returns an empty (non-nil) slice when
	// nothing matches.
	SearchMemories(ctx context.Context, query string, opts ListOpts) ([]Memory, error)

	// DeleteMemory removes the memory with the given ID. Deleting a
	// non-existent memory is not an error.
	DeleteMemory(ctx context.Context, id string) error
}
