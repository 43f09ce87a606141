package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reverie-voice/reverie/pkg/memory"
	"github.com/reverie-voice/reverie/pkg/types"
)

// Compile-time assertion that Store satisfies memory.Store.
var _ memory.Store = (*Store)(nil)

// defaultListLimit caps ListMemories / SearchMemories results when the caller
// does not set one.
const defaultListLimit = 50

// Store is the PostgreSQL-backed memory store.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, runs the idempotent migration,
// and returns a ready Store.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("memory store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity. Readiness probes use it.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveMemory implements [memory.Store]. The header row and all utterance rows
// are written in one transaction; re-saving an ID replaces the transcript.
func (s *Store) SaveMemory(ctx context.Context, m memory.Memory) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("memory store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	title := m.Title
	if title == "" && len(m.Transcript) > 0 {
		title = deriveTitle(m.Transcript[0].Text)
	}

	const upsert = `
		INSERT INTO memories (id, agent_id, title, started_at, ended_at, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    agent_id   = EXCLUDED.agent_id,
		    title      = EXCLUDED.title,
		    started_at = EXCLUDED.started_at,
		    ended_at   = EXCLUDED.ended_at,
		    saved_at   = EXCLUDED.saved_at`

	if _, err := tx.Exec(ctx, upsert, m.ID, m.AgentID, title, m.StartedAt, m.EndedAt, m.SavedAt); err != nil {
		return fmt.Errorf("memory store: upsert memory: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM memory_utterances WHERE memory_id = $1`, m.ID); err != nil {
		return fmt.Errorf("memory store: clear utterances: %w", err)
	}

	const insertUtterance = `
		INSERT INTO memory_utterances (memory_id, position, speaker, text, timestamp)
		VALUES ($1, $2, $3, $4, $5)`

	for i, u := range m.Transcript {
		if _, err := tx.Exec(ctx, insertUtterance, m.ID, i, string(u.Speaker), u.Text, u.Timestamp); err != nil {
			return fmt.Errorf("memory store: insert utterance %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("memory store: commit: %w", err)
	}
	return nil
}

// GetMemory implements [memory.Store].
func (s *Store) GetMemory(ctx context.Context, id string) (*memory.Memory, error) {
	const q = `
		SELECT id, agent_id, title, started_at, ended_at, saved_at
		FROM   memories
		WHERE  id = $1`

	var m memory.Memory
	err := s.pool.QueryRow(ctx, q, id).Scan(&m.ID, &m.AgentID, &m.Title, &m.StartedAt, &m.EndedAt, &m.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory store: get memory: %w", err)
	}

	transcript, err := s.loadTranscript(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Transcript = transcript
	return &m, nil
}

// ListMemories implements [memory.Store]. Transcripts are loaded for each
// returned memory.
func (s *Store) ListMemories(ctx context.Context, opts memory.ListOpts) ([]memory.Memory, error) {
	args := []any{}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"TRUE"}
	if opts.AgentID != "" {
		conditions = append(conditions, "agent_id = "+next(opts.AgentID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "saved_at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "saved_at < "+next(opts.Before))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	q := "SELECT id, agent_id, title, started_at, ended_at, saved_at\n" +
		"FROM   memories\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY saved_at DESC\n" +
		fmt.Sprintf("LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory store: list: %w", err)
	}
	return s.collectMemories(ctx, rows)
}

// SearchMemories implements [memory.Store]. It performs a PostgreSQL
// full-text search over utterance text; the query is passed to
// plainto_tsquery so no special operator syntax is required.
func (s *Store) SearchMemories(ctx context.Context, query string, opts memory.ListOpts) ([]memory.Memory, error) {
	args := []any{query}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', u.text) @@ plainto_tsquery('english', $1)",
	}
	if opts.AgentID != "" {
		conditions = append(conditions, "m.agent_id = "+next(opts.AgentID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "m.saved_at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "m.saved_at < "+next(opts.Before))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	q := "SELECT m.id, m.agent_id, m.title, m.started_at, m.ended_at, m.saved_at\n" +
		"FROM   memories m\n" +
		"JOIN   memory_utterances u ON u.memory_id = m.id\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"GROUP  BY m.id\n" +
		"ORDER  BY MAX(ts_rank(to_tsvector('english', u.text), plainto_tsquery('english', $1))) DESC\n" +
		fmt.Sprintf("LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory store: search: %w", err)
	}
	return s.collectMemories(ctx, rows)
}

// DeleteMemory implements [memory.Store]. Utterance rows cascade.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id); err != nil {
		return fmt.Errorf("memory store: delete: %w", err)
	}
	return nil
}

// loadTranscript reads the ordered utterance rows for one memory.
func (s *Store) loadTranscript(ctx context.Context, memoryID string) (types.Transcript, error) {
	const q = `
		SELECT speaker, text, timestamp
		FROM   memory_utterances
		WHERE  memory_id = $1
		ORDER  BY position`

	rows, err := s.pool.Query(ctx, q, memoryID)
	if err != nil {
		return nil, fmt.Errorf("memory store: load transcript: %w", err)
	}

	transcript, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Utterance, error) {
		var (
			u       types.Utterance
			speaker string
		)
		if err := row.Scan(&speaker, &u.Text, &u.Timestamp); err != nil {
			return types.Utterance{}, err
		}
		u.Speaker = types.Speaker(speaker)
		return u, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: scan transcript: %w", err)
	}
	if transcript == nil {
		transcript = types.Transcript{}
	}
	return transcript, nil
}

// collectMemories scans memory header rows and loads each transcript.
func (s *Store) collectMemories(ctx context.Context, rows pgx.Rows) ([]memory.Memory, error) {
	headers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Memory, error) {
		var m memory.Memory
		err := row.Scan(&m.ID, &m.AgentID, &m.Title, &m.StartedAt, &m.EndedAt, &m.SavedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: scan rows: %w", err)
	}

	for i := range headers {
		transcript, err := s.loadTranscript(ctx, headers[i].ID)
		if err != nil {
			return nil, err
		}
		headers[i].Transcript = transcript
	}
	if headers == nil {
		headers = []memory.Memory{}
	}
	return headers, nil
}

// deriveTitle produces a short title from the first utterance. Truncation
// counts runes so multi-byte text is never cut mid-character.
func deriveTitle(text string) string {
	const maxTitle = 60
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= maxTitle {
		return text
	}
	head := string(runes[:maxTitle])
	if cut := strings.LastIndex(head, " "); cut > 0 {
		head = head[:cut]
	}
	return head + "…"
}
