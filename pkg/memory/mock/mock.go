// Package mock provides an in-memory test double for the memory.Store
// interface. It records every call and supports configurable errors.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/reverie-voice/reverie/pkg/memory"
)

// Store is a mock implementation of memory.Store backed by a map.
type Store struct {
	mu sync.Mutex

	// SaveErr, if non-nil, is returned by every SaveMemory call.
	SaveErr error

	// DeleteErr, if non-nil, is returned by every DeleteMemory call.
	DeleteErr error

	// Saved records every memory successfully stored, in order.
	Saved []memory.Memory

	// SaveAttempts counts every SaveMemory call, including failed ones.
	SaveAttempts int

	memories map[string]memory.Memory
}

// SaveMemory records the call and stores m unless SaveErr is set.
func (s *Store) SaveMemory(_ context.Context, m memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveAttempts++
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if s.memories == nil {
		s.memories = make(map[string]memory.Memory)
	}
	s.Saved = append(s.Saved, m)
	s.memories[m.ID] = m
	return nil
}

// GetMemory returns the stored memory or (nil, nil).
func (s *Store) GetMemory(_ context.Context, id string) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// ListMemories returns all stored memories matching opts in unspecified order.
func (s *Store) ListMemories(_ context.Context, opts memory.ListOpts) ([]memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []memory.Memory{}
	for _, m := range s.memories {
		if opts.AgentID != "" && m.AgentID != opts.AgentID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// SearchMemories returns memories whose transcript contains query as a
// case-insensitive substring.
func (s *Store) SearchMemories(_ context.Context, query string, opts memory.ListOpts) ([]memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(query)
	out := []memory.Memory{}
	for _, m := range s.memories {
		if opts.AgentID != "" && m.AgentID != opts.AgentID {
			continue
		}
		if strings.Contains(strings.ToLower(m.Transcript.Text()), q) {
			out = append(out, m)
		}
	}
	return out, nil
}

// DeleteMemory removes the memory unless DeleteErr is set.
func (s *Store) DeleteMemory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.memories, id)
	return nil
}

// SaveCount returns the number of successful SaveMemory calls. Thread-safe.
func (s *Store) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Saved)
}

var _ memory.Store = (*Store)(nil)
