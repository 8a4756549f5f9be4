// Package memory provides an in-memory run store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kbrapp1/sourcebatch/internal/store"
)

// Store keeps run records in a map guarded by an RWMutex.
type Store struct {
	mu   sync.RWMutex
	runs map[string]store.RunRecord
}

// NewStore constructs a Store.
func NewStore() *Store {
	return &Store{
		runs: make(map[string]store.RunRecord),
	}
}

// SaveRun stores a completed run record.
func (s *Store) SaveRun(_ context.Context, record store.RunRecord) error {
	if record.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[record.ID]; exists {
		return fmt.Errorf("run %q already exists", record.ID)
	}
	s.runs[record.ID] = record
	return nil
}

// GetRun fetches a run record by ID.
func (s *Store) GetRun(_ context.Context, id string) (store.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.runs[id]
	if !ok {
		return store.RunRecord{}, store.ErrNotFound
	}
	return record, nil
}

// ListRuns returns a newest-first page of run history.
func (s *Store) ListRuns(_ context.Context, query store.ListQuery) ([]store.RunRecord, error) {
	limit := store.ClampLimit(query.Limit)

	s.mu.RLock()
	all := make([]store.RunRecord, 0, len(s.runs))
	for _, record := range s.runs {
		if !query.Before.IsZero() && !record.CreatedAt.Before(query.Before) {
			continue
		}
		all = append(all, record)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}
