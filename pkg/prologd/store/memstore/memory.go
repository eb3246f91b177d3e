package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cognicore/prologd/pkg/prologd/internalerr"
	"github.com/cognicore/prologd/pkg/prologd/store"
)

// Store is an in-memory implementation of store.Store for tests and for
// servers run without a database.
type Store struct {
	mu      sync.RWMutex
	sources map[string]store.Source
	queries map[string]store.QueryRecord
	order   []string
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		sources: make(map[string]store.Source),
		queries: make(map[string]store.QueryRecord),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// UpsertSource inserts or replaces a source, keyed by name.
func (s *Store) UpsertSource(ctx context.Context, src store.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if src.UpdatedAt.IsZero() {
		src.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.Name] = src
	return nil
}

// GetSource returns a source by name.
func (s *Store) GetSource(ctx context.Context, name string) (store.Source, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[name]
	return src, ok, nil
}

// Sources returns all sources sorted by name.
func (s *Store) Sources(ctx context.Context) ([]store.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]store.Source, 0, len(s.sources))
	for _, src := range s.sources {
		result = append(result, src)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// DeleteSource removes a source.
func (s *Store) DeleteSource(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[name]; !ok {
		return fmt.Errorf("source %s: %w", name, internalerr.ErrNotFound)
	}
	delete(s.sources, name)
	return nil
}

// RecordOpen journals a newly opened query.
func (s *Store) RecordOpen(ctx context.Context, rec store.QueryRecord) error {
	if rec.Status == "" {
		rec.Status = store.StatusOpen
	}
	if rec.OpenedAt.IsZero() {
		rec.OpenedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queries[rec.ID]; ok {
		return fmt.Errorf("query %s: %w", rec.ID, internalerr.ErrDuplicate)
	}
	s.queries[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return nil
}

// RecordClose stores the final status of a query.
func (s *Store) RecordClose(ctx context.Context, id, status, errText string, solutions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.queries[id]
	if !ok {
		return fmt.Errorf("query %s: %w", id, internalerr.ErrNotFound)
	}
	rec.Status = status
	rec.Error = errText
	rec.Solutions = solutions
	rec.ClosedAt = time.Now()
	s.queries[id] = rec
	return nil
}

// GetQuery returns a journal entry by id.
func (s *Store) GetQuery(ctx context.Context, id string) (store.QueryRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.queries[id]
	return rec, ok, nil
}

// RecentQueries returns up to limit entries, newest first.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]store.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []store.QueryRecord
	for i := len(s.order) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.queries[s.order[i]])
	}
	return result, nil
}
