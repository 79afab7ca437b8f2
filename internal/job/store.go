package job

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound indicates no record exists for the given job ID.
var ErrNotFound = errors.New("job: not found")

// Store is the persistence contract for job records. The orchestrator
// is the only writer; solver backends never touch the store.
type Store interface {
	// Save persists the record, replacing any prior version.
	Save(ctx context.Context, rec *Record) error

	// Load retrieves a record by job ID, or ErrNotFound.
	Load(ctx context.Context, id string) (*Record, error)

	// List returns all records ordered by creation time.
	List(ctx context.Context) ([]*Record, error)
}

// MemoryStore is an in-process Store for tests and single-run CLI use.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]*Record)}
}

func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
