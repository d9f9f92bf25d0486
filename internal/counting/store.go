package counting

import (
	"context"
	"sort"
	"sync"
)

// Store is the persistence abstraction for session state: the load/save hooks
// a counting session is rehydrated from and written back to.
// Implementations can be in-memory, SQLite-backed, or remote.
// The Repository uses Store for all persistence; callers of Repository
// do not need to know which Store is used.
type Store interface {
	Load(ctx context.Context, id SessionID) (Record, bool, error)
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id SessionID) error
	List(ctx context.Context) ([]SessionID, error)
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[SessionID]Record
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[SessionID]Record),
	}
}

// Load implements Store.Load.
func (s *InMemoryStore) Load(_ context.Context, id SessionID) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok, nil
}

// Save implements Store.Save.
func (s *InMemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(_ context.Context, id SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// List implements Store.List. IDs are sorted.
func (s *InMemoryStore) List(_ context.Context) ([]SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]SessionID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
