package counting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"movement-tally/internal/tally"
)

// Repository defines the concurrency-safe contract for accessing live counting
// sessions and writing them back to persistent storage.
type Repository interface {
	// Create starts an empty session counting tags from reg and persists it.
	Create(ctx context.Context, reg tally.Registry) (SessionID, *tally.Session, error)

	// Get returns the live session for id, rehydrating it from the Store if it
	// is not resident. ErrSessionNotFound is returned for unknown ids.
	// Callers must treat the returned session as read-only; mutations go
	// through Update.
	Get(ctx context.Context, id SessionID) (*tally.Session, error)

	// Update applies fn to a copy of the session and, if fn reports a change,
	// saves the copy before it replaces the live session. When fn or the save
	// fails the live session is left as it was. Updates to one session are
	// serialized. The returned session is the one live after the call.
	Update(ctx context.Context, id SessionID, fn func(s *tally.Session) (changed bool, err error)) (*tally.Session, error)

	// Delete drops the session from memory and from the Store.
	// Deleting an unknown session is a no-op.
	Delete(ctx context.Context, id SessionID) error

	// ActiveSessionCount returns the number of resident sessions.
	// Used for metrics.
	ActiveSessionCount() int
}

// ErrSessionNotFound is returned when a session id is neither resident nor stored.
var ErrSessionNotFound = errors.New("session not found")

// entry is a resident session. mu serializes updates; sess is replaced only
// while holding both mu and the repository lock.
type entry struct {
	mu      sync.Mutex
	sess    *tally.Session
	deleted bool
}

// InMemoryRepository keeps live sessions in memory and writes through to a Store.
// By default that is an InMemoryStore.
type InMemoryRepository struct {
	mu       sync.RWMutex
	sessions map[SessionID]*entry
	store    Store
	newID    func() SessionID
	now      func() time.Time
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
// Useful for testing or for plugging in a different persistence backend.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{
		sessions: make(map[SessionID]*entry),
		store:    store,
		newID:    func() SessionID { return SessionID(uuid.NewString()) },
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create implements Repository.Create.
func (r *InMemoryRepository) Create(ctx context.Context, reg tally.Registry) (SessionID, *tally.Session, error) {
	id := r.newID()
	s := tally.NewSession(reg)
	if err := r.save(ctx, id, s); err != nil {
		return "", nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &entry{sess: s}
	return id, s, nil
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(ctx context.Context, id SessionID) (*tally.Session, error) {
	e, err := r.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.sess, nil
}

// Update implements Repository.Update.
func (r *InMemoryRepository) Update(ctx context.Context, id SessionID, fn func(s *tally.Session) (bool, error)) (*tally.Session, error) {
	e, err := r.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, ErrSessionNotFound
	}

	cur := e.sess
	next := cur.Clone()
	changed, err := fn(next)
	if err != nil {
		return cur, err
	}
	if !changed {
		return cur, nil
	}
	if err := r.save(ctx, id, next); err != nil {
		return cur, err
	}

	r.mu.Lock()
	e.sess = next
	r.mu.Unlock()
	return next, nil
}

// Delete implements Repository.Delete.
func (r *InMemoryRepository) Delete(ctx context.Context, id SessionID) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		// Wait out an in-flight update so it cannot save after the delete.
		e.mu.Lock()
		defer e.mu.Unlock()
		e.deleted = true
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// ActiveSessionCount implements Repository.ActiveSessionCount.
func (r *InMemoryRepository) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// entry returns the resident entry for id, loading it from the store on a miss.
func (r *InMemoryRepository) entry(ctx context.Context, id SessionID) (*entry, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have loaded it while we waited for the write lock.
	if e, ok := r.sessions[id]; ok {
		return e, nil
	}

	rec, found, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if !found {
		return nil, ErrSessionNotFound
	}

	s, err := tally.Restore(rec.State)
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", id, err)
	}
	e = &entry{sess: s}
	r.sessions[id] = e
	return e, nil
}

// save snapshots s and writes it to the store.
func (r *InMemoryRepository) save(ctx context.Context, id SessionID, s *tally.Session) error {
	rec := Record{
		ID:        id,
		Kind:      s.Registry().Name(),
		State:     s.State(),
		UpdatedAt: r.now(),
	}
	if err := r.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}
