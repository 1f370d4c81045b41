// Package registry remembers wizard runs a user started but has not seen settle,
// so they can be resumed later. It is advisory: the server stays the source of
// truth for every session.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Entry is one unfinished wizard run
type Entry struct {
	ServerId    string    `json:"server_id"`
	Scope       string    `json:"scope"`
	Description string    `json:"description"`
	StartedAt   time.Time `json:"started_at"`
}

// Store persists the entries of one scope as a unit
type Store interface {
	Load(ctx context.Context, scope string) ([]Entry, error)
	Save(ctx context.Context, scope string, entries []Entry) error
}

// Registry adds, removes and lists entries per scope
type Registry struct {
	store Store
	now   func() time.Time
	mu    sync.Mutex
}

// New creates a registry on store
func New(store Store) *Registry {
	return &Registry{
		store: store,
		now:   time.Now,
	}
}

// Add records a run. Adding a server id that is already present is a no-op.
func (r *Registry) Add(ctx context.Context, scope, serverId, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.store.Load(ctx, scope)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	for _, e := range entries {
		if e.ServerId == serverId {
			return nil
		}
	}

	entries = append(entries, Entry{
		ServerId:    serverId,
		Scope:       scope,
		Description: description,
		StartedAt:   r.now().UTC(),
	})
	if err := r.store.Save(ctx, scope, entries); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return nil
}

// Remove forgets a run. Removing an unknown server id is a no-op.
func (r *Registry) Remove(ctx context.Context, scope, serverId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.store.Load(ctx, scope)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	kept := entries[:0]
	for _, e := range entries {
		if e.ServerId != serverId {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	if err := r.store.Save(ctx, scope, kept); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return nil
}

// List returns the runs of scope, oldest first
func (r *Registry) List(ctx context.Context, scope string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.store.Load(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// MemoryStore keeps entries in process memory
type MemoryStore struct {
	mu     sync.Mutex
	scopes map[string][]Entry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: make(map[string][]Entry)}
}

func (s *MemoryStore) Load(ctx context.Context, scope string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.scopes[scope]...), nil
}

func (s *MemoryStore) Save(ctx context.Context, scope string, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(entries) == 0 {
		delete(s.scopes, scope)
		return nil
	}
	s.scopes[scope] = append([]Entry(nil), entries...)
	return nil
}
