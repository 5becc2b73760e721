package grant

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists grants and their usage ledger.
type Store interface {
	Create(ctx context.Context, g *Grant) error
	Get(ctx context.Context, id string) (*Grant, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Grant, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	AppendUsage(ctx context.Context, grantID string, entry UsageEntry) error
}

// MemoryStore is an in-process Store. Returned grants are copies.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[string]*Grant
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{grants: make(map[string]*Grant)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, g *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[g.ID]; ok {
		return ErrAlreadyExists
	}
	s.grants[g.ID] = g.Clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

// ListByOwner implements Store, newest first.
func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Grant
	for _, g := range s.grants {
		if g.OwnerID == ownerID {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Revoke implements Store.
func (s *MemoryStore) Revoke(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return ErrNotFound
	}
	if g.Revoked {
		return nil
	}
	g.Revoked = true
	g.RevokedAt = &at
	return nil
}

// AppendUsage implements Store.
func (s *MemoryStore) AppendUsage(_ context.Context, grantID string, entry UsageEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok {
		return ErrNotFound
	}
	g.Usage = append(g.Usage, entry)
	return nil
}
