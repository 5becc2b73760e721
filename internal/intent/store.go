package intent

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists intents.
type Store interface {
	Create(ctx context.Context, in *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	// Update writes in only if the stored status is still prev.
	Update(ctx context.Context, in *Intent, prev Status) error
	// List returns an owner's intents, newest first. An empty status
	// matches every status.
	List(ctx context.Context, ownerID string, status Status, limit, offset int) ([]*Intent, error)
	// ListExpirable returns ids of created intents whose deadline is at or
	// before now.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type ownerStatus struct {
	owner  string
	status Status
}

// MemoryStore is an in-process Store indexed by (owner, status).
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*Intent
	index   map[ownerStatus]map[string]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[string]*Intent),
		index:   make(map[ownerStatus]map[string]struct{}),
	}
}

func (s *MemoryStore) indexAdd(in *Intent) {
	k := ownerStatus{in.OwnerID, in.Status}
	ids, ok := s.index[k]
	if !ok {
		ids = make(map[string]struct{})
		s.index[k] = ids
	}
	ids[in.ID] = struct{}{}
}

func (s *MemoryStore) indexRemove(in *Intent) {
	k := ownerStatus{in.OwnerID, in.Status}
	delete(s.index[k], in.ID)
	if len(s.index[k]) == 0 {
		delete(s.index, k)
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, in *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[in.ID]; ok {
		return ErrConflict
	}
	c := in.Clone()
	s.intents[in.ID] = c
	s.indexAdd(c)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return in.Clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, in *Intent, prev Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.intents[in.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != prev {
		return ErrConflict
	}
	s.indexRemove(cur)
	c := in.Clone()
	s.intents[in.ID] = c
	s.indexAdd(c)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, ownerID string, status Status, limit, offset int) ([]*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := Statuses
	if status != "" {
		statuses = []Status{status}
	}

	var out []*Intent
	for _, st := range statuses {
		for id := range s.index[ownerStatus{ownerID, st}] {
			out = append(out, s.intents[id].Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListExpirable implements Store.
func (s *MemoryStore) ListExpirable(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, in := range s.intents {
		if in.IsExpiredAt(now) {
			ids = append(ids, in.ID)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
