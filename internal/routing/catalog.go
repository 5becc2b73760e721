package routing

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
)

// DefaultQueryLimit caps how many candidates a query returns.
const DefaultQueryLimit = 10

// Query filters the catalog. Empty fields match anything.
type Query struct {
	PaymentMethod string
	SourceChain   string
	TargetChain   string
	Limit         int
}

// Matches reports whether r satisfies the filters (ignoring Active).
func (q Query) Matches(r CandidateRoute) bool {
	if q.PaymentMethod != "" && q.PaymentMethod != r.PaymentMethod {
		return false
	}
	if q.SourceChain != "" && q.SourceChain != r.SourceChain {
		return false
	}
	if q.TargetChain != "" && q.TargetChain != r.TargetChain {
		return false
	}
	return true
}

// Catalog returns active routes matching a query, best historical success first.
type Catalog interface {
	Routes(ctx context.Context, q Query) ([]CandidateRoute, error)
}

// MemoryCatalog serves an immutable snapshot that is swapped atomically on
// refresh. Readers never block writers.
type MemoryCatalog struct {
	snapshot atomic.Pointer[[]CandidateRoute]
}

// NewMemoryCatalog creates a catalog seeded with routes.
func NewMemoryCatalog(routes []CandidateRoute) (*MemoryCatalog, error) {
	c := &MemoryCatalog{}
	if err := c.Replace(routes); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace validates routes and installs them as the new snapshot. On error
// the previous snapshot stays in place.
func (c *MemoryCatalog) Replace(routes []CandidateRoute) error {
	seen := make(map[string]bool, len(routes))
	next := make([]CandidateRoute, 0, len(routes))
	for _, r := range routes {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("invalid route: %w", err)
		}
		if seen[r.RouteID] {
			return fmt.Errorf("duplicate route_id %s", r.RouteID)
		}
		seen[r.RouteID] = true
		next = append(next, r)
	}

	sort.Slice(next, func(i, j int) bool {
		if next[i].SuccessRate != next[j].SuccessRate {
			return next[i].SuccessRate > next[j].SuccessRate
		}
		return next[i].RouteID < next[j].RouteID
	})

	c.snapshot.Store(&next)
	return nil
}

// Len returns the number of routes in the snapshot, active or not.
func (c *MemoryCatalog) Len() int {
	p := c.snapshot.Load()
	if p == nil {
		return 0
	}
	return len(*p)
}

// Routes implements Catalog.
func (c *MemoryCatalog) Routes(_ context.Context, q Query) ([]CandidateRoute, error) {
	p := c.snapshot.Load()
	if p == nil {
		return nil, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var out []CandidateRoute
	for _, r := range *p {
		if !r.Active || !q.Matches(r) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
