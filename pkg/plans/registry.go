package plans

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
)

// Source loads the plan catalogue.
type Source interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// Registry serves validated plan snapshots.
// Reads never observe a half-applied reload: Reload swaps the whole map under the lock.
type Registry struct {
	src   Source
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewRegistry loads and validates the catalogue from src.
// Panics if src is nil to fail fast on misconfiguration.
func NewRegistry(ctx context.Context, src Source) (*Registry, error) {
	if src == nil {
		panic("plans: Source is required")
	}

	r := &Registry{src: src}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the plan with the given ID or ErrPlanNotFound.
func (r *Registry) Get(_ context.Context, planID string) (Plan, error) {
	r.mu.RLock()
	plan, ok := r.plans[planID]
	r.mu.RUnlock()

	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return plan.clone(), nil
}

// List returns all plans ordered by price, then ID.
func (r *Registry) List(_ context.Context) []Plan {
	r.mu.RLock()
	out := make([]Plan, 0, len(r.plans))
	for _, plan := range r.plans {
		out = append(out, plan.clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Plan) int {
		if c := cmp.Compare(a.Price.Amount, b.Price.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Reload replaces the snapshot with a freshly loaded catalogue.
// On failure the previous snapshot stays in service.
func (r *Registry) Reload(ctx context.Context) error {
	loaded, err := r.src.Load(ctx)
	if err != nil {
		return errors.Join(ErrFailedToLoadPlans, err)
	}
	if loaded == nil {
		loaded = make(map[string]Plan)
	}
	if err := Validate(loaded); err != nil {
		return err
	}

	r.mu.Lock()
	r.plans = clonePlans(loaded)
	r.mu.Unlock()
	return nil
}
