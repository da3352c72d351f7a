package subscription

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps subscriptions and payments in process memory.
// Suitable for tests and single-instance development.
type MemoryStore struct {
	mu       sync.RWMutex
	current  map[string]*Subscription
	history  map[string][]Subscription
	payments map[string]Payment // provider:txn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		current:  make(map[string]*Subscription),
		history:  make(map[string][]Subscription),
		payments: make(map[string]Payment),
	}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.current[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.current[sub.UserID]; ok {
		return ErrSubscriptionAlreadyExists
	}
	s.current[sub.UserID] = sub.clone()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.current[sub.UserID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if stored.ID != sub.ID || stored.Version != sub.Version {
		return ErrConcurrentUpdate
	}
	sub.Version++
	s.current[sub.UserID] = sub.clone()
	return nil
}

func (s *MemoryStore) Replace(ctx context.Context, old, next *Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.current[old.UserID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if stored.ID != old.ID || stored.Version != old.Version {
		return ErrConcurrentUpdate
	}
	s.history[old.UserID] = append(s.history[old.UserID], *old.clone())
	s.current[old.UserID] = next.clone()
	return nil
}

func (s *MemoryStore) History(ctx context.Context, userID string) ([]Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.history[userID]
	out := make([]Subscription, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, *src[i].clone())
	}
	return out, nil
}

func (s *MemoryStore) ListDue(ctx context.Context, now time.Time, afterUserID string, limit int) ([]Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Subscription, 0)
	for userID, sub := range s.current {
		if userID <= afterUserID || !sub.Entitled() || sub.PeriodEnd.After(now) {
			continue
		}
		out = append(out, *sub.clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Subscription) int { return cmp.Compare(a.UserID, b.UserID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RecordPayment(ctx context.Context, p *Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.Provider + ":" + p.GatewayTxnID
	if _, ok := s.payments[key]; ok {
		return ErrDuplicatePayment
	}
	s.payments[key] = *p
	return nil
}

func (s *MemoryStore) Payment(ctx context.Context, provider, gatewayTxnID string) (*Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[provider+":"+gatewayTxnID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (s *MemoryStore) SettlePayment(ctx context.Context, provider, gatewayTxnID, subscriptionID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := provider + ":" + gatewayTxnID
	p, ok := s.payments[key]
	if !ok {
		return ErrPaymentNotFound
	}
	if p.SettledAt == nil {
		at = at.UTC()
		p.SettledAt = &at
		p.SubscriptionID = subscriptionID
		s.payments[key] = p
	}
	return nil
}

func clonePayment(p Payment) *Payment {
	if p.SettledAt != nil {
		at := *p.SettledAt
		p.SettledAt = &at
	}
	return &p
}

func (s *MemoryStore) Payments(ctx context.Context, userID string) ([]Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Payment, 0)
	for _, p := range s.payments {
		if p.UserID == userID {
			out = append(out, *clonePayment(p))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Payment) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

var (
	_ Store        = (*MemoryStore)(nil)
	_ PaymentStore = (*MemoryStore)(nil)
)
