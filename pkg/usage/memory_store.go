package usage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Creating a record for a new
// period drops the grants whose retention ended before that period started.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	rec           Record
	grants        map[string]*grant
	grantsExpired time.Time
}

type grant struct {
	amount   int64
	released bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memoryRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, key RecordKey, period Period) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(key, period).rec, nil
}

func (s *MemoryStore) Consume(ctx context.Context, c Consumption, period Period, limit int64) (Record, bool, error) {
	if !validAmount(c.Amount) {
		return Record{}, false, ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.getOrCreate(c.Key(), period)
	if r := room(c.Amount, limit); r < 0 || m.rec.Used > r {
		return m.rec, false, nil
	}

	m.rec.Used += c.Amount
	m.rec.UpdatedAt = s.now()
	if m.grants == nil {
		m.grants = make(map[string]*grant)
	}
	m.grants[c.ID] = &grant{amount: c.Amount}
	return m.rec, true, nil
}

func (s *MemoryStore) Release(ctx context.Context, c Consumption) (Record, bool, error) {
	if !validAmount(c.Amount) {
		return Record{}, false, ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.records[c.Key().String()]
	if !ok {
		return Record{}, false, ErrRecordNotFound
	}

	g, ok := m.grants[c.ID]
	if !ok || g.amount != c.Amount {
		return m.rec, false, ErrConsumptionNotFound
	}
	if g.released {
		return m.rec, false, nil
	}

	g.released = true
	m.rec.Used -= c.Amount
	m.rec.UpdatedAt = s.now()
	return m.rec, true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key RecordKey) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.records[key.String()]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return m.rec, nil
}

// getOrCreate must be called with mu held.
func (s *MemoryStore) getOrCreate(key RecordKey, period Period) *memoryRecord {
	id := key.String()
	if m, ok := s.records[id]; ok {
		return m
	}

	for _, old := range s.records {
		if old.grants != nil && !period.Start.Before(old.grantsExpired) {
			old.grants = nil
		}
	}

	m := &memoryRecord{
		rec:           newRecord(key, period, s.now()),
		grants:        make(map[string]*grant),
		grantsExpired: grantExpiry(period),
	}
	s.records[id] = m
	return m
}

var _ Store = (*MemoryStore)(nil)
