package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/smartml/pkg/logger"
)

const (
	DefaultSweepInterval = time.Minute
	DefaultSweepBatch    = 100
)

// Sweeper runs Manager.Sweep on a fixed interval.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	batch    int
	log      *slog.Logger
}

type SweeperOption func(*Sweeper)

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithSweepBatch(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSweeper creates a sweeper. Panics if m is nil.
func NewSweeper(m *Manager, opts ...SweeperOption) *Sweeper {
	if m == nil {
		panic("subscription: Manager is required")
	}
	s := &Sweeper{
		manager:  m,
		interval: DefaultSweepInterval,
		batch:    DefaultSweepBatch,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("sweeper"))
	return s
}

// Run sweeps immediately and then on every tick until ctx is done.
// It returns ctx.Err() on shutdown; sweep failures are logged, not returned.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	res, err := s.manager.Sweep(ctx, s.batch)
	if err != nil && ctx.Err() == nil {
		s.log.ErrorContext(ctx, "sweep failed",
			logger.Error(err),
			slog.Int("failed", res.Failed),
		)
	}
	s.log.DebugContext(ctx, "sweep tick",
		slog.Int("scanned", res.Scanned),
		slog.Int("transitioned", res.Transitioned),
		logger.Duration(time.Since(start)),
	)
}
