package subscription

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/smartml/pkg/metrics"
)

const (
	DefaultGracePeriod = 72 * time.Hour
	DefaultMaxRetries  = 3
)

// Config holds lifecycle settings read from the environment.
type Config struct {
	GracePeriod time.Duration `env:"SUBSCRIPTION_GRACE_PERIOD" envDefault:"72h"`
	FreePlanID  string        `env:"SUBSCRIPTION_FREE_PLAN" envDefault:"free"`
	MaxRetries  int           `env:"SUBSCRIPTION_MAX_RETRIES" envDefault:"3"`
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source, mostly for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.clock = now
		}
	}
}

// WithGracePeriod sets how long a paid subscription stays entitled after a
// missed or failed renewal.
func WithGracePeriod(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d >= 0 {
			m.grace = d
		}
	}
}

// WithFreePlan sets the plan assigned on signup and after expiry.
func WithFreePlan(planID string) ManagerOption {
	return func(m *Manager) {
		if planID != "" {
			m.freePlanID = planID
		}
	}
}

// WithMaxRetries bounds retries on ErrConcurrentUpdate.
func WithMaxRetries(n int) ManagerOption {
	return func(m *Manager) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithProvider registers a billing provider under its Name.
func WithProvider(p BillingProvider) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.providers[p.Name()] = p
		}
	}
}

// WithConfig applies cfg on top of the defaults.
func WithConfig(cfg Config) ManagerOption {
	return func(m *Manager) {
		WithGracePeriod(cfg.GracePeriod)(m)
		WithFreePlan(cfg.FreePlanID)(m)
		WithMaxRetries(cfg.MaxRetries)(m)
	}
}
