package entitlement

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/smartml/pkg/metrics"
)

// DefaultTimeout bounds every persistence round trip of a check.
const DefaultTimeout = 2 * time.Second

// Config holds entitlement settings read from the environment.
type Config struct {
	Timeout    time.Duration `env:"ENTITLEMENT_TIMEOUT" envDefault:"2s"`
	FreePlanID string        `env:"SUBSCRIPTION_FREE_PLAN" envDefault:"free"`
}

type Option func(*Service)

// WithTimeout bounds each operation. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithFreePlan sets the plan applied to subscriptions that are no longer entitled.
func WithFreePlan(planID string) Option {
	return func(s *Service) {
		if planID != "" {
			s.freePlanID = planID
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithConfig applies cfg on top of the defaults.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		WithTimeout(cfg.Timeout)(s)
		WithFreePlan(cfg.FreePlanID)(s)
	}
}
