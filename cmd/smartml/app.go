package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	mongodrv "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/smartml/pkg/config"
	"github.com/dmitrymomot/smartml/pkg/entitlement"
	"github.com/dmitrymomot/smartml/pkg/httpserver"
	"github.com/dmitrymomot/smartml/pkg/logger"
	"github.com/dmitrymomot/smartml/pkg/metrics"
	"github.com/dmitrymomot/smartml/pkg/mongo"
	"github.com/dmitrymomot/smartml/pkg/pg"
	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/redis"
	"github.com/dmitrymomot/smartml/pkg/requestid"
	"github.com/dmitrymomot/smartml/pkg/subscription"
	"github.com/dmitrymomot/smartml/pkg/usage"
)

// app holds the wired service graph shared by the commands.
type app struct {
	cfg     appConfig
	log     *slog.Logger
	metrics *metrics.Metrics

	registry *plans.Registry
	manager  *subscription.Manager
	checker  *entitlement.Service
	ledger   usage.Store

	checks  map[string]httpserver.Check
	closers []func(context.Context) error
}

func newLogger() (*slog.Logger, error) {
	var cfg logger.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	opts, err := logger.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		logger.WithOutput(os.Stderr),
		logger.WithContextExtractors(requestid.LogExtractor()),
	)
	log := logger.New(opts...)
	logger.SetAsDefault(log)
	return log, nil
}

// newApp connects the configured backends and builds the domain services.
// On error every connection opened so far is closed.
func newApp(ctx context.Context) (_ *app, err error) {
	cfg, err := loadAppConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(),
		checks:  make(map[string]httpserver.Check),
	}
	defer func() {
		if err != nil {
			_ = a.close(context.WithoutCancel(ctx))
		}
	}()

	var (
		subStore subscription.Store
		payments subscription.PaymentStore
		ledger   usage.Store
		mongoDB  *mongodrv.Database
	)

	switch cfg.StorageDriver {
	case driverMemory:
		s := subscription.NewMemoryStore()
		subStore, payments, ledger = s, s, usage.NewMemoryStore()
		log.WarnContext(ctx, "using in-memory storage, state is lost on restart")

	case driverMongo:
		if mongoDB, err = a.connectMongo(ctx); err != nil {
			return nil, err
		}
		s := subscription.NewMongoStore(mongoDB)
		l := usage.NewMongoStore(mongoDB)
		if err = s.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		if err = l.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		subStore, payments, ledger = s, s, l

	case driverPostgres:
		var pool *pgxpool.Pool
		if pool, err = a.connectPostgres(ctx); err != nil {
			return nil, err
		}
		s := subscription.NewPostgresStore(pool)
		subStore, payments, ledger = s, s, usage.NewPostgresStore(pool)
	}

	if cfg.LedgerDriver == ledgerRedis {
		if ledger, err = a.connectRedisLedger(ctx); err != nil {
			return nil, err
		}
	}

	src, err := a.planSource(mongoDB)
	if err != nil {
		return nil, err
	}
	if a.registry, err = plans.NewRegistry(ctx, src); err != nil {
		return nil, err
	}

	providers, err := billingProviders()
	if err != nil {
		return nil, err
	}

	var subCfg subscription.Config
	if err = config.Load(&subCfg); err != nil {
		return nil, err
	}
	mgrOpts := []subscription.ManagerOption{
		subscription.WithConfig(subCfg),
		subscription.WithLogger(log),
		subscription.WithMetrics(a.metrics),
	}
	for _, p := range providers {
		mgrOpts = append(mgrOpts, subscription.WithProvider(p))
	}
	a.manager = subscription.NewManager(subStore, payments, a.registry, mgrOpts...)

	var entCfg entitlement.Config
	if err = config.Load(&entCfg); err != nil {
		return nil, err
	}
	a.ledger = ledger
	a.checker = entitlement.NewService(a.manager, a.registry, ledger,
		entitlement.WithConfig(entCfg),
		entitlement.WithLogger(log),
		entitlement.WithMetrics(a.metrics),
	)

	log.InfoContext(ctx, "service graph ready",
		slog.String("storage", cfg.StorageDriver),
		slog.String("ledger", cfg.LedgerDriver),
		slog.String("plans", cfg.PlansSource),
		slog.Int("providers", len(providers)),
	)
	return a, nil
}

// grantPruner is implemented by ledgers whose expired grants are not removed
// by the backend itself.
type grantPruner interface {
	PruneGrants(ctx context.Context, now time.Time) (int64, error)
}

// pruneGrants removes expired consumption grants when the ledger needs it.
// ok is false for ledgers that expire grants on their own.
func (a *app) pruneGrants(ctx context.Context) (n int64, ok bool, err error) {
	p, ok := a.ledger.(grantPruner)
	if !ok {
		return 0, false, nil
	}
	n, err = p.PruneGrants(ctx, time.Now())
	return n, true, err
}

func (a *app) connectMongo(ctx context.Context) (*mongodrv.Database, error) {
	var cfg mongo.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	db, err := mongo.NewWithDatabase(ctx, cfg, "")
	if err != nil {
		return nil, err
	}
	a.checks["mongo"] = mongo.Healthcheck(db.Client())
	a.closers = append(a.closers, db.Client().Disconnect)
	return db, nil
}

func (a *app) connectPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	var cfg pg.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.checks["postgres"] = pg.Healthcheck(pool)
	a.closers = append(a.closers, func(context.Context) error {
		pool.Close()
		return nil
	})
	return pool, nil
}

func (a *app) connectRedisLedger(ctx context.Context) (usage.Store, error) {
	var cfg redis.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.checks["redis"] = redis.Healthcheck(client)
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	return usage.NewRedisStore(client, usage.WithKeyPrefix(cfg.KeyPrefix)), nil
}

func (a *app) planSource(db *mongodrv.Database) (plans.Source, error) {
	switch a.cfg.PlansSource {
	case plansYAML:
		return plans.NewYAMLSource(a.cfg.PlansFile), nil
	case plansMongo:
		if db == nil {
			return nil, errors.New("mongo plan source requires a mongo connection")
		}
		return plans.NewMongoSource(db), nil
	default:
		return plans.NewInMemSource(plans.Defaults()), nil
	}
}

// billingProviders enables every gateway whose webhook secret is configured.
func billingProviders() ([]subscription.BillingProvider, error) {
	var out []subscription.BillingProvider

	var rzp subscription.RazorpayConfig
	if err := config.Load(&rzp); err != nil {
		return nil, err
	}
	if rzp.WebhookSecret != "" {
		p, err := subscription.NewRazorpayProvider(rzp)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	var paddle subscription.PaddleConfig
	if err := config.Load(&paddle); err != nil {
		return nil, err
	}
	if paddle.WebhookSecret != "" {
		p, err := subscription.NewPaddleProvider(paddle)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close backends: %w", err)
	}
	return nil
}
