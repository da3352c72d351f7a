package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/smartml/handler"
	"github.com/dmitrymomot/smartml/pkg/entitlement"
	"github.com/dmitrymomot/smartml/pkg/httpserver"
	"github.com/dmitrymomot/smartml/pkg/jwt"
	"github.com/dmitrymomot/smartml/pkg/metrics"
	"github.com/dmitrymomot/smartml/pkg/plans"
	"github.com/dmitrymomot/smartml/pkg/requestid"
	"github.com/dmitrymomot/smartml/pkg/subscription"
	"github.com/dmitrymomot/smartml/pkg/usage"
)

// Entitlements is the entitlement checker. *entitlement.Service satisfies it.
type Entitlements interface {
	CheckAndConsume(ctx context.Context, userID string, res plans.Resource, amount int64) (entitlement.Decision, error)
	Release(ctx context.Context, c usage.Consumption) error
	GetUsageSummary(ctx context.Context, userID string) (entitlement.Summary, error)
	CanDowngrade(ctx context.Context, userID, targetPlanID string) ([]entitlement.Overage, error)
}

// Subscriptions is the lifecycle manager. *subscription.Manager satisfies it.
type Subscriptions interface {
	Current(ctx context.Context, userID string) (*subscription.Subscription, error)
	CancelSubscription(ctx context.Context, userID string, atPeriodEnd bool) (*subscription.Subscription, error)
	History(ctx context.Context, userID string) ([]subscription.Subscription, error)
	Payments(ctx context.Context, userID string) ([]subscription.Payment, error)
	HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*subscription.WebhookEvent, error)
}

// Catalog is the plan registry. *plans.Registry satisfies it.
type Catalog interface {
	Get(ctx context.Context, planID string) (plans.Plan, error)
	List(ctx context.Context) []plans.Plan
}

// Options configures the router. Entitlements, Subscriptions, Catalog and
// Tokens are required.
type Options struct {
	Entitlements  Entitlements
	Subscriptions Subscriptions
	Catalog       Catalog
	Tokens        *jwt.Service
	Metrics       *metrics.Metrics
	Logger        *slog.Logger

	HealthChecks  map[string]httpserver.Check
	HealthTimeout time.Duration
	FreePlanID    string // defaults to plans.PlanFree
}

type server struct {
	entitlements  Entitlements
	subscriptions Subscriptions
	catalog       Catalog
	freePlanID    string
	log           *slog.Logger
	onError       handler.ErrorHandler[handler.Context]
}

// NewRouter builds the HTTP API.
//
//	r := api.NewRouter(api.Options{
//		Entitlements:  checker,
//		Subscriptions: manager,
//		Catalog:       registry,
//		Tokens:        tokens,
//	})
//	srv.Run(ctx, r)
func NewRouter(opts Options) chi.Router {
	if opts.Entitlements == nil || opts.Subscriptions == nil || opts.Catalog == nil || opts.Tokens == nil {
		panic("api: Entitlements, Subscriptions, Catalog and Tokens are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &server{
		entitlements:  opts.Entitlements,
		subscriptions: opts.Subscriptions,
		catalog:       opts.Catalog,
		freePlanID:    opts.FreePlanID,
		log:           log,
		onError:       handler.NewErrorHandler(log),
	}
	if s.freePlanID == "" {
		s.freePlanID = plans.PlanFree
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)

	r.NotFound(s.reject(handler.ErrNotFound))
	r.MethodNotAllowed(s.reject(handler.ErrMethodNotAllowed))

	r.Get("/healthz", httpserver.HealthCheckHandler(log, opts.HealthTimeout, opts.HealthChecks))
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/razorpay", s.webhook(subscription.ProviderRazorpay, subscription.RazorpaySignatureHeader))
		r.Post("/webhooks/paddle", s.webhook(subscription.ProviderPaddle, subscription.PaddleSignatureHeader))

		r.Group(func(r chi.Router) {
			r.Use(jwt.MiddlewareWithConfig(jwt.MiddlewareConfig{
				Service: opts.Tokens,
				OnError: func(w http.ResponseWriter, r *http.Request, err error) {
					s.onError(handler.NewContext(w, r), httpError(err))
				},
			}))

			r.Post("/usage/{resource}/consume", s.consume())
			r.Post("/usage/release", s.release())
			r.Get("/usage", s.usageSummary())

			r.Get("/subscription", s.currentSubscription())
			r.Post("/subscription/cancel", s.cancelSubscription())
			r.Get("/subscription/history", s.subscriptionHistory())
			r.Get("/subscription/payments", s.payments())

			r.Get("/plans", s.listPlans())
			r.Get("/plans/compare", s.comparePlans())
		})
	})

	return r
}

func (s *server) reject(err error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.onError(handler.NewContext(w, r), err)
	}
}

// wrap adapts a typed handler with the API error handler.
func wrap[R any](s *server, h handler.HandlerFunc[handler.Context, R], binders ...handler.Bind) http.HandlerFunc {
	return handler.Wrap(h,
		handler.WithBinders[handler.Context, R](binders...),
		handler.WithErrorHandler[handler.Context, R](s.onError),
	)
}

// userID returns the authenticated user. Routes behind the JWT middleware
// always have one.
func userID(ctx context.Context) string {
	sub, _ := jwt.Subject(ctx)
	return sub
}
