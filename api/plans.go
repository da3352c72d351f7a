package api

import (
	"net/http"

	"github.com/dmitrymomot/smartml/binder"
	"github.com/dmitrymomot/smartml/handler"
	"github.com/dmitrymomot/smartml/pkg/entitlement"
	"github.com/dmitrymomot/smartml/pkg/plans"
)

type compareRequest struct {
	From string `query:"from"` // defaults to the plan in force
	To   string `query:"to"`
}

type planComparison struct {
	*plans.PlanComparison
	Downgrade bool                  `json:"downgrade"`
	Overages  []entitlement.Overage `json:"overages,omitempty"`
}

func (s *server) listPlans() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, _ struct{}) handler.Response {
		all := s.catalog.List(ctx)
		public := make([]plans.Plan, 0, len(all))
		for _, p := range all {
			if p.Public {
				public = append(public, p)
			}
		}
		return handler.JSON(public)
	})
}

// comparePlans reports the limit changes between two plans. Comparing the
// plan in force with a lower one also lists the resources whose current
// usage already exceeds the target limits.
func (s *server) comparePlans() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, req compareRequest) handler.Response {
		if req.To == "" {
			verr := handler.NewValidationError()
			verr.Add("to", "is required")
			return handler.JSONError(verr)
		}

		current, err := s.currentPlanID(ctx)
		if err != nil {
			return fail(err)
		}
		if req.From == "" {
			req.From = current
		}

		from, err := s.catalog.Get(ctx, req.From)
		if err != nil {
			return fail(err)
		}
		to, err := s.catalog.Get(ctx, req.To)
		if err != nil {
			return fail(err)
		}

		out := planComparison{PlanComparison: plans.ComparePlans(&from, &to)}
		out.Downgrade = out.IsDowngrade()
		if out.Downgrade && from.ID == current {
			out.Overages, err = s.entitlements.CanDowngrade(ctx, userID(ctx), to.ID)
			if err != nil {
				return fail(err)
			}
		}
		return handler.JSON(out)
	}, binder.BindQuery())
}

func (s *server) currentPlanID(ctx handler.Context) (string, error) {
	sub, err := s.subscriptions.Current(ctx, userID(ctx))
	if err != nil {
		return "", err
	}
	if !sub.Entitled() {
		return s.freePlanID, nil
	}
	return sub.PlanID, nil
}
