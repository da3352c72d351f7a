package plans

import "errors"

var (
	ErrPlanNotFound             = errors.New("plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load plans")
	ErrUnknownResource          = errors.New("unknown metered resource")
	ErrStalePlanVersion         = errors.New("plan version is not newer than the published one")
)
