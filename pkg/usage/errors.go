package usage

import "errors"

var (
	ErrRecordNotFound      = errors.New("usage record not found")
	ErrConsumptionNotFound = errors.New("consumption was not granted on this record")
	ErrInvalidAmount       = errors.New("amount must be positive and at most MaxAmount")
	ErrStoreFailure        = errors.New("usage store failure")
)
