package redis

import "errors"

var (
	ErrEmptyConnectionURL           = errors.New("redis: usage ledger connection URL is empty")
	ErrFailedToParseRedisConnString = errors.New("redis: invalid usage ledger connection URL")
	ErrRedisNotReady                = errors.New("redis: usage ledger server did not answer ping before the retry budget ran out")
	ErrHealthcheckFailed            = errors.New("redis: usage ledger healthcheck failed")
)
