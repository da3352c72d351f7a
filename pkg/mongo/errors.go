package mongo

import "errors"

var (
	ErrFailedToConnectToMongo = errors.New("mongo: could not reach the ledger and subscription database")
	ErrEmptyDatabaseName      = errors.New("mongo: database name is empty")
	ErrHealthcheckFailed      = errors.New("mongo: ledger and subscription database healthcheck failed")
)
