package mongo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/smartml/pkg/mongo"
)

func TestNewWithDatabase_RequiresName(t *testing.T) {
	t.Parallel()

	db, err := mongo.NewWithDatabase(context.Background(), mongo.Config{
		ConnectionURL: "mongodb://localhost:27017",
	}, "")
	assert.ErrorIs(t, err, mongo.ErrEmptyDatabaseName)
	assert.Nil(t, db)
}
