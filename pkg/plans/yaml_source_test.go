package plans_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/smartml/pkg/plans"
)

const catalogueYAML = `
plans:
  - id: free
    name: Free
    interval: none
    price: {amount: 0, currency: INR}
    limits:
      model_train: 3
      api_call: 1000
      storage_bytes: 1073741824
  - id: advanced
    name: Advanced
    version: 4
    interval: monthly
    price: {amount: 149900, currency: INR}
    limits:
      model_train: -1
      api_call: -1
      storage_bytes: 536870912000
`

func TestParseYAML(t *testing.T) {
	t.Parallel()

	catalogue, err := plans.ParseYAML([]byte(catalogueYAML))
	require.NoError(t, err)
	require.Len(t, catalogue, 2)

	free := catalogue["free"]
	assert.Equal(t, 1, free.Version, "missing version defaults to 1")
	assert.Equal(t, int64(3), free.Limits[plans.ResourceModelTrain])

	advanced := catalogue["advanced"]
	assert.Equal(t, 4, advanced.Version)
	assert.Equal(t, plans.Unlimited, advanced.Limits[plans.ResourceModelTrain])
	assert.Equal(t, plans.Money{Amount: 149900, Currency: "INR"}, advanced.Price)
}

func TestParseYAMLDuplicate(t *testing.T) {
	t.Parallel()

	_, err := plans.ParseYAML([]byte("plans:\n  - id: free\n  - id: free\n"))
	assert.ErrorIs(t, err, plans.ErrInvalidPlanConfiguration)
}

func TestYAMLSourceReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogueYAML), 0o600))

	reg, err := plans.NewRegistry(context.Background(), plans.NewYAMLSource(path))
	require.NoError(t, err)
	assert.Len(t, reg.List(context.Background()), 2)

	require.NoError(t, os.WriteFile(path, []byte("plans:\n  - id: free\n    interval: none\n"), 0o600))
	require.NoError(t, reg.Reload(context.Background()))

	assert.Len(t, reg.List(context.Background()), 1)
	_, err = reg.Get(context.Background(), "advanced")
	assert.ErrorIs(t, err, plans.ErrPlanNotFound)
}

func TestYAMLSourceMissingFile(t *testing.T) {
	t.Parallel()

	_, err := plans.NewRegistry(context.Background(), plans.NewYAMLSource(filepath.Join(t.TempDir(), "nope.yaml")))
	assert.ErrorIs(t, err, plans.ErrFailedToLoadPlans)
}
