package accounts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/ledger"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/store/memory"
)

func TestSeed(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(memory.New(), nil, nil)

	res, err := Seed(ctx, svc, DemoSeeds())
	require.NoError(t, err)
	assert.Len(t, res.Opened, len(DemoSeeds()))
	assert.Empty(t, res.Skipped)

	a, err := svc.Get(ctx, "ACC-0001")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, model.AccountActive, a.Status)

	// Applying the same file again only skips.
	res, err = Seed(ctx, svc, DemoSeeds())
	require.NoError(t, err)
	assert.Empty(t, res.Opened)
	assert.Len(t, res.Skipped, len(DemoSeeds()))
}

func TestSeed_StopsOnInvalidRow(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(memory.New(), nil, nil)

	seeds := []ledger.OpenParams{
		{Number: "ACC-1", CustomerRef: "CUST-1", Type: model.AccountTypeSavings},
		{Number: "ACC-2", CustomerRef: "CUST-2", Type: "checking"},
		{Number: "ACC-3", CustomerRef: "CUST-3", Type: model.AccountTypeSavings},
	}
	res, err := Seed(ctx, svc, seeds)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Contains(t, err.Error(), "ACC-2")
	assert.Equal(t, []string{"ACC-1"}, res.Opened)

	_, err = svc.Get(ctx, "ACC-3")
	assert.ErrorIs(t, err, errs.ErrAccountNotFound)
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(memory.New(), nil, nil)
	_, err := Seed(ctx, svc, DemoSeeds())
	require.NoError(t, err)

	accts, err := svc.ListByCustomer(ctx, "CUST-0001")
	require.NoError(t, err)
	require.Len(t, accts, 2)

	path := filepath.Join(t.TempDir(), "accounts.csv")
	require.NoError(t, Save(path, accts))

	seeds, err := Load(path)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "ACC-0001", seeds[0].Number)
	assert.Equal(t, "5000.00", seeds[0].OpeningBalance.StringFixed(2))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening seed file")
}
