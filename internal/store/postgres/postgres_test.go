package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/id"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/store"
)

// openTestStore connects to MIMS_TEST_DATABASE_URL or skips.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("MIMS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MIMS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

// uniqueNumber avoids collisions with rows left by earlier runs.
func uniqueNumber(prefix string) string {
	return id.Format(prefix, time.Now(), id.RandomSuffix())
}

func insertAccount(t *testing.T, s *Store, balance string) string {
	t.Helper()
	number := uniqueNumber("ACC")
	now := time.Now().UTC()
	err := s.WithinUnit(context.Background(), func(ctx context.Context, u store.Unit) error {
		return u.InsertAccount(ctx, &model.Account{
			ID:          uuid.New(),
			Number:      number,
			CustomerRef: "C-" + number,
			Type:        model.AccountTypeSavings,
			Balance:     decimal.RequireFromString(balance),
			Status:      model.AccountActive,
			OpenedAt:    now,
			UpdatedAt:   now,
		})
	})
	require.NoError(t, err)
	return number
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestReserve(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	number := uniqueNumber("TXN")

	require.NoError(t, s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		return u.Reserve(ctx, number)
	}))
	err := s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		return u.Reserve(ctx, number)
	})
	assert.ErrorIs(t, err, errs.ErrDuplicateNumber)
}

func TestRollbackReleasesEverything(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct := insertAccount(t, s, "100.00")
	number := uniqueNumber("TXN")
	boom := errors.New("boom")

	err := s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		require.NoError(t, u.Reserve(ctx, number))
		accts, err := u.LockAccounts(ctx, acct)
		require.NoError(t, err)
		accts[0].Balance = decimal.Zero
		require.NoError(t, u.SaveAccount(ctx, accts[0]))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		a, err := u.GetAccount(ctx, acct)
		require.NoError(t, err)
		assert.True(t, a.Balance.Equal(decimal.RequireFromString("100.00")))
		return u.Reserve(ctx, number)
	}))
}

func TestTransactionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct := insertAccount(t, s, "0")
	number := uniqueNumber("TXN")
	created := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		return u.InsertTransaction(ctx, &model.Transaction{
			ID: uuid.New(), Number: number, AccountNumber: acct, CustomerRef: "C-" + acct,
			Amount: decimal.RequireFromString("12.34"), Kind: model.KindWithdrawal,
			Direction: model.DirectionOut, Status: model.TxnCompleted,
			Description: "cash", CreatedAt: created,
		})
	}))

	require.NoError(t, s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		got, err := u.GetTransaction(ctx, number)
		require.NoError(t, err)
		assert.True(t, got.Amount.Equal(decimal.RequireFromString("12.34")))
		assert.Equal(t, model.KindWithdrawal, got.Kind)
		assert.Nil(t, got.ReversedAt)

		sum, err := u.SumOutgoing(ctx, acct, created.Add(-time.Minute), created.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, sum.Equal(decimal.RequireFromString("12.34")))

		require.NoError(t, u.UpdateTransaction(ctx, number, store.TransactionUpdate{
			Status: model.TxnReversed, ReversedAt: created,
		}))
		got, err = u.GetTransaction(ctx, number)
		require.NoError(t, err)
		assert.Equal(t, model.TxnReversed, got.Status)
		require.NotNil(t, got.ReversedAt)
		return nil
	}))
}

func TestNotFound(t *testing.T) {
	s := openTestStore(t)
	_ = s.WithinUnit(context.Background(), func(ctx context.Context, u store.Unit) error {
		_, err := u.GetAccount(ctx, "missing")
		assert.ErrorIs(t, err, errs.ErrAccountNotFound)
		_, err = u.GetTransaction(ctx, "missing")
		assert.ErrorIs(t, err, errs.ErrTransactionNotFound)
		_, err = u.GetLoan(ctx, "missing")
		assert.ErrorIs(t, err, errs.ErrLoanNotFound)
		return nil
	})
}
