package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := Invalid("amount", "must be greater than zero, got %s", "-1")

	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "amount", FieldOf(err))
	assert.Contains(t, err.Error(), "[amount]")

	wrapped := fmt.Errorf("processing: %w", err)
	assert.ErrorIs(t, wrapped, ErrValidation)
	assert.Equal(t, "amount", FieldOf(wrapped))
}

func TestPersistence(t *testing.T) {
	cause := errors.New("connection reset")
	err := Persistence("insert transaction", cause)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Persistence("noop", nil))

	// Already classified errors are not wrapped twice.
	assert.Same(t, err, Persistence("outer", err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{Invalid("kind", "unknown"), "validation_error"},
		{fmt.Errorf("acct 1: %w", ErrAccountNotFound), "account_not_found"},
		{ErrInsufficientFunds, "insufficient_funds"},
		{ErrDailyLimitExceeded, "daily_limit_exceeded"},
		{ErrAlreadyReversed, "already_reversed"},
		{ErrActiveLoanExists, "active_loan_exists"},
		{Persistence("commit", errors.New("boom")), "persistence_error"},
		{errors.New("unexpected"), "persistence_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "Classify(%v)", tt.err)
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ErrLoanNotFound))
	assert.True(t, IsNotFound(fmt.Errorf("x: %w", ErrTransactionNotFound)))
	assert.False(t, IsNotFound(ErrInvalidLoanState))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap("op", nil))

	business := fmt.Errorf("account A1: %w", ErrInsufficientFunds)
	assert.Same(t, business, Wrap("withdraw", business))

	dup := fmt.Errorf("transaction T1: %w", ErrDuplicateNumber)
	wrapped := Wrap("insert", dup)
	assert.ErrorIs(t, wrapped, ErrPersistence)
	assert.ErrorIs(t, wrapped, ErrDuplicateNumber)
}
