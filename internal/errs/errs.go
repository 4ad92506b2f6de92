// Package errs defines the error taxonomy returned by the ledger and loan engine.
package errs

import (
	"errors"
	"fmt"
)

// Business rule violations. Callers match them with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountInactive     = errors.New("account is not active")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDailyLimitExceeded  = errors.New("daily withdrawal limit exceeded")
	ErrNonZeroBalance      = errors.New("account must have zero balance to be closed")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotCompleted        = errors.New("only completed transactions can be reversed")
	ErrAlreadyReversed     = errors.New("transaction already reversed")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrInvalidLoanState    = errors.New("invalid loan state")
	ErrActiveLoanExists    = errors.New("customer has an active loan")
	ErrPersistence         = errors.New("persistence failure")
)

// Store-level conditions. They surface to callers wrapped in ErrPersistence.
var (
	ErrDuplicateNumber     = errors.New("number already reserved")
	ErrIdentifierExhausted = errors.New("identifier retries exhausted")
)

// ValidationError describes a single field-level violation.
type ValidationError struct {
	Field       string
	Description string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed [%s]: %s", e.Field, e.Description)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid returns a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Description: fmt.Sprintf(format, args...)}
}

// Persistence wraps a store failure so that it matches both ErrPersistence and the cause.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Wrap passes business errors through unchanged and wraps anything else
// (driver failures, commit errors, identifier exhaustion) as a persistence failure.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classify(err) != "persistence_error" {
		return err
	}
	return Persistence(op, err)
}

// FieldOf returns the offending field of a validation error, or "".
func FieldOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	return ""
}

var kinds = []struct {
	err  error
	name string
}{
	{ErrValidation, "validation_error"},
	{ErrAccountNotFound, "account_not_found"},
	{ErrAccountInactive, "account_inactive"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrDailyLimitExceeded, "daily_limit_exceeded"},
	{ErrNonZeroBalance, "non_zero_balance"},
	{ErrTransactionNotFound, "transaction_not_found"},
	{ErrNotCompleted, "not_completed"},
	{ErrAlreadyReversed, "already_reversed"},
	{ErrLoanNotFound, "loan_not_found"},
	{ErrInvalidLoanState, "invalid_loan_state"},
	{ErrActiveLoanExists, "active_loan_exists"},
	{ErrPersistence, "persistence_error"},
}

// Classify returns the snake_case kind of err for metrics labels and API bodies.
// Unknown errors classify as persistence_error; nil classifies as "none".
func Classify(err error) string {
	if err == nil {
		return "none"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "persistence_error"
}

// IsNotFound reports whether err is one of the not-found kinds.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrLoanNotFound)
}
