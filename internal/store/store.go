// Package store defines the repository gateway the engine persists through.
//
// Every engine operation runs inside one unit of work: the effects of a unit
// become visible together when fn returns nil, and are discarded entirely when
// it returns an error. Implementations return the domain not-found errors from
// package errs (ErrAccountNotFound, ErrTransactionNotFound, ErrLoanNotFound)
// and errs.ErrDuplicateNumber on uniqueness conflicts; any other error is a
// persistence failure.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mims-dev/mims/internal/model"
)

// Store opens units of work.
type Store interface {
	// WithinUnit runs fn in a unit of work, committing when fn returns nil
	// and rolling back otherwise. Locks taken inside the unit are held
	// until it ends.
	WithinUnit(ctx context.Context, fn func(ctx context.Context, u Unit) error) error
	Close() error
}

// Unit is the set of reads and writes available inside a unit of work.
type Unit interface {
	// Reserve claims a number under a uniqueness constraint for the
	// lifetime of the store. Rolled-back units release their reservations.
	Reserve(ctx context.Context, number string) error

	// LockAccounts serializes the unit against every other unit touching
	// the same accounts and returns them in argument order. Locks are
	// acquired in sorted order; a unit must request all the accounts it
	// needs in a single call.
	LockAccounts(ctx context.Context, numbers ...string) ([]*model.Account, error)
	GetAccount(ctx context.Context, number string) (*model.Account, error)
	InsertAccount(ctx context.Context, a *model.Account) error
	SaveAccount(ctx context.Context, a *model.Account) error
	ListAccounts(ctx context.Context, customerRef string) ([]model.Account, error)

	InsertTransaction(ctx context.Context, t *model.Transaction) error
	GetTransaction(ctx context.Context, number string) (*model.Transaction, error)
	UpdateTransaction(ctx context.Context, number string, upd TransactionUpdate) error
	// ReversalOf returns the transaction whose ReferenceNumber is number.
	ReversalOf(ctx context.Context, number string) (*model.Transaction, error)
	// DisbursementCredit returns the credit issued for loanNumber.
	DisbursementCredit(ctx context.Context, loanNumber string) (*model.Transaction, error)
	// SumOutgoing totals completed outgoing withdrawals and transfers on an
	// account created in [from, to).
	SumOutgoing(ctx context.Context, accountNumber string, from, to time.Time) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, error)
	TransactionTotals(ctx context.Context) ([]TransactionTotal, error)

	// LockCustomer serializes units acting on behalf of one customer.
	LockCustomer(ctx context.Context, customerRef string) error
	InsertLoan(ctx context.Context, l *model.Loan) error
	SaveLoan(ctx context.Context, l *model.Loan) error
	GetLoan(ctx context.Context, number string) (*model.Loan, error)
	// LockLoan serializes state transitions of one loan.
	LockLoan(ctx context.Context, number string) (*model.Loan, error)
	ListLoans(ctx context.Context, f LoanFilter) ([]model.Loan, error)
	LoanTotals(ctx context.Context) ([]LoanTotal, error)
}

// TransactionUpdate is the only mutation allowed on a stored transaction.
type TransactionUpdate struct {
	Status     model.TransactionStatus
	ReversedAt time.Time
}

// TransactionFilter selects transactions, newest first.
type TransactionFilter struct {
	AccountNumber string
	CustomerRef   string
	Limit         int // 0 means no limit
}

// LoanFilter selects loans, newest first.
type LoanFilter struct {
	CustomerRef string
	Statuses    []model.LoanStatus
	Limit       int
}

// TransactionTotal aggregates transactions by kind and status.
type TransactionTotal struct {
	Kind   model.TransactionKind
	Status model.TransactionStatus
	Count  int
	Amount decimal.Decimal
}

// LoanTotal aggregates loans by status.
type LoanTotal struct {
	Status    model.LoanStatus
	Count     int
	Requested decimal.Decimal
	Approved  decimal.Decimal
}

// MatchesStatus reports whether s passes the filter's status set.
func (f LoanFilter) MatchesStatus(s model.LoanStatus) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, want := range f.Statuses {
		if want == s {
			return true
		}
	}
	return false
}
