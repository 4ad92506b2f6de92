package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType tags the product an account belongs to.
type AccountType string

const (
	AccountTypeSavings AccountType = "savings"
	AccountTypeCurrent AccountType = "current"
	AccountTypeDeposit AccountType = "deposit"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeSavings, AccountTypeCurrent, AccountTypeDeposit:
		return true
	}
	return false
}

// AccountStatus is the lifecycle state of an account. Closed is terminal.
type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountClosed AccountStatus = "closed"
)

// Account is a customer account whose balance is owned by the ledger.
type Account struct {
	ID          uuid.UUID
	Number      string
	CustomerRef string
	Type        AccountType
	Balance     decimal.Decimal // never negative
	Status      AccountStatus
	OpenedAt    time.Time
	ClosedAt    *time.Time
	UpdatedAt   time.Time
}

// Active reports whether the account accepts balance changes.
func (a Account) Active() bool {
	return a.Status == AccountActive
}
