package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind is the business kind of a transaction.
type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindTransfer   TransactionKind = "transfer"
)

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindTransfer:
		return true
	}
	return false
}

// Direction is the signed effect of a transaction on its account.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == DirectionIn {
		return DirectionOut
	}
	return DirectionIn
}

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	TxnCompleted TransactionStatus = "completed"
	TxnReversed  TransactionStatus = "reversed"
)

// Transaction is an immutable record of one balance movement on one account.
// The only permitted change after creation is completed -> reversed.
type Transaction struct {
	ID                uuid.UUID
	Number            string
	AccountNumber     string
	CustomerRef       string
	Amount            decimal.Decimal // always positive
	Kind              TransactionKind
	Direction         Direction
	Status            TransactionStatus
	Description       string
	ReferenceNumber   string // original transaction, set on reversals
	CounterpartNumber string // other leg of a transfer
	LoanNumber        string // set on loan disbursement credits
	CreatedAt         time.Time
	ReversedAt        *time.Time
}

// SignedAmount returns the balance delta the transaction applied.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionOut {
		return t.Amount.Neg()
	}
	return t.Amount
}

// DirectionOf returns the direction implied by a non-transfer kind.
func DirectionOf(kind TransactionKind) Direction {
	if kind == KindWithdrawal {
		return DirectionOut
	}
	return DirectionIn
}
