package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanStatus is a state of the loan lifecycle.
type LoanStatus string

const (
	LoanPending   LoanStatus = "pending"
	LoanApproved  LoanStatus = "approved"
	LoanRejected  LoanStatus = "rejected"
	LoanDisbursed LoanStatus = "disbursed"
)

// Terminal reports whether no further transition is defined from s.
func (s LoanStatus) Terminal() bool {
	return s == LoanRejected || s == LoanDisbursed
}

// Open reports whether s blocks a new application by the same customer.
func (s LoanStatus) Open() bool {
	return s == LoanPending || s == LoanApproved
}

// Terms are the amortization figures derived from principal, rate and term.
type Terms struct {
	Principal      decimal.Decimal
	MonthlyPayment decimal.Decimal
	TotalInterest  decimal.Decimal
	TotalAmount    decimal.Decimal
}

// Loan is a loan application and its lifecycle.
// Quote keeps the terms computed at application time; the flat fields
// (ApprovedAmount, MonthlyPayment...) hold the current terms.
type Loan struct {
	ID              uuid.UUID
	Number          string
	CustomerRef     string
	AccountNumber   string // credited on disbursement
	Purpose         string
	Collateral      string
	RequestedAmount decimal.Decimal
	InterestRate    decimal.Decimal // annual percent
	TermMonths      int
	Status          LoanStatus

	Quote          Terms
	ApprovedAmount decimal.Decimal
	MonthlyPayment decimal.Decimal
	TotalInterest  decimal.Decimal
	TotalAmount    decimal.Decimal

	RejectionReason string
	ApprovedBy      string
	DisbursementTxn string

	AppliedAt   time.Time
	ApprovedAt  *time.Time
	RejectedAt  *time.Time
	DisbursedAt *time.Time
	UpdatedAt   time.Time
}

// ApplyTerms copies t into the current-terms fields.
func (l *Loan) ApplyTerms(t Terms) {
	l.MonthlyPayment = t.MonthlyPayment
	l.TotalInterest = t.TotalInterest
	l.TotalAmount = t.TotalAmount
}
