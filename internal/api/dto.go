package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mims-dev/mims/internal/model"
)

// Money is rendered as a string with two decimals, e.g. "1066.19".

type accountJSON struct {
	Number      string     `json:"number"`
	CustomerRef string     `json:"customer_ref"`
	Type        string     `json:"type"`
	Balance     string     `json:"balance"`
	Status      string     `json:"status"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

func toAccount(a *model.Account) accountJSON {
	return accountJSON{
		Number:      a.Number,
		CustomerRef: a.CustomerRef,
		Type:        string(a.Type),
		Balance:     a.Balance.StringFixed(2),
		Status:      string(a.Status),
		OpenedAt:    a.OpenedAt,
		ClosedAt:    a.ClosedAt,
	}
}

type transactionJSON struct {
	Number            string     `json:"number"`
	AccountNumber     string     `json:"account_number"`
	CustomerRef       string     `json:"customer_ref"`
	Amount            string     `json:"amount"`
	Kind              string     `json:"kind"`
	Direction         string     `json:"direction"`
	Status            string     `json:"status"`
	Description       string     `json:"description"`
	ReferenceNumber   string     `json:"reference_number,omitempty"`
	CounterpartNumber string     `json:"counterpart_number,omitempty"`
	LoanNumber        string     `json:"loan_number,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ReversedAt        *time.Time `json:"reversed_at,omitempty"`
}

func toTransaction(t *model.Transaction) transactionJSON {
	return transactionJSON{
		Number:            t.Number,
		AccountNumber:     t.AccountNumber,
		CustomerRef:       t.CustomerRef,
		Amount:            t.Amount.StringFixed(2),
		Kind:              string(t.Kind),
		Direction:         string(t.Direction),
		Status:            string(t.Status),
		Description:       t.Description,
		ReferenceNumber:   t.ReferenceNumber,
		CounterpartNumber: t.CounterpartNumber,
		LoanNumber:        t.LoanNumber,
		CreatedAt:         t.CreatedAt,
		ReversedAt:        t.ReversedAt,
	}
}

func toTransactions(ts []model.Transaction) []transactionJSON {
	out := make([]transactionJSON, len(ts))
	for i := range ts {
		out[i] = toTransaction(&ts[i])
	}
	return out
}

type termsJSON struct {
	Principal      string `json:"principal"`
	MonthlyPayment string `json:"monthly_payment"`
	TotalInterest  string `json:"total_interest"`
	TotalAmount    string `json:"total_amount"`
}

func toTerms(t model.Terms) termsJSON {
	return termsJSON{
		Principal:      t.Principal.StringFixed(2),
		MonthlyPayment: t.MonthlyPayment.StringFixed(2),
		TotalInterest:  t.TotalInterest.StringFixed(2),
		TotalAmount:    t.TotalAmount.StringFixed(2),
	}
}

type loanJSON struct {
	Number          string     `json:"number"`
	CustomerRef     string     `json:"customer_ref"`
	AccountNumber   string     `json:"account_number"`
	Purpose         string     `json:"purpose"`
	Collateral      string     `json:"collateral,omitempty"`
	RequestedAmount string     `json:"requested_amount"`
	InterestRate    string     `json:"interest_rate"`
	TermMonths      int        `json:"term_months"`
	Status          string     `json:"status"`
	Quote           termsJSON  `json:"quote"`
	ApprovedAmount  string     `json:"approved_amount,omitempty"`
	MonthlyPayment  string     `json:"monthly_payment"`
	TotalInterest   string     `json:"total_interest"`
	TotalAmount     string     `json:"total_amount"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	DisbursementTxn string     `json:"disbursement_txn,omitempty"`
	AppliedAt       time.Time  `json:"applied_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	DisbursedAt     *time.Time `json:"disbursed_at,omitempty"`
}

func toLoan(l *model.Loan) loanJSON {
	out := loanJSON{
		Number:          l.Number,
		CustomerRef:     l.CustomerRef,
		AccountNumber:   l.AccountNumber,
		Purpose:         l.Purpose,
		Collateral:      l.Collateral,
		RequestedAmount: l.RequestedAmount.StringFixed(2),
		InterestRate:    l.InterestRate.String(),
		TermMonths:      l.TermMonths,
		Status:          string(l.Status),
		Quote:           toTerms(l.Quote),
		MonthlyPayment:  l.MonthlyPayment.StringFixed(2),
		TotalInterest:   l.TotalInterest.StringFixed(2),
		TotalAmount:     l.TotalAmount.StringFixed(2),
		RejectionReason: l.RejectionReason,
		ApprovedBy:      l.ApprovedBy,
		DisbursementTxn: l.DisbursementTxn,
		AppliedAt:       l.AppliedAt,
		ApprovedAt:      l.ApprovedAt,
		RejectedAt:      l.RejectedAt,
		DisbursedAt:     l.DisbursedAt,
	}
	if l.ApprovedAt != nil {
		out.ApprovedAmount = l.ApprovedAmount.StringFixed(2)
	}
	return out
}

func toLoans(ls []model.Loan) []loanJSON {
	out := make([]loanJSON, len(ls))
	for i := range ls {
		out[i] = toLoan(&ls[i])
	}
	return out
}

// Requests.

type transactionRequest struct {
	AccountNumber      string          `json:"account_number"`
	CustomerRef        string          `json:"customer_ref"`
	Amount             decimal.Decimal `json:"amount"`
	Kind               string          `json:"kind"`
	Description        string          `json:"description"`
	CounterpartAccount string          `json:"counterpart_account,omitempty"`
}

type transferRequest struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	CustomerRef string          `json:"customer_ref"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type reversalRequest struct {
	Reason string `json:"reason"`
}

type applyRequest struct {
	CustomerRef     string          `json:"customer_ref"`
	AccountNumber   string          `json:"account_number"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	InterestRate    decimal.Decimal `json:"interest_rate"`
	TermMonths      int             `json:"term_months"`
	Purpose         string          `json:"purpose"`
	Collateral      string          `json:"collateral"`
}

type approveRequest struct {
	ApprovedAmount *decimal.Decimal `json:"approved_amount,omitempty"`
	Approver       string           `json:"approver"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}
