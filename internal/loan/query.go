package loan

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/store"
)

// Get returns a loan by number.
func (s *Service) Get(ctx context.Context, number string) (*model.Loan, error) {
	var l *model.Loan
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		l, err = u.GetLoan(ctx, number)
		return err
	})
	if err != nil {
		return nil, errs.Wrap("loading loan", err)
	}
	return l, nil
}

// ListByCustomer returns a customer's loans, newest first.
func (s *Service) ListByCustomer(ctx context.Context, customerRef string, limit int) ([]model.Loan, error) {
	return s.list(ctx, store.LoanFilter{CustomerRef: customerRef, Limit: limit})
}

// Pending returns loans awaiting a decision, newest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]model.Loan, error) {
	return s.list(ctx, store.LoanFilter{Statuses: []model.LoanStatus{model.LoanPending}, Limit: limit})
}

func (s *Service) list(ctx context.Context, f store.LoanFilter) ([]model.Loan, error) {
	var out []model.Loan
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		out, err = u.ListLoans(ctx, f)
		return err
	})
	if err != nil {
		return nil, errs.Wrap("listing loans", err)
	}
	return out, nil
}

// StatusStats aggregates loans in one status.
type StatusStats struct {
	Status    model.LoanStatus `json:"status"`
	Count     int              `json:"count"`
	Requested decimal.Decimal  `json:"requested"`
	Approved  decimal.Decimal  `json:"approved"`
}

// Stats summarizes the loan book.
type Stats struct {
	Count     int             `json:"count"`
	Approved  decimal.Decimal `json:"approved"`  // approved and not yet disbursed
	Disbursed decimal.Decimal `json:"disbursed"` // paid out
	ByStatus  []StatusStats   `json:"by_status"`
}

// Stats returns counts and amounts per status.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var totals []store.LoanTotal
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		totals, err = u.LoanTotals(ctx)
		return err
	})
	if err != nil {
		return nil, errs.Wrap("loading loan totals", err)
	}

	out := &Stats{Approved: decimal.Zero, Disbursed: decimal.Zero}
	for _, t := range totals {
		out.Count += t.Count
		out.ByStatus = append(out.ByStatus, StatusStats(t))
		switch t.Status {
		case model.LoanApproved:
			out.Approved = out.Approved.Add(t.Approved)
		case model.LoanDisbursed:
			out.Disbursed = out.Disbursed.Add(t.Approved)
		}
	}
	return out, nil
}
