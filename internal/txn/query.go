package txn

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/store"
)

// Get returns a transaction by number.
func (s *Service) Get(ctx context.Context, number string) (*model.Transaction, error) {
	var t *model.Transaction
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		t, err = u.GetTransaction(ctx, number)
		return err
	})
	if err != nil {
		return nil, errs.Wrap("loading transaction", err)
	}
	return t, nil
}

// ListByAccount returns an account's transactions, newest first.
func (s *Service) ListByAccount(ctx context.Context, accountNumber string, limit int) ([]model.Transaction, error) {
	return s.list(ctx, store.TransactionFilter{AccountNumber: accountNumber, Limit: limit}, true)
}

// ListByCustomer returns a customer's transactions across accounts, newest first.
func (s *Service) ListByCustomer(ctx context.Context, customerRef string, limit int) ([]model.Transaction, error) {
	return s.list(ctx, store.TransactionFilter{CustomerRef: customerRef, Limit: limit}, false)
}

func (s *Service) list(ctx context.Context, f store.TransactionFilter, needAccount bool) ([]model.Transaction, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	var out []model.Transaction
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		if needAccount {
			if _, err := u.GetAccount(ctx, f.AccountNumber); err != nil {
				return err
			}
		}
		var err error
		out, err = u.ListTransactions(ctx, f)
		return err
	})
	if err != nil {
		return nil, errs.Wrap("listing transactions", err)
	}
	return out, nil
}

// KindStats aggregates transactions of one kind.
type KindStats struct {
	Kind           model.TransactionKind `json:"kind"`
	Count          int                   `json:"count"`
	Amount         decimal.Decimal       `json:"amount"`
	Reversed       int                   `json:"reversed"`
	AmountReversed decimal.Decimal       `json:"amount_reversed"`
}

// Stats summarizes all recorded transactions.
type Stats struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
	ByKind []KindStats     `json:"by_kind"`
}

// Stats returns counts and volumes per kind. Reversal records count under
// the kind they were booked as.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var totals []store.TransactionTotal
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		totals, err = u.TransactionTotals(ctx)
		return err
	})
	if err != nil {
		return nil, errs.Wrap("loading transaction totals", err)
	}

	byKind := make(map[model.TransactionKind]*KindStats)
	out := &Stats{Amount: decimal.Zero}
	for _, t := range totals {
		k, ok := byKind[t.Kind]
		if !ok {
			k = &KindStats{Kind: t.Kind, Amount: decimal.Zero, AmountReversed: decimal.Zero}
			byKind[t.Kind] = k
		}
		k.Count += t.Count
		k.Amount = k.Amount.Add(t.Amount)
		if t.Status == model.TxnReversed {
			k.Reversed += t.Count
			k.AmountReversed = k.AmountReversed.Add(t.Amount)
		}
		out.Count += t.Count
		out.Amount = out.Amount.Add(t.Amount)
	}
	for _, k := range byKind {
		out.ByKind = append(out.ByKind, *k)
	}
	sort.Slice(out.ByKind, func(i, j int) bool { return out.ByKind[i].Kind < out.ByKind[j].Kind })
	return out, nil
}
