// Package reversal books compensating transactions.
//
// A reversal never edits the original amount. It writes a new transaction
// with the opposite effect, applies that effect through the ledger and marks
// the original reversed, all in one unit. Reversing either leg of a transfer
// reverses both legs.
package reversal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/id"
	"github.com/mims-dev/mims/internal/ledger"
	"github.com/mims-dev/mims/internal/logging"
	"github.com/mims-dev/mims/internal/metrics"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/notify"
	"github.com/mims-dev/mims/internal/store"
)

// Params holds the collaborators of a Service.
type Params struct {
	Store    store.Store
	Ledger   *ledger.Service
	IDs      *id.Generator
	Now      func() time.Time
	Notifier notify.Notifier
	Metrics  metrics.Collector
	Logger   *logging.Logger
}

// Service reverses completed transactions.
type Service struct {
	store   store.Store
	ledger  *ledger.Service
	ids     *id.Generator
	now     func() time.Time
	notify  notify.Notifier
	metrics metrics.Collector
	log     *logging.Logger
}

// NewService creates a reversal Service.
func NewService(p Params) *Service {
	s := &Service{
		store:   p.Store,
		ledger:  p.Ledger,
		ids:     p.IDs,
		now:     p.Now,
		notify:  p.Notifier,
		metrics: p.Metrics,
		log:     p.Logger,
	}
	if s.ids == nil {
		s.ids = id.NewGenerator(id.DefaultMaxAttempts)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.notify == nil {
		s.notify = notify.Nop{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NoOpCollector{}
	}
	if s.log == nil {
		s.log = logging.NewNop()
	}
	s.log = s.log.Named("reversal")
	return s
}

// Description returns the description booked on the reversal of number.
func Description(number, reason string) string {
	d := "Reversal of transaction " + number
	if reason = strings.TrimSpace(reason); reason != "" {
		d += ": " + reason
	}
	return d
}

// flip returns the kind that undoes k. Transfer legs stay transfers; only
// their direction changes.
func flip(k model.TransactionKind) model.TransactionKind {
	switch k {
	case model.KindDeposit:
		return model.KindWithdrawal
	case model.KindWithdrawal:
		return model.KindDeposit
	}
	return k
}

// Reverse books the compensation of a completed transaction and returns it.
// For a transfer leg the other leg is compensated in the same unit.
func (s *Service) Reverse(ctx context.Context, number, reason string) (*model.Transaction, error) {
	start := time.Now()
	comps, err := s.reverse(ctx, number, reason)
	s.metrics.RecordReversal(metrics.Outcome(err), time.Since(start))
	if err != nil {
		if errors.Is(err, errs.ErrPersistence) {
			s.log.Error("reversal failed", zap.String("txn", number), zap.Error(err))
		} else {
			s.log.Debug("reversal rejected", zap.String("txn", number), zap.Error(err))
		}
		return nil, err
	}

	for _, c := range comps {
		s.log.Info("transaction reversed",
			zap.String("txn", c.ReferenceNumber),
			zap.String("reversal", c.Number),
			zap.String("account", c.AccountNumber),
			zap.String("amount", c.Amount.StringFixed(2)))
		s.notify.Notify(ctx, notify.Event{
			Type:     notify.TransactionReversed,
			At:       c.CreatedAt,
			Subject:  c.Number,
			Account:  c.AccountNumber,
			Customer: c.CustomerRef,
			Amount:   c.Amount,
			Details:  "reverses=" + c.ReferenceNumber,
		})
	}
	return &comps[0], nil
}

func (s *Service) reverse(ctx context.Context, number, reason string) ([]model.Transaction, error) {
	if strings.TrimSpace(number) == "" {
		return nil, errs.Invalid("transaction_number", "is required")
	}
	desc := Description(number, reason)
	if utf8.RuneCountInString(desc) > model.MaxDescription {
		return nil, errs.Invalid("reason", "makes the description longer than %d characters", model.MaxDescription)
	}

	var comps []model.Transaction
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		first, err := u.GetTransaction(ctx, number)
		if err != nil {
			return err
		}
		accounts := []string{first.AccountNumber}
		if first.Kind == model.KindTransfer && first.CounterpartNumber != "" {
			other, err := u.GetTransaction(ctx, first.CounterpartNumber)
			if err != nil {
				return fmt.Errorf("loading other leg of %s: %w", number, err)
			}
			accounts = append(accounts, other.AccountNumber)
		}
		if _, err := u.LockAccounts(ctx, accounts...); err != nil {
			return err
		}

		// Re-read under the account locks: a concurrent reversal may have
		// committed since the first read.
		legs, err := s.loadLegs(ctx, u, number)
		if err != nil {
			return err
		}

		now := s.now()
		comps = make([]model.Transaction, len(legs))
		for i, leg := range legs {
			n, err := s.ids.Next(ctx, u, id.PrefixTransaction)
			if err != nil {
				return err
			}
			comps[i] = model.Transaction{
				ID:              uuid.New(),
				Number:          n,
				AccountNumber:   leg.AccountNumber,
				CustomerRef:     leg.CustomerRef,
				Amount:          leg.Amount,
				Kind:            flip(leg.Kind),
				Direction:       leg.Direction.Opposite(),
				Status:          model.TxnCompleted,
				Description:     Description(leg.Number, reason),
				ReferenceNumber: leg.Number,
				CreatedAt:       now,
			}
		}
		if len(comps) == 2 {
			comps[0].CounterpartNumber = comps[1].Number
			comps[1].CounterpartNumber = comps[0].Number
		}

		for i := range comps {
			if err := u.InsertTransaction(ctx, &comps[i]); err != nil {
				return err
			}
			if _, err := s.ledger.Adjust(ctx, u, comps[i].AccountNumber, comps[i].SignedAmount()); err != nil {
				return err
			}
			err := u.UpdateTransaction(ctx, legs[i].Number, store.TransactionUpdate{
				Status:     model.TxnReversed,
				ReversedAt: now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap("reversing "+number, err)
	}
	return comps, nil
}

// loadLegs returns the transaction and, for transfers, its other leg, after
// checking that each can be reversed. The requested leg comes first.
func (s *Service) loadLegs(ctx context.Context, u store.Unit, number string) ([]*model.Transaction, error) {
	t, err := u.GetTransaction(ctx, number)
	if err != nil {
		return nil, err
	}
	if err := reversible(ctx, u, t); err != nil {
		return nil, err
	}
	legs := []*model.Transaction{t}
	if t.Kind == model.KindTransfer && t.CounterpartNumber != "" {
		other, err := u.GetTransaction(ctx, t.CounterpartNumber)
		if err != nil {
			return nil, err
		}
		if err := reversible(ctx, u, other); err != nil {
			return nil, err
		}
		legs = append(legs, other)
	}
	return legs, nil
}

func reversible(ctx context.Context, u store.Unit, t *model.Transaction) error {
	if t.Status == model.TxnReversed {
		return fmt.Errorf("transaction %s: %w", t.Number, errs.ErrAlreadyReversed)
	}
	if t.Status != model.TxnCompleted {
		return fmt.Errorf("transaction %s is %s: %w", t.Number, t.Status, errs.ErrNotCompleted)
	}
	if t.ReferenceNumber != "" {
		return fmt.Errorf("transaction %s is a reversal of %s: %w", t.Number, t.ReferenceNumber, errs.ErrNotCompleted)
	}
	prior, err := u.ReversalOf(ctx, t.Number)
	if err == nil {
		return fmt.Errorf("transaction %s was reversed by %s: %w", t.Number, prior.Number, errs.ErrAlreadyReversed)
	}
	if !errors.Is(err, errs.ErrTransactionNotFound) {
		return err
	}
	return nil
}
