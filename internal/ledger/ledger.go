// Package ledger owns account balances and account status.
//
// Adjust is the only code path that changes a balance. It runs inside a
// caller's unit of work so the balance and the transaction record that
// justifies it commit together.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/logging"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/store"
)

// Service applies balance changes and account lifecycle operations.
type Service struct {
	store store.Store
	log   *logging.Logger
	now   func() time.Time
}

// NewService creates a ledger Service. A nil clock means time.Now.
func NewService(st store.Store, log *logging.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Service{store: st, log: log.Named("ledger"), now: now}
}

// Adjust applies delta to an account inside u and returns the new balance.
// The account is locked for the rest of the unit.
func (s *Service) Adjust(ctx context.Context, u store.Unit, number string, delta decimal.Decimal) (decimal.Decimal, error) {
	accts, err := u.LockAccounts(ctx, number)
	if err != nil {
		return decimal.Zero, errs.Wrap("locking account "+number, err)
	}
	a := accts[0]

	if !a.Active() {
		return decimal.Zero, fmt.Errorf("account %s: %w", number, errs.ErrAccountInactive)
	}
	next := a.Balance.Add(delta)
	if delta.IsNegative() && next.IsNegative() {
		return decimal.Zero, fmt.Errorf("account %s has %s, needs %s: %w",
			number, a.Balance.StringFixed(2), delta.Neg().StringFixed(2), errs.ErrInsufficientFunds)
	}

	a.Balance = next
	a.UpdatedAt = s.now()
	if err := u.SaveAccount(ctx, a); err != nil {
		return decimal.Zero, errs.Wrap("saving account "+number, err)
	}
	return next, nil
}

// AdjustBalance is Adjust in a unit of its own.
func (s *Service) AdjustBalance(ctx context.Context, number string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		balance, err = s.Adjust(ctx, u, number, delta)
		return err
	})
	if err != nil {
		return decimal.Zero, errs.Wrap("adjusting balance", err)
	}
	return balance, nil
}

// Close marks an account closed. Only accounts with a zero balance can close.
func (s *Service) Close(ctx context.Context, number string) (*model.Account, error) {
	var closed *model.Account
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		accts, err := u.LockAccounts(ctx, number)
		if err != nil {
			return err
		}
		a := accts[0]
		if !a.Active() {
			return fmt.Errorf("account %s: %w", number, errs.ErrAccountInactive)
		}
		if !a.Balance.IsZero() {
			return fmt.Errorf("account %s has %s: %w", number, a.Balance.StringFixed(2), errs.ErrNonZeroBalance)
		}

		now := s.now()
		a.Status = model.AccountClosed
		a.ClosedAt = &now
		a.UpdatedAt = now
		if err := u.SaveAccount(ctx, a); err != nil {
			return err
		}
		closed = a
		return nil
	})
	if err != nil {
		s.log.Debug("close rejected", zap.String("account", number), zap.Error(err))
		return nil, errs.Wrap("closing account", err)
	}
	s.log.Info("account closed", zap.String("account", number))
	return closed, nil
}

// OpenParams holds parameters for opening an account.
type OpenParams struct {
	Number         string
	CustomerRef    string
	Type           model.AccountType
	OpeningBalance decimal.Decimal
}

func (p OpenParams) validate() error {
	if strings.TrimSpace(p.Number) == "" {
		return errs.Invalid("account_number", "is required")
	}
	if strings.TrimSpace(p.CustomerRef) == "" {
		return errs.Invalid("customer_ref", "is required")
	}
	if !p.Type.Valid() {
		return errs.Invalid("type", "unknown account type %q", p.Type)
	}
	if p.OpeningBalance.IsNegative() {
		return errs.Invalid("opening_balance", "must not be negative, got %s", p.OpeningBalance)
	}
	if !model.WholeCents(p.OpeningBalance) {
		return errs.Invalid("opening_balance", "must have at most two decimal places")
	}
	return nil
}

// Open creates an active account.
func (s *Service) Open(ctx context.Context, p OpenParams) (*model.Account, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	a := &model.Account{
		ID:          uuid.New(),
		Number:      p.Number,
		CustomerRef: p.CustomerRef,
		Type:        p.Type,
		Balance:     p.OpeningBalance,
		Status:      model.AccountActive,
		OpenedAt:    now,
		UpdatedAt:   now,
	}
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		return u.InsertAccount(ctx, a)
	})
	if err != nil {
		return nil, errs.Wrap("opening account "+p.Number, err)
	}
	s.log.Info("account opened",
		zap.String("account", a.Number),
		zap.String("customer", a.CustomerRef),
		zap.String("type", string(a.Type)))
	return a, nil
}

// Get returns an account.
func (s *Service) Get(ctx context.Context, number string) (*model.Account, error) {
	var a *model.Account
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		a, err = u.GetAccount(ctx, number)
		return err
	})
	if err != nil {
		return nil, errs.Wrap("loading account", err)
	}
	return a, nil
}

// ListByCustomer returns a customer's accounts ordered by number.
func (s *Service) ListByCustomer(ctx context.Context, customerRef string) ([]model.Account, error) {
	var out []model.Account
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		out, err = u.ListAccounts(ctx, customerRef)
		return err
	})
	if err != nil {
		return nil, errs.Wrap("listing accounts", err)
	}
	return out, nil
}
