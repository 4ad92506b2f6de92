// Package txn records deposits, withdrawals and transfers.
//
// Every operation is one unit of work: validation against the locked account,
// the daily limit check, number reservation, the transaction record and the
// balance change commit together or not at all.
package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mims-dev/mims/internal/config"
	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/id"
	"github.com/mims-dev/mims/internal/ledger"
	"github.com/mims-dev/mims/internal/logging"
	"github.com/mims-dev/mims/internal/metrics"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/notify"
	"github.com/mims-dev/mims/internal/store"
)

// DefaultListLimit caps listings when the caller passes no limit.
const DefaultListLimit = 50

// Params holds the collaborators of a Service.
type Params struct {
	Store    store.Store
	Ledger   *ledger.Service
	IDs      *id.Generator
	Limits   config.LimitsConfig
	Location *time.Location   // calendar day for the daily limit; UTC when nil
	Now      func() time.Time // time.Now when nil
	Notifier notify.Notifier
	Metrics  metrics.Collector
	Logger   *logging.Logger
}

// Service processes money movements.
type Service struct {
	store   store.Store
	ledger  *ledger.Service
	ids     *id.Generator
	limits  config.LimitsConfig
	loc     *time.Location
	now     func() time.Time
	notify  notify.Notifier
	metrics metrics.Collector
	log     *logging.Logger
}

// NewService creates a transaction Service.
func NewService(p Params) *Service {
	s := &Service{
		store:   p.Store,
		ledger:  p.Ledger,
		ids:     p.IDs,
		limits:  p.Limits,
		loc:     p.Location,
		now:     p.Now,
		notify:  p.Notifier,
		metrics: p.Metrics,
		log:     p.Logger,
	}
	if s.ids == nil {
		s.ids = id.NewGenerator(id.DefaultMaxAttempts)
	}
	if s.loc == nil {
		s.loc = time.UTC
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
	s.log = s.log.Named("txn")
	return s
}

// Request is a single-account deposit or withdrawal. Kind transfer is
// accepted when CounterpartAccount names the destination.
type Request struct {
	AccountNumber      string
	CustomerRef        string
	Amount             decimal.Decimal
	Kind               model.TransactionKind
	Description        string
	CounterpartAccount string
}

func (r Request) validate() error {
	if err := validateAmount(r.Amount); err != nil {
		return err
	}
	if !r.Kind.Valid() {
		return errs.Invalid("kind", "must be deposit, withdrawal or transfer, got %q", r.Kind)
	}
	if strings.TrimSpace(r.AccountNumber) == "" {
		return errs.Invalid("account_number", "is required")
	}
	if strings.TrimSpace(r.CustomerRef) == "" {
		return errs.Invalid("customer_ref", "is required")
	}
	return validateDescription(r.Description)
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errs.Invalid("amount", "must be at least 0.01, got %s", amount)
	}
	if !model.WholeCents(amount) {
		return errs.Invalid("amount", "must have at most two decimal places, got %s", amount)
	}
	return nil
}

func validateDescription(d string) error {
	if strings.TrimSpace(d) == "" {
		return errs.Invalid("description", "is required")
	}
	if utf8.RuneCountInString(d) > model.MaxDescription {
		return errs.Invalid("description", "must be at most %d characters", model.MaxDescription)
	}
	return nil
}

// Process records a deposit or withdrawal and applies it to the balance.
func (s *Service) Process(ctx context.Context, req Request) (*model.Transaction, error) {
	if req.Kind == model.KindTransfer {
		if strings.TrimSpace(req.CounterpartAccount) == "" {
			return nil, errs.Invalid("counterpart_account", "is required for transfers")
		}
		res, err := s.Transfer(ctx, TransferRequest{
			From:        req.AccountNumber,
			To:          req.CounterpartAccount,
			CustomerRef: req.CustomerRef,
			Amount:      req.Amount,
			Description: req.Description,
		})
		if err != nil {
			return nil, err
		}
		return &res.Debit, nil
	}

	start := time.Now()
	t, err := s.process(ctx, req)
	s.finish(string(req.Kind), start, err, zap.String("account", req.AccountNumber))
	if err != nil {
		return nil, err
	}

	s.log.Info("transaction completed",
		zap.String("txn", t.Number),
		zap.String("account", t.AccountNumber),
		zap.String("kind", string(t.Kind)),
		zap.String("amount", t.Amount.StringFixed(2)))
	s.emit(ctx, notify.TransactionCompleted, *t, "")
	return t, nil
}

func (s *Service) process(ctx context.Context, req Request) (*model.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var t *model.Transaction
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		accts, err := u.LockAccounts(ctx, req.AccountNumber)
		if err != nil {
			return err
		}
		a := accts[0]
		if err := checkUsable(a, req.CustomerRef); err != nil {
			return err
		}

		now := s.now()
		direction := model.DirectionOf(req.Kind)
		if direction == model.DirectionOut {
			if err := s.checkDebit(ctx, u, a, req.Amount, now); err != nil {
				return err
			}
		}

		number, err := s.ids.Next(ctx, u, id.PrefixTransaction)
		if err != nil {
			return err
		}
		t = &model.Transaction{
			ID:            uuid.New(),
			Number:        number,
			AccountNumber: a.Number,
			CustomerRef:   a.CustomerRef,
			Amount:        req.Amount,
			Kind:          req.Kind,
			Direction:     direction,
			Status:        model.TxnCompleted,
			Description:   req.Description,
			CreatedAt:     now,
		}
		if err := u.InsertTransaction(ctx, t); err != nil {
			return err
		}
		_, err = s.ledger.Adjust(ctx, u, a.Number, t.SignedAmount())
		return err
	})
	if err != nil {
		return nil, errs.Wrap("processing "+string(req.Kind), err)
	}
	return t, nil
}

// checkUsable rejects accounts that are closed or owned by someone else.
func checkUsable(a *model.Account, customerRef string) error {
	if a.CustomerRef != customerRef {
		return errs.Invalid("customer_ref", "account %s does not belong to customer %s", a.Number, customerRef)
	}
	if !a.Active() {
		return fmt.Errorf("account %s: %w", a.Number, errs.ErrAccountInactive)
	}
	return nil
}

// checkDebit enforces the balance and the daily limit for an outgoing amount.
// It must run while the account is locked by the calling unit.
func (s *Service) checkDebit(ctx context.Context, u store.Unit, a *model.Account, amount decimal.Decimal, now time.Time) error {
	if a.Balance.LessThan(amount) {
		return fmt.Errorf("account %s has %s, needs %s: %w",
			a.Number, a.Balance.StringFixed(2), amount.StringFixed(2), errs.ErrInsufficientFunds)
	}

	from, to := s.day(now)
	spent, err := u.SumOutgoing(ctx, a.Number, from, to)
	if err != nil {
		return err
	}
	limit := s.limits.DailyLimit(string(a.Type))
	if spent.Add(amount).GreaterThan(limit) {
		return fmt.Errorf("account %s withdrew %s of %s today, cannot add %s: %w",
			a.Number, spent.StringFixed(2), limit.StringFixed(2), amount.StringFixed(2), errs.ErrDailyLimitExceeded)
	}
	return nil
}

// day returns the bounds of the calendar day containing t.
func (s *Service) day(t time.Time) (time.Time, time.Time) {
	local := t.In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1)
}

// finish records the outcome of an operation. Business rejections log at
// debug level, store failures at error level.
func (s *Service) finish(kind string, start time.Time, err error, fields ...zap.Field) {
	s.metrics.RecordTransaction(kind, metrics.Outcome(err), time.Since(start))
	if err == nil {
		return
	}
	fields = append(fields, zap.String("kind", kind), zap.Error(err))
	if errors.Is(err, errs.ErrPersistence) {
		s.log.Error("transaction failed", fields...)
		return
	}
	s.log.Debug("transaction rejected", fields...)
}

func (s *Service) emit(ctx context.Context, typ string, t model.Transaction, details string) {
	s.notify.Notify(ctx, notify.Event{
		Type:     typ,
		At:       t.CreatedAt,
		Subject:  t.Number,
		Account:  t.AccountNumber,
		Customer: t.CustomerRef,
		Amount:   t.Amount,
		Details:  details,
	})
}
