// Package loan runs the loan application state machine:
//
//	pending -> approved -> disbursed
//	pending -> rejected
//
// Rejected and disbursed are terminal. Disbursement commits the state change
// first and then asks the ledger side for the credit, which is idempotent by
// loan number.
package loan

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
	"github.com/mims-dev/mims/internal/logging"
	"github.com/mims-dev/mims/internal/metrics"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/notify"
	"github.com/mims-dev/mims/internal/store"
	"github.com/mims-dev/mims/internal/txn"
)

// DefaultApprover is recorded when an approval names nobody.
const DefaultApprover = "system"

// Disburser credits a disbursed loan to its account. Calls with the same
// loan number after the first must return the first credit.
type Disburser interface {
	CreditDisbursement(ctx context.Context, loanNumber, accountNumber, customerRef string, amount decimal.Decimal) (*txn.Disbursement, error)
}

// Params holds the collaborators of a Service.
type Params struct {
	Store     store.Store
	IDs       *id.Generator
	Bounds    config.LoanBounds
	Disburser Disburser
	Now       func() time.Time
	Notifier  notify.Notifier
	Metrics   metrics.Collector
	Logger    *logging.Logger
}

// Service manages loan applications.
type Service struct {
	store     store.Store
	ids       *id.Generator
	bounds    config.LoanBounds
	disburser Disburser
	now       func() time.Time
	notify    notify.Notifier
	metrics   metrics.Collector
	log       *logging.Logger
}

// NewService creates a loan Service. Disburser is required for Disburse.
func NewService(p Params) *Service {
	s := &Service{
		store:     p.Store,
		ids:       p.IDs,
		bounds:    p.Bounds,
		disburser: p.Disburser,
		now:       p.Now,
		notify:    p.Notifier,
		metrics:   p.Metrics,
		log:       p.Logger,
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
	s.log = s.log.Named("loan")
	return s
}

// ApplyRequest is a new loan application.
type ApplyRequest struct {
	CustomerRef     string
	AccountNumber   string
	RequestedAmount decimal.Decimal
	InterestRate    decimal.Decimal // annual percent
	TermMonths      int
	Purpose         string
	Collateral      string
}

func (s *Service) checkAmount(field string, amount decimal.Decimal) error {
	return checkAmount(s.bounds, field, amount)
}

func checkAmount(b config.LoanBounds, field string, amount decimal.Decimal) error {
	if amount.LessThan(b.MinAmount) || amount.GreaterThan(b.MaxAmount) {
		return errs.Invalid(field, "must be between %s and %s, got %s", b.MinAmount, b.MaxAmount, amount)
	}
	if !model.WholeCents(amount) {
		return errs.Invalid(field, "must have at most two decimal places, got %s", amount)
	}
	return nil
}

// CheckTerms validates a principal, annual rate and term against b. Rates are
// limited to model.RatePlaces decimals so that stored loans recompute to the
// same terms they were quoted with.
func CheckTerms(b config.LoanBounds, amount, rate decimal.Decimal, termMonths int) error {
	if err := checkAmount(b, "requested_amount", amount); err != nil {
		return err
	}
	if rate.LessThan(b.MinRate) || rate.GreaterThan(b.MaxRate) {
		return errs.Invalid("interest_rate", "must be between %s and %s, got %s", b.MinRate, b.MaxRate, rate)
	}
	if !model.RateFits(rate) {
		return errs.Invalid("interest_rate", "must have at most %d decimal places, got %s", model.RatePlaces, rate)
	}
	if termMonths < b.MinTerm || termMonths > b.MaxTerm {
		return errs.Invalid("term_months", "must be between %d and %d, got %d", b.MinTerm, b.MaxTerm, termMonths)
	}
	return nil
}

// Quote prices a loan within b without storing anything.
func Quote(b config.LoanBounds, amount, rate decimal.Decimal, termMonths int) (model.Terms, error) {
	if err := CheckTerms(b, amount, rate, termMonths); err != nil {
		return model.Terms{}, err
	}
	return Amortize(amount, rate, termMonths)
}

// Quote prices a loan within the service's bounds.
func (s *Service) Quote(amount, rate decimal.Decimal, termMonths int) (model.Terms, error) {
	return Quote(s.bounds, amount, rate, termMonths)
}

func (s *Service) validate(r ApplyRequest) error {
	if strings.TrimSpace(r.CustomerRef) == "" {
		return errs.Invalid("customer_ref", "is required")
	}
	if strings.TrimSpace(r.AccountNumber) == "" {
		return errs.Invalid("account_number", "is required")
	}
	if err := CheckTerms(s.bounds, r.RequestedAmount, r.InterestRate, r.TermMonths); err != nil {
		return err
	}
	if strings.TrimSpace(r.Purpose) == "" {
		return errs.Invalid("purpose", "is required")
	}
	if utf8.RuneCountInString(r.Purpose) > model.MaxDescription {
		return errs.Invalid("purpose", "must be at most %d characters", model.MaxDescription)
	}
	if utf8.RuneCountInString(r.Collateral) > model.MaxDescription {
		return errs.Invalid("collateral", "must be at most %d characters", model.MaxDescription)
	}
	return nil
}

// Apply records a pending application with its quoted terms. A customer may
// hold only one pending or approved loan at a time.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*model.Loan, error) {
	start := time.Now()
	l, err := s.apply(ctx, req)
	s.finish("apply", start, err, zap.String("customer", req.CustomerRef))
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLoanTransition("", string(model.LoanPending))
	s.log.Info("loan applied",
		zap.String("loan", l.Number),
		zap.String("customer", l.CustomerRef),
		zap.String("amount", l.RequestedAmount.StringFixed(2)),
		zap.Int("term_months", l.TermMonths))
	s.emit(ctx, notify.LoanApplied, l, l.RequestedAmount, "purpose="+l.Purpose)
	return l, nil
}

func (s *Service) apply(ctx context.Context, req ApplyRequest) (*model.Loan, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	terms, err := Amortize(req.RequestedAmount, req.InterestRate, req.TermMonths)
	if err != nil {
		return nil, err
	}

	var l *model.Loan
	err = s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		if err := u.LockCustomer(ctx, req.CustomerRef); err != nil {
			return err
		}
		a, err := u.GetAccount(ctx, req.AccountNumber)
		if err != nil {
			return err
		}
		if a.CustomerRef != req.CustomerRef {
			return errs.Invalid("account_number", "account %s does not belong to customer %s", a.Number, req.CustomerRef)
		}
		if !a.Active() {
			return fmt.Errorf("account %s: %w", a.Number, errs.ErrAccountInactive)
		}

		open, err := u.ListLoans(ctx, store.LoanFilter{
			CustomerRef: req.CustomerRef,
			Statuses:    []model.LoanStatus{model.LoanPending, model.LoanApproved},
			Limit:       1,
		})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return fmt.Errorf("customer %s has loan %s (%s): %w",
				req.CustomerRef, open[0].Number, open[0].Status, errs.ErrActiveLoanExists)
		}

		number, err := s.ids.Next(ctx, u, id.PrefixLoan)
		if err != nil {
			return err
		}
		now := s.now()
		l = &model.Loan{
			ID:              uuid.New(),
			Number:          number,
			CustomerRef:     req.CustomerRef,
			AccountNumber:   req.AccountNumber,
			Purpose:         req.Purpose,
			Collateral:      req.Collateral,
			RequestedAmount: req.RequestedAmount,
			InterestRate:    req.InterestRate,
			TermMonths:      req.TermMonths,
			Status:          model.LoanPending,
			Quote:           terms,
			AppliedAt:       now,
			UpdatedAt:       now,
		}
		l.ApplyTerms(terms)
		return u.InsertLoan(ctx, l)
	})
	if err != nil {
		return nil, errs.Wrap("applying for loan", err)
	}
	return l, nil
}

// ApproveRequest approves a pending loan. A nil Amount approves the
// requested amount.
type ApproveRequest struct {
	Amount   *decimal.Decimal
	Approver string
}

// Approve moves a pending loan to approved and recomputes its terms for the
// approved amount. The application quote is kept.
func (s *Service) Approve(ctx context.Context, number string, req ApproveRequest) (*model.Loan, error) {
	start := time.Now()
	l, err := s.approve(ctx, number, req)
	s.finish("approve", start, err, zap.String("loan", number))
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLoanTransition(string(model.LoanPending), string(model.LoanApproved))
	s.log.Info("loan approved",
		zap.String("loan", l.Number),
		zap.String("approver", l.ApprovedBy),
		zap.String("amount", l.ApprovedAmount.StringFixed(2)))
	s.emit(ctx, notify.LoanApproved, l, l.ApprovedAmount, "approver="+l.ApprovedBy)
	return l, nil
}

func (s *Service) approve(ctx context.Context, number string, req ApproveRequest) (*model.Loan, error) {
	if req.Amount != nil {
		if err := s.checkAmount("approved_amount", *req.Amount); err != nil {
			return nil, err
		}
	}
	approver := strings.TrimSpace(req.Approver)
	if approver == "" {
		approver = DefaultApprover
	}

	var l *model.Loan
	err := s.transition(ctx, number, model.LoanPending, func(loan *model.Loan, now time.Time) error {
		principal := loan.RequestedAmount
		if req.Amount != nil {
			principal = *req.Amount
		}
		terms, err := Amortize(principal, loan.InterestRate, loan.TermMonths)
		if err != nil {
			return err
		}
		loan.Status = model.LoanApproved
		loan.ApprovedAmount = principal
		loan.ApplyTerms(terms)
		loan.ApprovedBy = approver
		loan.ApprovedAt = &now
		l = loan
		return nil
	})
	if err != nil {
		return nil, errs.Wrap("approving loan", err)
	}
	return l, nil
}

// Reject moves a pending loan to rejected.
func (s *Service) Reject(ctx context.Context, number, reason string) (*model.Loan, error) {
	start := time.Now()
	l, err := s.reject(ctx, number, reason)
	s.finish("reject", start, err, zap.String("loan", number))
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLoanTransition(string(model.LoanPending), string(model.LoanRejected))
	s.log.Info("loan rejected", zap.String("loan", l.Number), zap.String("reason", l.RejectionReason))
	s.emit(ctx, notify.LoanRejected, l, l.RequestedAmount, "reason="+l.RejectionReason)
	return l, nil
}

func (s *Service) reject(ctx context.Context, number, reason string) (*model.Loan, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errs.Invalid("reason", "is required")
	}
	if utf8.RuneCountInString(reason) > model.MaxDescription {
		return nil, errs.Invalid("reason", "must be at most %d characters", model.MaxDescription)
	}

	var l *model.Loan
	err := s.transition(ctx, number, model.LoanPending, func(loan *model.Loan, now time.Time) error {
		loan.Status = model.LoanRejected
		loan.RejectionReason = reason
		loan.RejectedAt = &now
		l = loan
		return nil
	})
	if err != nil {
		return nil, errs.Wrap("rejecting loan", err)
	}
	return l, nil
}

// Disburse moves an approved loan to disbursed and then credits the approved
// amount to the loan's account. When the credit fails the loan stays
// disbursed; the returned loan is non-nil and RetryDisbursement issues the
// credit again.
func (s *Service) Disburse(ctx context.Context, number string) (*model.Loan, error) {
	start := time.Now()
	l, err := s.disburse(ctx, number)
	s.finish("disburse", start, err, zap.String("loan", number))
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLoanTransition(string(model.LoanApproved), string(model.LoanDisbursed))
	s.log.Info("loan disbursed",
		zap.String("loan", l.Number),
		zap.String("account", l.AccountNumber),
		zap.String("amount", l.ApprovedAmount.StringFixed(2)))
	s.emit(ctx, notify.LoanDisbursed, l, l.ApprovedAmount, "account="+l.AccountNumber)

	return s.credit(ctx, l)
}

func (s *Service) disburse(ctx context.Context, number string) (*model.Loan, error) {
	var l *model.Loan
	err := s.transition(ctx, number, model.LoanApproved, func(loan *model.Loan, now time.Time) error {
		loan.Status = model.LoanDisbursed
		loan.DisbursedAt = &now
		l = loan
		return nil
	})
	if err != nil {
		return nil, errs.Wrap("disbursing loan", err)
	}
	return l, nil
}

// RetryDisbursement re-issues the credit of a disbursed loan. It is safe to
// call any number of times; the account is credited once.
func (s *Service) RetryDisbursement(ctx context.Context, number string) (*model.Loan, error) {
	l, err := s.Get(ctx, number)
	if err != nil {
		return nil, err
	}
	if l.Status != model.LoanDisbursed {
		return nil, fmt.Errorf("loan %s is %s, not disbursed: %w", number, l.Status, errs.ErrInvalidLoanState)
	}
	return s.credit(ctx, l)
}

// credit issues the idempotent credit and records its transaction number.
func (s *Service) credit(ctx context.Context, l *model.Loan) (*model.Loan, error) {
	start := time.Now()
	if s.disburser == nil {
		return l, errs.Persistence("crediting loan "+l.Number, errors.New("no disburser configured"))
	}
	d, err := s.disburser.CreditDisbursement(ctx, l.Number, l.AccountNumber, l.CustomerRef, l.ApprovedAmount)
	if err == nil && l.DisbursementTxn != d.Transaction.Number {
		err = s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
			loan, err := u.LockLoan(ctx, l.Number)
			if err != nil {
				return err
			}
			loan.DisbursementTxn = d.Transaction.Number
			loan.UpdatedAt = s.now()
			if err := u.SaveLoan(ctx, loan); err != nil {
				return err
			}
			l = loan
			return nil
		})
		err = errs.Wrap("recording disbursement", err)
	}
	s.finish("credit", start, err, zap.String("loan", l.Number))
	if err != nil {
		return l, fmt.Errorf("loan %s is disbursed but the credit is incomplete: %w", l.Number, err)
	}
	return l, nil
}

// transition locks a loan, checks it is in from, applies fn and saves it.
func (s *Service) transition(ctx context.Context, number string, from model.LoanStatus, fn func(*model.Loan, time.Time) error) error {
	return s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		l, err := u.LockLoan(ctx, number)
		if err != nil {
			return err
		}
		if l.Status != from {
			return fmt.Errorf("loan %s is %s, needs %s: %w", number, l.Status, from, errs.ErrInvalidLoanState)
		}
		now := s.now()
		if err := fn(l, now); err != nil {
			return err
		}
		l.UpdatedAt = now
		return u.SaveLoan(ctx, l)
	})
}

func (s *Service) finish(op string, start time.Time, err error, fields ...zap.Field) {
	s.metrics.RecordLoanOperation(op, metrics.Outcome(err), time.Since(start))
	if err == nil {
		return
	}
	fields = append(fields, zap.String("op", op), zap.Error(err))
	if errors.Is(err, errs.ErrPersistence) {
		s.log.Error("loan operation failed", fields...)
		return
	}
	s.log.Debug("loan operation rejected", fields...)
}

func (s *Service) emit(ctx context.Context, typ string, l *model.Loan, amount decimal.Decimal, details string) {
	s.notify.Notify(ctx, notify.Event{
		Type:     typ,
		At:       l.UpdatedAt,
		Subject:  l.Number,
		Account:  l.AccountNumber,
		Customer: l.CustomerRef,
		Amount:   amount,
		Details:  details,
	})
}
