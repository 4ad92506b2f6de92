package loan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mims-dev/mims/internal/config"
	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/ledger"
	metricsmem "github.com/mims-dev/mims/internal/metrics/memory"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/notify"
	"github.com/mims-dev/mims/internal/store/memory"
	"github.com/mims-dev/mims/internal/txn"
)

var now = time.Date(2026, 10, 18, 11, 0, 0, 0, time.UTC)

type fixture struct {
	loans   *Service
	ledger  *ledger.Service
	txns    *txn.Service
	events  *notify.Recorder
	metrics *metricsmem.Collector
}

// flakyDisburser fails a set number of times before delegating.
type flakyDisburser struct {
	mu    sync.Mutex
	fails int
	next  Disburser
}

func (d *flakyDisburser) CreditDisbursement(ctx context.Context, loanNumber, accountNumber, customerRef string, amount decimal.Decimal) (*txn.Disbursement, error) {
	d.mu.Lock()
	if d.fails > 0 {
		d.fails--
		d.mu.Unlock()
		return nil, errs.Persistence("crediting", errors.New("connection reset"))
	}
	d.mu.Unlock()
	return d.next.CreditDisbursement(ctx, loanNumber, accountNumber, customerRef, amount)
}

func newFixture(t *testing.T, opts ...func(*Params)) *fixture {
	t.Helper()
	st := memory.New()
	clock := func() time.Time { return now }
	f := &fixture{
		ledger:  ledger.NewService(st, nil, clock),
		events:  &notify.Recorder{},
		metrics: metricsmem.NewCollector(),
	}
	for _, n := range []string{"ACC-1", "ACC-2"} {
		_, err := f.ledger.Open(context.Background(), ledger.OpenParams{
			Number: n, CustomerRef: "CUST-" + n, Type: model.AccountTypeSavings,
		})
		require.NoError(t, err)
	}
	f.txns = txn.NewService(txn.Params{
		Store:  st,
		Ledger: f.ledger,
		Limits: config.Default().Limits,
		Now:    clock,
	})
	p := Params{
		Store:     st,
		Bounds:    config.Default().Loans,
		Disburser: f.txns,
		Now:       clock,
		Notifier:  f.events,
		Metrics:   f.metrics,
	}
	for _, o := range opts {
		o(&p)
	}
	f.loans = NewService(p)
	return f
}

func application(account string) ApplyRequest {
	return ApplyRequest{
		CustomerRef:     "CUST-" + account,
		AccountNumber:   account,
		RequestedAmount: dec("1000"),
		InterestRate:    dec("12"),
		TermMonths:      12,
		Purpose:         "sewing machine",
		Collateral:      "motorbike logbook",
	}
}

func (f *fixture) balance(t *testing.T, number string) decimal.Decimal {
	t.Helper()
	a, err := f.ledger.Get(context.Background(), number)
	require.NoError(t, err)
	return a.Balance
}

func TestApply(t *testing.T) {
	f := newFixture(t)

	l, err := f.loans.Apply(context.Background(), application("ACC-1"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(l.Number, "LN-"), l.Number)
	assert.Equal(t, model.LoanPending, l.Status)
	assert.Equal(t, now, l.AppliedAt)
	assert.True(t, l.MonthlyPayment.Equal(dec("88.85")))
	assert.True(t, l.TotalAmount.Equal(dec("1066.19")))
	assert.True(t, l.TotalInterest.Equal(dec("66.19")))
	assert.Equal(t, l.MonthlyPayment, l.Quote.MonthlyPayment)
	assert.True(t, l.ApprovedAmount.IsZero())

	assert.Equal(t, []string{notify.LoanApplied}, f.events.Types())
	assert.Equal(t, 1, f.metrics.LoanOperations("apply", "ok"))
	assert.Equal(t, 1, f.metrics.Transitions("", "pending"))
}

func TestApply_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*ApplyRequest)
		field  string
	}{
		{"amount below minimum", func(r *ApplyRequest) { r.RequestedAmount = dec("99.99") }, "requested_amount"},
		{"amount above maximum", func(r *ApplyRequest) { r.RequestedAmount = dec("100000.01") }, "requested_amount"},
		{"fractional cents", func(r *ApplyRequest) { r.RequestedAmount = dec("500.001") }, "requested_amount"},
		{"rate below minimum", func(r *ApplyRequest) { r.InterestRate = dec("0.5") }, "interest_rate"},
		{"rate above maximum", func(r *ApplyRequest) { r.InterestRate = dec("50.01") }, "interest_rate"},
		{"rate beyond four places", func(r *ApplyRequest) { r.InterestRate = dec("12.345678") }, "interest_rate"},
		{"zero term", func(r *ApplyRequest) { r.TermMonths = 0 }, "term_months"},
		{"long term", func(r *ApplyRequest) { r.TermMonths = 61 }, "term_months"},
		{"missing purpose", func(r *ApplyRequest) { r.Purpose = "" }, "purpose"},
		{"long collateral", func(r *ApplyRequest) { r.Collateral = strings.Repeat("c", 256) }, "collateral"},
		{"missing customer", func(r *ApplyRequest) { r.CustomerRef = "" }, "customer_ref"},
		{"foreign account", func(r *ApplyRequest) { r.AccountNumber = "ACC-2" }, "account_number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := application("ACC-1")
			tt.mutate(&req)
			_, err := f.loans.Apply(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrValidation)
			assert.Equal(t, tt.field, errs.FieldOf(err))
		})
	}
}

func TestApply_RateAtStoredPrecision(t *testing.T) {
	f := newFixture(t)
	req := application("ACC-1")
	req.InterestRate = dec("12.3457")

	l, err := f.loans.Apply(context.Background(), req)
	require.NoError(t, err)

	again, err := Amortize(l.RequestedAmount, l.InterestRate.Round(model.RatePlaces), l.TermMonths)
	require.NoError(t, err)
	assert.True(t, again.MonthlyPayment.Equal(l.MonthlyPayment))
	assert.True(t, again.TotalAmount.Equal(l.TotalAmount))
}

func TestQuote(t *testing.T) {
	f := newFixture(t)

	terms, err := f.loans.Quote(dec("1000"), dec("12"), 12)
	require.NoError(t, err)
	assert.True(t, terms.MonthlyPayment.Equal(dec("88.85")))

	tests := []struct {
		name   string
		amount string
		rate   string
		term   int
		field  string
	}{
		{"term above maximum", "1000", "12", 61, "term_months"},
		{"huge term", "1000", "12", 1 << 30, "term_months"},
		{"zero term", "1000", "12", 0, "term_months"},
		{"amount below minimum", "99", "12", 12, "requested_amount"},
		{"rate above maximum", "1000", "51", 12, "interest_rate"},
		{"rate beyond four places", "1000", "12.345678", 12, "interest_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.loans.Quote(dec(tt.amount), dec(tt.rate), tt.term)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrValidation)
			assert.Equal(t, tt.field, errs.FieldOf(err))
		})
	}
}

func TestApply_BoundsAreInclusive(t *testing.T) {
	f := newFixture(t)
	req := application("ACC-1")
	req.RequestedAmount = dec("100000")
	req.InterestRate = dec("50")
	req.TermMonths = 60

	_, err := f.loans.Apply(context.Background(), req)
	assert.NoError(t, err)
}

func TestApply_ActiveLoanExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.loans.Apply(ctx, application("ACC-1"))
	require.NoError(t, err)

	_, err = f.loans.Apply(ctx, application("ACC-1"))
	assert.ErrorIs(t, err, errs.ErrActiveLoanExists)

	_, err = f.loans.Approve(ctx, first.Number, ApproveRequest{})
	require.NoError(t, err)
	_, err = f.loans.Apply(ctx, application("ACC-1"))
	assert.ErrorIs(t, err, errs.ErrActiveLoanExists, "approved loans still block")

	_, err = f.loans.Disburse(ctx, first.Number)
	require.NoError(t, err)
	_, err = f.loans.Apply(ctx, application("ACC-1"))
	assert.NoError(t, err, "a disbursed loan no longer blocks")

	_, err = f.loans.Apply(ctx, application("ACC-2"))
	assert.NoError(t, err, "other customers are independent")
}

func TestApply_ConcurrentSameCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.loans.Apply(ctx, application("ACC-1"))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, errs.ErrActiveLoanExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	applied, err := f.loans.Apply(ctx, application("ACC-1"))
	require.NoError(t, err)

	amount := dec("1200")
	l, err := f.loans.Approve(ctx, applied.Number, ApproveRequest{Amount: &amount, Approver: "officer-7"})
	require.NoError(t, err)

	assert.Equal(t, model.LoanApproved, l.Status)
	assert.Equal(t, "officer-7", l.ApprovedBy)
	require.NotNil(t, l.ApprovedAt)
	assert.True(t, l.ApprovedAmount.Equal(amount))
	assert.True(t, l.MonthlyPayment.Equal(dec("106.62")))
	assert.True(t, l.Quote.MonthlyPayment.Equal(dec("88.85")), "the application quote is kept")
	assert.Equal(t, 1, f.metrics.Transitions("pending", "approved"))
}

func TestApprove_DefaultsToRequestedAmountAndSystem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	applied, err := f.loans.Apply(ctx, application("ACC-1"))
	require.NoError(t, err)

	l, err := f.loans.Approve(ctx, applied.Number, ApproveRequest{})
	require.NoError(t, err)
	assert.Equal(t, DefaultApprover, l.ApprovedBy)
	assert.True(t, l.ApprovedAmount.Equal(dec("1000")))
	assert.True(t, l.TotalAmount.Equal(l.Quote.TotalAmount))
}

func TestApprove_AmountOutOfBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	applied, err := f.loans.Apply(ctx, application("ACC-1"))
	require.NoError(t, err)

	amount := dec("50")
	_, err = f.loans.Approve(ctx, applied.Number, ApproveRequest{Amount: &amount})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Equal(t, "approved_amount", errs.FieldOf(err))
}

func TestInvalidLoanState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.loans.Apply(ctx, application("ACC-1"))
	require.NoError(t, err)
	_, err = f.loans.Disburse(ctx, pending.Number)
	assert.ErrorIs(t, err, errs.ErrInvalidLoanState, "pending loans cannot be disbursed")
	_, err = f.loans.RetryDisbursement(ctx, pending.Number)
	assert.ErrorIs(t, err, errs.ErrInvalidLoanState)

	_, err = f.loans.Approve(ctx, pending.Number, ApproveRequest{})
	require.NoError(t, err)
	_, err = f.loans.Approve(ctx, pending.Number, ApproveRequest{})
	assert.ErrorIs(t, err, errs.ErrInvalidLoanState, "approving twice")
	_, err = f.loans.Reject(ctx, pending.Number, "late")
	assert.ErrorIs(t, err, errs.ErrInvalidLoanState, "approved loans cannot be rejected")

	other, err := f.loans.Apply(ctx, application("ACC-2"))
	require.NoError(t, err)
	_, err = f.loans.Reject(ctx, other.Number, "insufficient history")
	require.NoError(t, err)
	for name, op := range map[string]func() error{
		"approve":  func() error { _, err := f.loans.Approve(ctx, other.Number, ApproveRequest{}); return err },
		"reject":   func() error { _, err := f.loans.Reject(ctx, other.Number, "again"); return err },
		"disburse": func() error { _, err := f.loans.Disburse(ctx, other.Number); return err },
	} {
		assert.ErrorIs(t, op(), errs.ErrInvalidLoanState, "%s after reject", name)
	}
	assert.Equal(t, 2, f.metrics.LoanOperations("approve", "invalid_loan_state"))
	assert.Equal(t, 2, f.metrics.LoanOperations("reject", "invalid_loan_state"))
}

func TestLoanNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.loans.Get(ctx, "LN-20261018-00000000")
	assert.ErrorIs(t, err, errs.ErrLoanNotFound)
	_, err = f.loans.Approve(ctx, "LN-20261018-00000000", ApproveRequest{})
	assert.ErrorIs(t, err, errs.ErrLoanNotFound)
	_, err = f.loans.Reject(ctx, "LN-20261018-00000000", "no")
	assert.ErrorIs(t, err, errs.ErrLoanNotFound)
	_, err = f.loans.Disburse(ctx, "LN-20261018-00000000")
	assert.ErrorIs(t, err, errs.ErrLoanNotFound)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	applied, err := f.loans.Apply(ctx, application("ACC-1"))
	require.NoError(t, err)

	_, err = f.loans.Reject(ctx, applied.Number, " ")
	assert.ErrorIs(t, err, errs.ErrValidation)

	l, err := f.loans.Reject(ctx, applied.Number, "no repayment history")
	require.NoError(t, err)
	assert.Equal(t, model.LoanRejected, l.Status)
	assert.Equal(t, "no repayment history", l.RejectionReason)
	require.NotNil(t, l.RejectedAt)

	_, err = f.loans.Apply(ctx, application("ACC-1"))
	assert.NoError(t, err, "a rejected loan no longer blocks")
}

func TestDisburse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	applied, err := f.loans.Apply(ctx, application("ACC-1"))
	require.NoError(t, err)
	amount := dec("800")
	_, err = f.loans.Approve(ctx, applied.Number, ApproveRequest{Amount: &amount})
	require.NoError(t, err)

	l, err := f.loans.Disburse(ctx, applied.Number)
	require.NoError(t, err)
	assert.Equal(t, model.LoanDisbursed, l.Status)
	require.NotNil(t, l.DisbursedAt)
	require.NotEmpty(t, l.DisbursementTxn)
	assert.True(t, f.balance(t, "ACC-1").Equal(dec("800")))

	credit, err := f.txns.Get(ctx, l.DisbursementTxn)
	require.NoError(t, err)
	assert.Equal(t, applied.Number, credit.LoanNumber)

	stored, err := f.loans.Get(ctx, applied.Number)
	require.NoError(t, err)
	assert.Equal(t, l.DisbursementTxn, stored.DisbursementTxn)

	_, err = f.loans.Disburse(ctx, applied.Number)
	assert.ErrorIs(t, err, errs.ErrInvalidLoanState)

	again, err := f.loans.RetryDisbursement(ctx, applied.Number)
	require.NoError(t, err)
	assert.Equal(t, l.DisbursementTxn, again.DisbursementTxn)
	assert.True(t, f.balance(t, "ACC-1").Equal(dec("800")), "credited exactly once")

	assert.Equal(t, []string{notify.LoanApplied, notify.LoanApproved, notify.LoanDisbursed}, f.events.Types())
}

func TestDisburse_CreditFailureThenRetry(t *testing.T) {
	flaky := &flakyDisburser{fails: 1}
	f := newFixture(t, func(p *Params) {
		flaky.next = p.Disburser
		p.Disburser = flaky
	})
	ctx := context.Background()
	applied, err := f.loans.Apply(ctx, application("ACC-1"))
	require.NoError(t, err)
	_, err = f.loans.Approve(ctx, applied.Number, ApproveRequest{})
	require.NoError(t, err)

	l, err := f.loans.Disburse(ctx, applied.Number)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPersistence)
	require.NotNil(t, l)
	assert.Equal(t, model.LoanDisbursed, l.Status, "the state change is committed first")
	assert.Empty(t, l.DisbursementTxn)
	assert.True(t, f.balance(t, "ACC-1").IsZero())

	l, err = f.loans.RetryDisbursement(ctx, applied.Number)
	require.NoError(t, err)
	assert.NotEmpty(t, l.DisbursementTxn)
	assert.True(t, f.balance(t, "ACC-1").Equal(dec("1000")))
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.loans.Apply(ctx, application("ACC-1"))
	require.NoError(t, err)
	_, err = f.loans.Reject(ctx, a.Number, "incomplete")
	require.NoError(t, err)
	b, err := f.loans.Apply(ctx, application("ACC-1"))
	require.NoError(t, err)
	c, err := f.loans.Apply(ctx, application("ACC-2"))
	require.NoError(t, err)
	_, err = f.loans.Approve(ctx, c.Number, ApproveRequest{})
	require.NoError(t, err)

	mine, err := f.loans.ListByCustomer(ctx, "CUST-ACC-1", 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, b.Number, mine[0].Number, "newest first")

	pending, err := f.loans.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.Number, pending[0].Number)

	st, err := f.loans.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Count)
	assert.True(t, st.Approved.Equal(dec("1000")))
	assert.True(t, st.Disbursed.IsZero())
	assert.Len(t, st.ByStatus, 3)
}
