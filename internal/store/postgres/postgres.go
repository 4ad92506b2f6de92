// Package postgres implements store.Store on PostgreSQL through pgx.
//
// A unit of work is one READ COMMITTED transaction. Accounts and loans are
// serialized with SELECT ... FOR UPDATE, customers with transaction-scoped
// advisory locks, and number reservations are rows in reserved_numbers.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/store"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Store is a pgx-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// WithinUnit implements store.Store. Commit and rollback are not cancelled
// with ctx so a unit never ends half-applied on the client side.
func (s *Store) WithinUnit(ctx context.Context, fn func(ctx context.Context, u store.Unit) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	detached := context.WithoutCancel(ctx)
	defer func() { _ = tx.Rollback(detached) }()

	if err := fn(ctx, &unit{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(detached); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type unit struct {
	tx pgx.Tx
}

// num encodes money as text; NUMERIC columns parse it exactly.
func num(d decimal.Decimal) string {
	return d.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (u *unit) Reserve(ctx context.Context, number string) error {
	tag, err := u.tx.Exec(ctx,
		`INSERT INTO reserved_numbers (number) VALUES ($1) ON CONFLICT DO NOTHING`, number)
	if err != nil {
		return fmt.Errorf("reserving %s: %w", number, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrDuplicateNumber
	}
	return nil
}

// Accounts

const accountColumns = `id, number, customer_ref, type, balance, status, opened_at, closed_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Number, &a.CustomerRef, &a.Type, &a.Balance, &a.Status,
		&a.OpenedAt, &a.ClosedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (u *unit) LockAccounts(ctx context.Context, numbers ...string) ([]*model.Account, error) {
	rows, err := u.tx.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE number = ANY($1) ORDER BY number FOR UPDATE`,
		numbers)
	if err != nil {
		return nil, fmt.Errorf("locking accounts: %w", err)
	}
	defer rows.Close()

	found := make(map[string]*model.Account, len(numbers))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		found[a.Number] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("locking accounts: %w", err)
	}

	out := make([]*model.Account, len(numbers))
	for i, n := range numbers {
		a, ok := found[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", errs.ErrAccountNotFound, n)
		}
		out[i] = a
	}
	return out, nil
}

func (u *unit) GetAccount(ctx context.Context, number string) (*model.Account, error) {
	a, err := scanAccount(u.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE number = $1`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errs.ErrAccountNotFound, number)
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", number, err)
	}
	return a, nil
}

func (u *unit) InsertAccount(ctx context.Context, a *model.Account) error {
	_, err := u.tx.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Number, a.CustomerRef, a.Type, num(a.Balance), a.Status, a.OpenedAt, a.ClosedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("account %s: %w", a.Number, errs.ErrDuplicateNumber)
	}
	if err != nil {
		return fmt.Errorf("inserting account %s: %w", a.Number, err)
	}
	return nil
}

func (u *unit) SaveAccount(ctx context.Context, a *model.Account) error {
	tag, err := u.tx.Exec(ctx,
		`UPDATE accounts SET balance = $2, status = $3, closed_at = $4, updated_at = $5 WHERE number = $1`,
		a.Number, num(a.Balance), a.Status, a.ClosedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving account %s: %w", a.Number, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", errs.ErrAccountNotFound, a.Number)
	}
	return nil
}

func (u *unit) ListAccounts(ctx context.Context, customerRef string) ([]model.Account, error) {
	rows, err := u.tx.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE ($1 = '' OR customer_ref = $1) ORDER BY number`,
		customerRef)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Transactions

const txnColumns = `id, number, account_number, customer_ref, amount, kind, direction, status,
	description, reference_number, counterpart_number, loan_number, created_at, reversed_at`

func scanTxn(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	err := row.Scan(&t.ID, &t.Number, &t.AccountNumber, &t.CustomerRef, &t.Amount, &t.Kind,
		&t.Direction, &t.Status, &t.Description, &t.ReferenceNumber, &t.CounterpartNumber,
		&t.LoanNumber, &t.CreatedAt, &t.ReversedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (u *unit) queryTxns(ctx context.Context, sql string, args ...any) ([]model.Transaction, error) {
	rows, err := u.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (u *unit) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	_, err := u.tx.Exec(ctx,
		`INSERT INTO transactions (`+txnColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.Number, t.AccountNumber, t.CustomerRef, num(t.Amount), t.Kind, t.Direction, t.Status,
		t.Description, t.ReferenceNumber, t.CounterpartNumber, t.LoanNumber, t.CreatedAt, t.ReversedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s: %w", t.Number, errs.ErrDuplicateNumber)
	}
	if err != nil {
		return fmt.Errorf("inserting transaction %s: %w", t.Number, err)
	}
	return nil
}

func (u *unit) getTxn(ctx context.Context, notFound, where string, arg string) (*model.Transaction, error) {
	t, err := scanTxn(u.tx.QueryRow(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE `+where+` ORDER BY seq LIMIT 1`, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errs.ErrTransactionNotFound, notFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading transaction: %w", err)
	}
	return t, nil
}

func (u *unit) GetTransaction(ctx context.Context, number string) (*model.Transaction, error) {
	return u.getTxn(ctx, number, `number = $1`, number)
}

func (u *unit) UpdateTransaction(ctx context.Context, number string, upd store.TransactionUpdate) error {
	var reversedAt *time.Time
	if !upd.ReversedAt.IsZero() {
		reversedAt = &upd.ReversedAt
	}
	tag, err := u.tx.Exec(ctx,
		`UPDATE transactions SET status = $2, reversed_at = COALESCE($3, reversed_at) WHERE number = $1`,
		number, upd.Status, reversedAt)
	if err != nil {
		return fmt.Errorf("updating transaction %s: %w", number, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", errs.ErrTransactionNotFound, number)
	}
	return nil
}

func (u *unit) ReversalOf(ctx context.Context, number string) (*model.Transaction, error) {
	return u.getTxn(ctx, "no reversal of "+number, `reference_number = $1`, number)
}

func (u *unit) DisbursementCredit(ctx context.Context, loanNumber string) (*model.Transaction, error) {
	return u.getTxn(ctx, "no credit for loan "+loanNumber,
		`loan_number = $1 AND reference_number = ''`, loanNumber)
}

func (u *unit) SumOutgoing(ctx context.Context, accountNumber string, from, to time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := u.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions
		 WHERE account_number = $1
		   AND status = 'completed'
		   AND direction = 'out'
		   AND kind IN ('withdrawal', 'transfer')
		   AND reference_number = ''
		   AND created_at >= $2 AND created_at < $3`,
		accountNumber, from, to).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("summing outgoing for %s: %w", accountNumber, err)
	}
	return sum, nil
}

func (u *unit) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]model.Transaction, error) {
	var conds []string
	var args []any
	if f.AccountNumber != "" {
		args = append(args, f.AccountNumber)
		conds = append(conds, fmt.Sprintf("account_number = $%d", len(args)))
	}
	if f.CustomerRef != "" {
		args = append(args, f.CustomerRef)
		conds = append(conds, fmt.Sprintf("customer_ref = $%d", len(args)))
	}
	sql := `SELECT ` + txnColumns + ` FROM transactions`
	if len(conds) > 0 {
		sql += ` WHERE ` + strings.Join(conds, " AND ")
	}
	sql += ` ORDER BY seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	out, err := u.queryTxns(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return out, nil
}

func (u *unit) TransactionTotals(ctx context.Context) ([]store.TransactionTotal, error) {
	rows, err := u.tx.Query(ctx,
		`SELECT kind, status, COUNT(*), COALESCE(SUM(amount), 0)
		 FROM transactions GROUP BY kind, status ORDER BY kind, status`)
	if err != nil {
		return nil, fmt.Errorf("totalling transactions: %w", err)
	}
	defer rows.Close()

	var out []store.TransactionTotal
	for rows.Next() {
		var tt store.TransactionTotal
		if err := rows.Scan(&tt.Kind, &tt.Status, &tt.Count, &tt.Amount); err != nil {
			return nil, fmt.Errorf("scanning totals: %w", err)
		}
		out = append(out, tt)
	}
	return out, rows.Err()
}

// Loans

const loanColumns = `id, number, customer_ref, account_number, purpose, collateral,
	requested_amount, interest_rate, term_months, status,
	quote_principal, quote_monthly_payment, quote_total_interest, quote_total_amount,
	approved_amount, monthly_payment, total_interest, total_amount,
	rejection_reason, approved_by, disbursement_txn,
	applied_at, approved_at, rejected_at, disbursed_at, updated_at`

func loanArgs(l *model.Loan) []any {
	return []any{
		l.ID, l.Number, l.CustomerRef, l.AccountNumber, l.Purpose, l.Collateral,
		num(l.RequestedAmount), num(l.InterestRate), l.TermMonths, l.Status,
		num(l.Quote.Principal), num(l.Quote.MonthlyPayment), num(l.Quote.TotalInterest), num(l.Quote.TotalAmount),
		num(l.ApprovedAmount), num(l.MonthlyPayment), num(l.TotalInterest), num(l.TotalAmount),
		l.RejectionReason, l.ApprovedBy, l.DisbursementTxn,
		l.AppliedAt, l.ApprovedAt, l.RejectedAt, l.DisbursedAt, l.UpdatedAt,
	}
}

func scanLoan(row pgx.Row) (*model.Loan, error) {
	var l model.Loan
	err := row.Scan(&l.ID, &l.Number, &l.CustomerRef, &l.AccountNumber, &l.Purpose, &l.Collateral,
		&l.RequestedAmount, &l.InterestRate, &l.TermMonths, &l.Status,
		&l.Quote.Principal, &l.Quote.MonthlyPayment, &l.Quote.TotalInterest, &l.Quote.TotalAmount,
		&l.ApprovedAmount, &l.MonthlyPayment, &l.TotalInterest, &l.TotalAmount,
		&l.RejectionReason, &l.ApprovedBy, &l.DisbursementTxn,
		&l.AppliedAt, &l.ApprovedAt, &l.RejectedAt, &l.DisbursedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (u *unit) LockCustomer(ctx context.Context, customerRef string) error {
	if _, err := u.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "customer:"+customerRef); err != nil {
		return fmt.Errorf("locking customer %s: %w", customerRef, err)
	}
	return nil
}

func (u *unit) InsertLoan(ctx context.Context, l *model.Loan) error {
	_, err := u.tx.Exec(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`,
		loanArgs(l)...)
	if isUniqueViolation(err) {
		return fmt.Errorf("loan %s: %w", l.Number, errs.ErrDuplicateNumber)
	}
	if err != nil {
		return fmt.Errorf("inserting loan %s: %w", l.Number, err)
	}
	return nil
}

func (u *unit) SaveLoan(ctx context.Context, l *model.Loan) error {
	tag, err := u.tx.Exec(ctx,
		`UPDATE loans SET
			status = $2, approved_amount = $3, monthly_payment = $4, total_interest = $5,
			total_amount = $6, rejection_reason = $7, approved_by = $8, disbursement_txn = $9,
			approved_at = $10, rejected_at = $11, disbursed_at = $12, updated_at = $13
		 WHERE number = $1`,
		l.Number, l.Status, num(l.ApprovedAmount), num(l.MonthlyPayment), num(l.TotalInterest),
		num(l.TotalAmount), l.RejectionReason, l.ApprovedBy, l.DisbursementTxn,
		l.ApprovedAt, l.RejectedAt, l.DisbursedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving loan %s: %w", l.Number, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", errs.ErrLoanNotFound, l.Number)
	}
	return nil
}

func (u *unit) getLoan(ctx context.Context, number, suffix string) (*model.Loan, error) {
	l, err := scanLoan(u.tx.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE number = $1`+suffix, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errs.ErrLoanNotFound, number)
	}
	if err != nil {
		return nil, fmt.Errorf("loading loan %s: %w", number, err)
	}
	return l, nil
}

func (u *unit) GetLoan(ctx context.Context, number string) (*model.Loan, error) {
	return u.getLoan(ctx, number, "")
}

func (u *unit) LockLoan(ctx context.Context, number string) (*model.Loan, error) {
	return u.getLoan(ctx, number, " FOR UPDATE")
}

func (u *unit) ListLoans(ctx context.Context, f store.LoanFilter) ([]model.Loan, error) {
	var conds []string
	var args []any
	if f.CustomerRef != "" {
		args = append(args, f.CustomerRef)
		conds = append(conds, fmt.Sprintf("customer_ref = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	sql := `SELECT ` + loanColumns + ` FROM loans`
	if len(conds) > 0 {
		sql += ` WHERE ` + strings.Join(conds, " AND ")
	}
	sql += ` ORDER BY seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := u.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing loans: %w", err)
	}
	defer rows.Close()

	var out []model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning loan: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (u *unit) LoanTotals(ctx context.Context) ([]store.LoanTotal, error) {
	rows, err := u.tx.Query(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(requested_amount), 0), COALESCE(SUM(approved_amount), 0)
		 FROM loans GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("totalling loans: %w", err)
	}
	defer rows.Close()

	var out []store.LoanTotal
	for rows.Next() {
		var lt store.LoanTotal
		if err := rows.Scan(&lt.Status, &lt.Count, &lt.Requested, &lt.Approved); err != nil {
			return nil, fmt.Errorf("scanning totals: %w", err)
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}
