// Package memory is an in-process implementation of store.Store.
//
// Serialization uses one mutex per lock key held for the life of a unit.
// Writes are staged on the unit and applied to the committed maps in a single
// critical section on commit, so no partial state is ever observable.
// Reservations behave like a unique index: they are visible to other units as
// soon as they are taken and are released if the reserving unit rolls back.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/store"
)

// Store keeps accounts, transactions and loans in memory.
type Store struct {
	mu        sync.RWMutex // guards everything below
	accounts  map[string]model.Account
	txns      map[string]model.Transaction
	txnOrder  []string
	loans     map[string]model.Loan
	loanOrder []string
	reserved  map[string]bool

	locks keyLocks
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts: make(map[string]model.Account),
		txns:     make(map[string]model.Transaction),
		loans:    make(map[string]model.Loan),
		reserved: make(map[string]bool),
		locks:    keyLocks{m: make(map[string]*sync.Mutex)},
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// WithinUnit implements store.Store.
func (s *Store) WithinUnit(ctx context.Context, fn func(ctx context.Context, u store.Unit) error) error {
	u := newUnit(s)
	defer u.release()
	defer func() {
		if r := recover(); r != nil {
			u.rollback()
			panic(r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, u); err != nil {
		u.rollback()
		return err
	}
	u.commit()
	return nil
}

// keyLocks hands out one mutex per key.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	return l
}

type unit struct {
	s    *Store
	held map[string]*sync.Mutex

	accounts map[string]model.Account
	txns     map[string]model.Transaction
	newTxns  []string
	loans    map[string]model.Loan
	newLoans []string
	reserved []string
}

func newUnit(s *Store) *unit {
	return &unit{
		s:        s,
		held:     make(map[string]*sync.Mutex),
		accounts: make(map[string]model.Account),
		txns:     make(map[string]model.Transaction),
		loans:    make(map[string]model.Loan),
	}
}

// lock acquires the given keys in sorted order, skipping keys already held.
func (u *unit) lock(keys ...string) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, k := range sorted {
		if _, ok := u.held[k]; ok {
			continue
		}
		l := u.s.locks.get(k)
		l.Lock()
		u.held[k] = l
	}
}

func (u *unit) release() {
	for k, l := range u.held {
		l.Unlock()
		delete(u.held, k)
	}
}

func (u *unit) commit() {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	for n, a := range u.accounts {
		u.s.accounts[n] = a
	}
	for n, t := range u.txns {
		u.s.txns[n] = t
	}
	u.s.txnOrder = append(u.s.txnOrder, u.newTxns...)
	for n, l := range u.loans {
		u.s.loans[n] = l
	}
	u.s.loanOrder = append(u.s.loanOrder, u.newLoans...)
}

func (u *unit) rollback() {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, n := range u.reserved {
		delete(u.s.reserved, n)
	}
	u.reserved = nil
}

func (u *unit) Reserve(_ context.Context, number string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if u.s.reserved[number] {
		return errs.ErrDuplicateNumber
	}
	u.s.reserved[number] = true
	u.reserved = append(u.reserved, number)
	return nil
}

// Accounts

func (u *unit) account(number string) (model.Account, bool) {
	if a, ok := u.accounts[number]; ok {
		return a, true
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	a, ok := u.s.accounts[number]
	return a, ok
}

func (u *unit) LockAccounts(ctx context.Context, numbers ...string) ([]*model.Account, error) {
	keys := make([]string, len(numbers))
	for i, n := range numbers {
		keys[i] = "account:" + n
	}
	u.lock(keys...)

	out := make([]*model.Account, len(numbers))
	for i, n := range numbers {
		a, err := u.GetAccount(ctx, n)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

func (u *unit) GetAccount(_ context.Context, number string) (*model.Account, error) {
	a, ok := u.account(number)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrAccountNotFound, number)
	}
	return &a, nil
}

func (u *unit) InsertAccount(_ context.Context, a *model.Account) error {
	u.lock("account:" + a.Number)
	if _, ok := u.account(a.Number); ok {
		return fmt.Errorf("account %s: %w", a.Number, errs.ErrDuplicateNumber)
	}
	u.accounts[a.Number] = *a
	return nil
}

func (u *unit) SaveAccount(_ context.Context, a *model.Account) error {
	if _, ok := u.account(a.Number); !ok {
		return fmt.Errorf("%w: %s", errs.ErrAccountNotFound, a.Number)
	}
	u.accounts[a.Number] = *a
	return nil
}

func (u *unit) ListAccounts(_ context.Context, customerRef string) ([]model.Account, error) {
	merged := make(map[string]model.Account)
	u.s.mu.RLock()
	for n, a := range u.s.accounts {
		merged[n] = a
	}
	u.s.mu.RUnlock()
	for n, a := range u.accounts {
		merged[n] = a
	}

	var out []model.Account
	for _, a := range merged {
		if customerRef == "" || a.CustomerRef == customerRef {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// Transactions

// allTxns returns committed and staged transactions, oldest first.
func (u *unit) allTxns() []model.Transaction {
	u.s.mu.RLock()
	out := make([]model.Transaction, 0, len(u.s.txnOrder)+len(u.newTxns))
	for _, n := range u.s.txnOrder {
		t := u.s.txns[n]
		if staged, ok := u.txns[n]; ok {
			t = staged
		}
		out = append(out, t)
	}
	u.s.mu.RUnlock()
	for _, n := range u.newTxns {
		out = append(out, u.txns[n])
	}
	return out
}

func (u *unit) txn(number string) (model.Transaction, bool) {
	if t, ok := u.txns[number]; ok {
		return t, true
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	t, ok := u.s.txns[number]
	return t, ok
}

func (u *unit) InsertTransaction(_ context.Context, t *model.Transaction) error {
	if _, ok := u.txn(t.Number); ok {
		return fmt.Errorf("transaction %s: %w", t.Number, errs.ErrDuplicateNumber)
	}
	u.txns[t.Number] = *t
	u.newTxns = append(u.newTxns, t.Number)
	return nil
}

func (u *unit) GetTransaction(_ context.Context, number string) (*model.Transaction, error) {
	t, ok := u.txn(number)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrTransactionNotFound, number)
	}
	return &t, nil
}

func (u *unit) UpdateTransaction(_ context.Context, number string, upd store.TransactionUpdate) error {
	t, ok := u.txn(number)
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrTransactionNotFound, number)
	}
	t.Status = upd.Status
	if !upd.ReversedAt.IsZero() {
		at := upd.ReversedAt
		t.ReversedAt = &at
	}
	u.txns[number] = t
	return nil
}

func (u *unit) findTxn(match func(model.Transaction) bool) (*model.Transaction, bool) {
	for _, t := range u.allTxns() {
		if match(t) {
			return &t, true
		}
	}
	return nil, false
}

func (u *unit) ReversalOf(_ context.Context, number string) (*model.Transaction, error) {
	t, ok := u.findTxn(func(t model.Transaction) bool { return t.ReferenceNumber == number })
	if !ok {
		return nil, fmt.Errorf("%w: no reversal of %s", errs.ErrTransactionNotFound, number)
	}
	return t, nil
}

func (u *unit) DisbursementCredit(_ context.Context, loanNumber string) (*model.Transaction, error) {
	t, ok := u.findTxn(func(t model.Transaction) bool {
		return t.LoanNumber == loanNumber && t.ReferenceNumber == ""
	})
	if !ok {
		return nil, fmt.Errorf("%w: no credit for loan %s", errs.ErrTransactionNotFound, loanNumber)
	}
	return t, nil
}

func (u *unit) SumOutgoing(_ context.Context, accountNumber string, from, to time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range u.allTxns() {
		if t.AccountNumber != accountNumber || t.Status != model.TxnCompleted || t.Direction != model.DirectionOut {
			continue
		}
		if t.Kind != model.KindWithdrawal && t.Kind != model.KindTransfer {
			continue
		}
		if t.ReferenceNumber != "" {
			continue
		}
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		sum = sum.Add(t.Amount)
	}
	return sum, nil
}

func (u *unit) ListTransactions(_ context.Context, f store.TransactionFilter) ([]model.Transaction, error) {
	all := u.allTxns()
	var out []model.Transaction
	for i := len(all) - 1; i >= 0; i-- {
		t := all[i]
		if f.AccountNumber != "" && t.AccountNumber != f.AccountNumber {
			continue
		}
		if f.CustomerRef != "" && t.CustomerRef != f.CustomerRef {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (u *unit) TransactionTotals(_ context.Context) ([]store.TransactionTotal, error) {
	type key struct {
		kind   model.TransactionKind
		status model.TransactionStatus
	}
	totals := make(map[key]*store.TransactionTotal)
	var order []key
	for _, t := range u.allTxns() {
		k := key{t.Kind, t.Status}
		tt, ok := totals[k]
		if !ok {
			tt = &store.TransactionTotal{Kind: t.Kind, Status: t.Status, Amount: decimal.Zero}
			totals[k] = tt
			order = append(order, k)
		}
		tt.Count++
		tt.Amount = tt.Amount.Add(t.Amount)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].kind != order[j].kind {
			return order[i].kind < order[j].kind
		}
		return order[i].status < order[j].status
	})
	out := make([]store.TransactionTotal, 0, len(order))
	for _, k := range order {
		out = append(out, *totals[k])
	}
	return out, nil
}

// Loans

func (u *unit) LockCustomer(_ context.Context, customerRef string) error {
	u.lock("customer:" + customerRef)
	return nil
}

func (u *unit) loan(number string) (model.Loan, bool) {
	if l, ok := u.loans[number]; ok {
		return l, true
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	l, ok := u.s.loans[number]
	return l, ok
}

func (u *unit) InsertLoan(_ context.Context, l *model.Loan) error {
	if _, ok := u.loan(l.Number); ok {
		return fmt.Errorf("loan %s: %w", l.Number, errs.ErrDuplicateNumber)
	}
	u.loans[l.Number] = *l
	u.newLoans = append(u.newLoans, l.Number)
	return nil
}

func (u *unit) SaveLoan(_ context.Context, l *model.Loan) error {
	if _, ok := u.loan(l.Number); !ok {
		return fmt.Errorf("%w: %s", errs.ErrLoanNotFound, l.Number)
	}
	u.loans[l.Number] = *l
	return nil
}

func (u *unit) GetLoan(_ context.Context, number string) (*model.Loan, error) {
	l, ok := u.loan(number)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrLoanNotFound, number)
	}
	return &l, nil
}

func (u *unit) LockLoan(ctx context.Context, number string) (*model.Loan, error) {
	u.lock("loan:" + number)
	return u.GetLoan(ctx, number)
}

// allLoans returns committed and staged loans, oldest first.
func (u *unit) allLoans() []model.Loan {
	u.s.mu.RLock()
	out := make([]model.Loan, 0, len(u.s.loanOrder)+len(u.newLoans))
	for _, n := range u.s.loanOrder {
		l := u.s.loans[n]
		if staged, ok := u.loans[n]; ok {
			l = staged
		}
		out = append(out, l)
	}
	u.s.mu.RUnlock()
	for _, n := range u.newLoans {
		out = append(out, u.loans[n])
	}
	return out
}

func (u *unit) ListLoans(_ context.Context, f store.LoanFilter) ([]model.Loan, error) {
	all := u.allLoans()
	var out []model.Loan
	for i := len(all) - 1; i >= 0; i-- {
		l := all[i]
		if f.CustomerRef != "" && l.CustomerRef != f.CustomerRef {
			continue
		}
		if !f.MatchesStatus(l.Status) {
			continue
		}
		out = append(out, l)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (u *unit) LoanTotals(_ context.Context) ([]store.LoanTotal, error) {
	totals := make(map[model.LoanStatus]*store.LoanTotal)
	for _, l := range u.allLoans() {
		lt, ok := totals[l.Status]
		if !ok {
			lt = &store.LoanTotal{Status: l.Status, Requested: decimal.Zero, Approved: decimal.Zero}
			totals[l.Status] = lt
		}
		lt.Count++
		lt.Requested = lt.Requested.Add(l.RequestedAmount)
		lt.Approved = lt.Approved.Add(l.ApprovedAmount)
	}
	out := make([]store.LoanTotal, 0, len(totals))
	for _, lt := range totals {
		out = append(out, *lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}
