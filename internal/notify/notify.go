// Package notify delivers engine events to the outside world after the unit
// of work that produced them has committed. Delivery never affects the
// outcome of the operation that emitted the event.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Event types.
const (
	TransactionCompleted = "transaction.completed"
	TransactionReversed  = "transaction.reversed"
	LoanApplied          = "loan.applied"
	LoanApproved         = "loan.approved"
	LoanRejected         = "loan.rejected"
	LoanDisbursed        = "loan.disbursed"
)

// Event is a committed state change.
type Event struct {
	Type     string          `json:"type"`
	At       time.Time       `json:"at"`
	Subject  string          `json:"subject"` // transaction or loan number
	Account  string          `json:"account,omitempty"`
	Customer string          `json:"customer,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Details  string          `json:"details,omitempty"`
}

// Notifier accepts events. Implementations must not block the caller for long
// and must not report delivery failures back to it.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Recorder keeps events in memory, in arrival order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
