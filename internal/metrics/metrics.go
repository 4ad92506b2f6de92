// Package metrics defines what the engine reports about its operations.
// Implementations can export to any backend; see the prometheus and memory
// subpackages.
package metrics

import (
	"time"

	"github.com/mims-dev/mims/internal/errs"
)

// Collector records engine metrics.
type Collector interface {
	// Money movement
	RecordTransaction(kind, outcome string, duration time.Duration)
	RecordReversal(outcome string, duration time.Duration)
	RecordIdentifierRetry(prefix string)

	// Loans
	RecordLoanOperation(op, outcome string, duration time.Duration)
	RecordLoanTransition(from, to string)

	// Notifications
	RecordNotification(sink, outcome string)
	RecordNotificationDropped()
	RecordCircuitState(name string, state CircuitState)
}

// OutcomeOK labels successful operations.
const OutcomeOK = "ok"

// Outcome returns OutcomeOK for nil and the error kind otherwise.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return errs.Classify(err)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is the default collector when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordTransaction(kind, outcome string, duration time.Duration) {}
func (NoOpCollector) RecordReversal(outcome string, duration time.Duration)          {}
func (NoOpCollector) RecordIdentifierRetry(prefix string)                            {}
func (NoOpCollector) RecordLoanOperation(op, outcome string, duration time.Duration) {}
func (NoOpCollector) RecordLoanTransition(from, to string)                           {}
func (NoOpCollector) RecordNotification(sink, outcome string)                        {}
func (NoOpCollector) RecordNotificationDropped()                                     {}
func (NoOpCollector) RecordCircuitState(name string, state CircuitState)             {}
