// Package memory is an in-memory metrics.Collector for tests.
package memory

import (
	"sync"
	"time"

	"github.com/mims-dev/mims/internal/metrics"
)

// Collector counts every recorded event by label set.
type Collector struct {
	mu sync.RWMutex

	transactions  map[[2]string]int
	reversals     map[string]int
	retries       map[string]int
	loanOps       map[[2]string]int
	transitions   map[[2]string]int
	notifications map[[2]string]int
	dropped       int
	circuits      map[string]metrics.CircuitState
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		transactions:  make(map[[2]string]int),
		reversals:     make(map[string]int),
		retries:       make(map[string]int),
		loanOps:       make(map[[2]string]int),
		transitions:   make(map[[2]string]int),
		notifications: make(map[[2]string]int),
		circuits:      make(map[string]metrics.CircuitState),
	}
}

func (c *Collector) RecordTransaction(kind, outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactions[[2]string{kind, outcome}]++
}

func (c *Collector) RecordReversal(outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reversals[outcome]++
}

func (c *Collector) RecordIdentifierRetry(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries[prefix]++
}

func (c *Collector) RecordLoanOperation(op, outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loanOps[[2]string{op, outcome}]++
}

func (c *Collector) RecordLoanTransition(from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions[[2]string{from, to}]++
}

func (c *Collector) RecordNotification(sink, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications[[2]string{sink, outcome}]++
}

func (c *Collector) RecordNotificationDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
}

func (c *Collector) RecordCircuitState(name string, state metrics.CircuitState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.circuits[name] = state
}

// Transactions returns how many transactions of kind ended with outcome.
func (c *Collector) Transactions(kind, outcome string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transactions[[2]string{kind, outcome}]
}

// Reversals returns how many reversals ended with outcome.
func (c *Collector) Reversals(outcome string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reversals[outcome]
}

// IdentifierRetries returns the collision count for prefix.
func (c *Collector) IdentifierRetries(prefix string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retries[prefix]
}

// LoanOperations returns how many loan operations op ended with outcome.
func (c *Collector) LoanOperations(op, outcome string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loanOps[[2]string{op, outcome}]
}

// Transitions returns how many loans moved from one status to another.
func (c *Collector) Transitions(from, to string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transitions[[2]string{from, to}]
}

// Notifications returns deliveries through sink with outcome.
func (c *Collector) Notifications(sink, outcome string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notifications[[2]string{sink, outcome}]
}

// Dropped returns the number of events dropped on a full queue.
func (c *Collector) Dropped() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped
}

// Circuit returns the last recorded state of the named breaker.
func (c *Collector) Circuit(name string) metrics.CircuitState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.circuits[name]
}
