// Package prometheus exports engine metrics through client_golang.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mims-dev/mims/internal/metrics"
)

// Collector implements metrics.Collector for Prometheus.
type Collector struct {
	transactions       *prometheus.CounterVec
	transactionLatency *prometheus.HistogramVec
	reversals          *prometheus.CounterVec
	reversalLatency    prometheus.Histogram
	identifierRetries  *prometheus.CounterVec

	loanOps         *prometheus.CounterVec
	loanLatency     *prometheus.HistogramVec
	loanTransitions *prometheus.CounterVec

	notifications *prometheus.CounterVec
	dropped       prometheus.Counter
	circuitState  *prometheus.GaugeVec
	circuitOpens  *prometheus.CounterVec
}

var latencyBuckets = prometheus.ExponentialBuckets(0.0005, 2, 14) // 0.5ms to ~4s

// NewCollector creates a Prometheus collector with metric names under namespace.
func NewCollector(namespace string) *Collector {
	return &Collector{
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Transactions processed by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		transactionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_duration_seconds",
				Help:      "Transaction processing latency",
				Buckets:   latencyBuckets,
			},
			[]string{"kind"},
		),
		reversals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reversals_total",
				Help:      "Reversal attempts by outcome",
			},
			[]string{"outcome"},
		),
		reversalLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reversal_duration_seconds",
				Help:      "Reversal latency",
				Buckets:   latencyBuckets,
			},
		),
		identifierRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identifier_collisions_total",
				Help:      "Identifier candidates rejected as duplicates, by prefix",
			},
			[]string{"prefix"},
		),
		loanOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loan_operations_total",
				Help:      "Loan operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		loanLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "loan_operation_duration_seconds",
				Help:      "Loan operation latency",
				Buckets:   latencyBuckets,
			},
			[]string{"operation"},
		),
		loanTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loan_transitions_total",
				Help:      "Loan status transitions",
			},
			[]string{"from", "to"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification deliveries by sink and outcome",
			},
			[]string{"sink", "outcome"},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_dropped_total",
				Help:      "Notifications dropped because the queue was full",
			},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Times a circuit breaker opened",
			},
			[]string{"name"},
		),
	}
}

// Register registers all metrics with the given registry.
func (c *Collector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.transactions,
		c.transactionLatency,
		c.reversals,
		c.reversalLatency,
		c.identifierRetries,
		c.loanOps,
		c.loanLatency,
		c.loanTransitions,
		c.notifications,
		c.dropped,
		c.circuitState,
		c.circuitOpens,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) RecordTransaction(kind, outcome string, duration time.Duration) {
	c.transactions.WithLabelValues(kind, outcome).Inc()
	c.transactionLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (c *Collector) RecordReversal(outcome string, duration time.Duration) {
	c.reversals.WithLabelValues(outcome).Inc()
	c.reversalLatency.Observe(duration.Seconds())
}

func (c *Collector) RecordIdentifierRetry(prefix string) {
	c.identifierRetries.WithLabelValues(prefix).Inc()
}

func (c *Collector) RecordLoanOperation(op, outcome string, duration time.Duration) {
	c.loanOps.WithLabelValues(op, outcome).Inc()
	c.loanLatency.WithLabelValues(op).Observe(duration.Seconds())
}

func (c *Collector) RecordLoanTransition(from, to string) {
	c.loanTransitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) RecordNotification(sink, outcome string) {
	c.notifications.WithLabelValues(sink, outcome).Inc()
}

func (c *Collector) RecordNotificationDropped() {
	c.dropped.Inc()
}

func (c *Collector) RecordCircuitState(name string, state metrics.CircuitState) {
	c.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		c.circuitOpens.WithLabelValues(name).Inc()
	}
}
