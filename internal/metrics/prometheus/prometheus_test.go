package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mims-dev/mims/internal/metrics"
)

var _ metrics.Collector = (*Collector)(nil)

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("mims")
	require.NoError(t, c.Register(reg))
	assert.Error(t, c.Register(reg))
}

func TestRecordTransaction(t *testing.T) {
	c := NewCollector("mims")
	c.RecordTransaction("withdrawal", metrics.OutcomeOK, 3*time.Millisecond)
	c.RecordTransaction("withdrawal", metrics.OutcomeOK, time.Millisecond)
	c.RecordTransaction("withdrawal", "insufficient_funds", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.transactions.WithLabelValues("withdrawal", metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("withdrawal", "insufficient_funds")))
}

func TestRecordCircuitState(t *testing.T) {
	c := NewCollector("mims")
	c.RecordCircuitState("webhook", metrics.CircuitOpen)
	c.RecordCircuitState("webhook", metrics.CircuitHalfOpen)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.circuitState.WithLabelValues("webhook")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.circuitOpens.WithLabelValues("webhook")))
}

func TestRecordLoanAndNotification(t *testing.T) {
	c := NewCollector("mims")
	c.RecordLoanTransition("pending", "approved")
	c.RecordLoanOperation("approve", metrics.OutcomeOK, time.Millisecond)
	c.RecordNotification("webhook", "error")
	c.RecordNotificationDropped()
	c.RecordIdentifierRetry("TXN")
	c.RecordReversal(metrics.OutcomeOK, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.loanTransitions.WithLabelValues("pending", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loanOps.WithLabelValues("approve", metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues("webhook", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.identifierRetries.WithLabelValues("TXN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reversals.WithLabelValues(metrics.OutcomeOK)))
}
