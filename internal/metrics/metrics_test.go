package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mims-dev/mims/internal/errs"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeOK, Outcome(nil))
	assert.Equal(t, "insufficient_funds", Outcome(fmt.Errorf("withdraw: %w", errs.ErrInsufficientFunds)))
	assert.Equal(t, "validation_error", Outcome(errs.Invalid("amount", "must be positive")))
	assert.Equal(t, "persistence_error", Outcome(errors.New("disk on fire")))
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

func TestNoOpCollectorSatisfiesInterface(t *testing.T) {
	var c Collector = NoOpCollector{}
	c.RecordTransaction("deposit", OutcomeOK, 0)
	c.RecordNotificationDropped()
}
