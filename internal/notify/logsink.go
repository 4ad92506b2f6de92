package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/mims-dev/mims/internal/logging"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	log *logging.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *logging.Logger) *LogSink {
	return &LogSink{log: log.Named("events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, e Event) error {
	s.log.Info(e.Type,
		zap.String("subject", e.Subject),
		zap.String("account", e.Account),
		zap.String("customer", e.Customer),
		zap.String("amount", e.Amount.StringFixed(2)),
		zap.Time("at", e.At))
	return nil
}
