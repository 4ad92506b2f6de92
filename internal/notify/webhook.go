package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/mims-dev/mims/internal/logging"
	"github.com/mims-dev/mims/internal/metrics"
)

// ErrCircuitOpen is returned while the webhook breaker rejects calls.
var ErrCircuitOpen = errors.New("webhook circuit breaker is open")

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration // per request (default: 5s)
	Client  *http.Client  // optional; built from Timeout when nil

	// Breaker settings. The breaker opens after FailureThreshold consecutive
	// failures (default: 5) and probes again after OpenTimeout (default: 30s).
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// WebhookSink POSTs each event as JSON behind a circuit breaker.
type WebhookSink struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

// NewWebhookSink creates a WebhookSink.
func NewWebhookSink(cfg WebhookConfig, m metrics.Collector, log *logging.Logger) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if m == nil {
		m = metrics.NoOpCollector{}
	}
	if log == nil {
		log = logging.NewNop()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	threshold := cfg.FailureThreshold
	settings := gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			m.RecordCircuitState(name, state)
		},
	}

	return &WebhookSink{
		url:    cfg.URL,
		client: client,
		cb:     gobreaker.NewCircuitBreaker(settings),
	}
}

// Name implements Sink.
func (w *WebhookSink) Name() string { return "webhook" }

// Deliver implements Sink.
func (w *WebhookSink) Deliver(ctx context.Context, e Event) error {
	_, err := w.cb.Execute(func() (interface{}, error) {
		return nil, w.post(ctx, e)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (w *WebhookSink) post(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mims-webhook/1.0")
	req.Header.Set("X-Mims-Event", e.Type)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s: %w", e.Type, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
