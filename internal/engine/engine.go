// Package engine wires the ledger, transaction, reversal and loan services
// over one store. Everything is built once in New and passed explicitly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mims-dev/mims/internal/config"
	"github.com/mims-dev/mims/internal/id"
	"github.com/mims-dev/mims/internal/ledger"
	"github.com/mims-dev/mims/internal/loan"
	"github.com/mims-dev/mims/internal/logging"
	"github.com/mims-dev/mims/internal/metrics"
	"github.com/mims-dev/mims/internal/notify"
	"github.com/mims-dev/mims/internal/reversal"
	"github.com/mims-dev/mims/internal/store"
	"github.com/mims-dev/mims/internal/store/memory"
	"github.com/mims-dev/mims/internal/store/postgres"
	"github.com/mims-dev/mims/internal/txn"
)

// Options configures New. Only Config is required.
type Options struct {
	Config *config.Config
	// Store overrides the store selected by Config.Database.URL.
	Store   store.Store
	Metrics metrics.Collector
	Logger  *logging.Logger
	Now     func() time.Time
	// HTTPClient is used by the webhook sink.
	HTTPClient *http.Client
}

// Engine holds the wired services.
type Engine struct {
	Store        store.Store
	Ledger       *ledger.Service
	Transactions *txn.Service
	Reversals    *reversal.Service
	Loans        *loan.Service
	Dispatcher   *notify.Dispatcher
	Metrics      metrics.Collector
	Log          *logging.Logger

	pinger interface{ Ping(context.Context) error }
}

// New opens the store (Postgres when a database URL is configured, memory
// otherwise) and builds every service on top of it.
func New(ctx context.Context, opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NoOpCollector{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{Store: opts.Store, Metrics: m, Log: log}
	if e.Store == nil {
		if cfg.Database.URL != "" {
			pg, err := postgres.Open(ctx, cfg.Database.URL)
			if err != nil {
				return nil, err
			}
			e.Store = pg
			log.Info("using postgres store")
		} else {
			e.Store = memory.New()
			log.Warn("no database configured, using in-memory store")
		}
	}
	if p, ok := e.Store.(interface{ Ping(context.Context) error }); ok {
		e.pinger = p
	}

	e.Dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
		QueueSize:       cfg.Notify.QueueSize,
		Workers:         cfg.Notify.Workers,
		DeliveryTimeout: cfg.Notify.WebhookTimeout,
	}, sinks(cfg.Notify, opts.HTTPClient, m, log), m, log)

	ids := id.NewGenerator(cfg.Identifiers.MaxAttempts)
	ids.Now = now
	ids.OnConflict = func(prefix string) {
		m.RecordIdentifierRetry(prefix)
		log.Debug("identifier collision", zap.String("prefix", prefix))
	}

	e.Ledger = ledger.NewService(e.Store, log, now)
	e.Transactions = txn.NewService(txn.Params{
		Store:    e.Store,
		Ledger:   e.Ledger,
		IDs:      ids,
		Limits:   cfg.Limits,
		Location: loc,
		Now:      now,
		Notifier: e.Dispatcher,
		Metrics:  m,
		Logger:   log,
	})
	e.Reversals = reversal.NewService(reversal.Params{
		Store:    e.Store,
		Ledger:   e.Ledger,
		IDs:      ids,
		Now:      now,
		Notifier: e.Dispatcher,
		Metrics:  m,
		Logger:   log,
	})
	e.Loans = loan.NewService(loan.Params{
		Store:     e.Store,
		IDs:       ids,
		Bounds:    cfg.Loans,
		Disburser: e.Transactions,
		Now:       now,
		Notifier:  e.Dispatcher,
		Metrics:   m,
		Logger:    log,
	})
	return e, nil
}

func sinks(cfg config.NotifyConfig, client *http.Client, m metrics.Collector, log *logging.Logger) []notify.Sink {
	out := []notify.Sink{notify.NewLogSink(log)}
	if cfg.WebhookURL != "" {
		out = append(out, notify.NewWebhookSink(notify.WebhookConfig{
			URL:     cfg.WebhookURL,
			Timeout: cfg.WebhookTimeout,
			Client:  client,
		}, m, log))
	}
	if cfg.AuditDir != "" {
		out = append(out, notify.NewAuditSink(cfg.AuditDir))
	}
	return out
}

// Ping reports whether the store is reachable. The memory store always is.
func (e *Engine) Ping(ctx context.Context) error {
	if e.pinger == nil {
		return nil
	}
	return e.pinger.Ping(ctx)
}

// Close drains pending notifications and closes the store.
func (e *Engine) Close() error {
	return errors.Join(e.Dispatcher.Close(), e.Store.Close())
}
