package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mims-dev/mims/internal/logging"
	"github.com/mims-dev/mims/internal/metrics"
)

// Sink is one delivery target.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// DispatcherConfig configures the worker pool.
type DispatcherConfig struct {
	// QueueSize bounds pending events (default: 1024). Events arriving at a
	// full queue are dropped.
	QueueSize int
	// Workers is the number of delivery goroutines (default: 2).
	Workers int
	// DeliveryTimeout bounds one Deliver call (default: 10s).
	DeliveryTimeout time.Duration
}

// Dispatcher fans events out to sinks from a bounded queue.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	timeout time.Duration
	metrics metrics.Collector
	log     *logging.Logger

	mu     sync.RWMutex // guards closed against sends on a closed queue
	closed bool
	wg     sync.WaitGroup

	dropped   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher starts the workers. Close must be called to drain them.
func NewDispatcher(cfg DispatcherConfig, sinks []Sink, m metrics.Collector, log *logging.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.NoOpCollector{}
	}
	if log == nil {
		log = logging.NewNop()
	}

	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, cfg.QueueSize),
		timeout: cfg.DeliveryTimeout,
		metrics: m,
		log:     log.Named("notify"),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Notify enqueues e without blocking.
func (d *Dispatcher) Notify(_ context.Context, e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(e, "dispatcher closed")
		return
	}
	select {
	case d.queue <- e:
	default:
		d.drop(e, "queue full")
	}
}

func (d *Dispatcher) drop(e Event, reason string) {
	d.dropped.Add(1)
	d.metrics.RecordNotificationDropped()
	d.log.Warn("event dropped",
		zap.String("type", e.Type),
		zap.String("subject", e.Subject),
		zap.String("reason", reason))
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for e := range d.queue {
		for _, s := range d.sinks {
			d.deliver(s, e)
		}
	}
}

func (d *Dispatcher) deliver(s Sink, e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := s.Deliver(ctx, e)
	if err != nil {
		d.failed.Add(1)
		d.metrics.RecordNotification(s.Name(), "error")
		d.log.Warn("delivery failed",
			zap.String("sink", s.Name()),
			zap.String("type", e.Type),
			zap.String("subject", e.Subject),
			zap.Error(err))
		return
	}
	d.delivered.Add(1)
	d.metrics.RecordNotification(s.Name(), metrics.OutcomeOK)
}

// Close stops accepting events and waits until the queue is drained.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}

// Stats reports delivery counters.
type Stats struct {
	Delivered int64
	Failed    int64
	Dropped   int64
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}
