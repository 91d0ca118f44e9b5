package events

import (
	"context"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/shipflow/internal/telemetry"
)

// Dispatcher hands events to a Publisher on a background goroutine.
// Emit never blocks: when the queue is full the event is dropped and
// counted.
type Dispatcher struct {
	publisher      Publisher
	logger         *otelzap.Logger
	metrics        *telemetry.Metrics
	publishTimeout time.Duration

	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// DispatcherConfig tunes the dispatcher.
type DispatcherConfig struct {
	QueueSize      int
	PublishTimeout time.Duration
}

// NewDispatcher starts a dispatcher. Close must be called to drain it.
func NewDispatcher(cfg DispatcherConfig, publisher Publisher, logger *otelzap.Logger, metrics *telemetry.Metrics) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		publisher:      publisher,
		logger:         logger,
		metrics:        metrics,
		publishTimeout: cfg.PublishTimeout,
		queue:          make(chan Event, cfg.QueueSize),
		done:           make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit enqueues an event. It reports false when the event was dropped.
func (d *Dispatcher) Emit(ctx context.Context, e Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- e:
		return true
	default:
		d.metrics.RecordEventDropped()
		d.logger.Ctx(ctx).Warn("Dropping shipping event, queue full",
			zap.String("event_type", string(e.Type)),
			zap.String("order_id", e.OrderID),
		)
		return false
	}
}

// Close stops accepting events and waits for queued ones to be published
// or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.publish(e)
	}
}

func (d *Dispatcher) publish(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.publishTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordEventPublished(string(e.Type), false)
			d.logger.Error("Event publisher panicked", zap.Any("panic", r), zap.String("event_id", e.ID))
		}
	}()

	if err := d.publisher.Publish(ctx, e); err != nil {
		d.metrics.RecordEventPublished(string(e.Type), false)
		d.logger.Warn("Failed to publish shipping event",
			zap.String("event_id", e.ID),
			zap.String("event_type", string(e.Type)),
			zap.Error(err),
		)
		return
	}
	d.metrics.RecordEventPublished(string(e.Type), true)
}
