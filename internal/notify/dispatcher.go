package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/serp-monitor/internal/model"
)

const defaultQueueSize = 256

// deliveryTimeout bounds one delivery attempt to all sinks.
const deliveryTimeout = 30 * time.Second

type item struct {
	change *model.ChangeEvent
	digest *model.Digest
}

// Dispatcher hands payloads to a Notifier on a background worker so callers
// never wait on delivery.
type Dispatcher struct {
	n     Notifier
	queue chan item
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the delivery worker. queueSize <= 0 uses the default.
func NewDispatcher(n Notifier, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	d := &Dispatcher{
		n:     n,
		queue: make(chan item, queueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue queues change events for delivery. It never blocks; events that do
// not fit are dropped with a warning.
func (d *Dispatcher) Enqueue(events ...model.ChangeEvent) {
	for i := range events {
		ev := events[i]
		d.push(item{change: &ev})
	}
}

// EnqueueDigest queues a digest for delivery.
func (d *Dispatcher) EnqueueDigest(dg model.Digest) {
	d.push(item{digest: &dg})
}

func (d *Dispatcher) push(it item) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		zap.L().Warn("notify: dispatcher closed, dropping notification")
		return
	}
	select {
	case d.queue <- it:
	default:
		zap.L().Warn("notify: queue full, dropping notification", zap.Int("capacity", cap(d.queue)))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for it := range d.queue {
		d.deliver(it)
	}
}

func (d *Dispatcher) deliver(it item) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("notify: sink panicked", zap.Any("panic", r))
		}
	}()

	var err error
	switch {
	case it.change != nil:
		err = d.n.NotifyChange(ctx, *it.change)
		if err != nil {
			zap.L().Error("notify: change delivery failed",
				zap.String("tenant_id", it.change.TenantID),
				zap.String("kind", string(it.change.Kind)),
				zap.String("url", it.change.URL),
				zap.Error(err),
			)
		}
	case it.digest != nil:
		err = d.n.NotifyDigest(ctx, *it.digest)
		if err != nil {
			zap.L().Error("notify: digest delivery failed",
				zap.String("tenant_id", it.digest.TenantID),
				zap.Error(err),
			)
		}
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered or for ctx to end. It is safe to call more than once.
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
