package publish

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whalewatch/engine/internal/store"
)

// DefaultQueueSize is the per-publisher alert buffer.
const DefaultQueueSize = 100

// ResultHook observes every publish attempt.
type ResultHook func(publisher string, alert store.Alert, err error, took time.Duration)

// Dispatcher fans alerts out to publishers. Each publisher has its own
// buffered queue and worker, so a slow or rate-limited channel never holds
// up detection or the other channels.
type Dispatcher struct {
	log     *zap.Logger
	workers []*worker
	hook    ResultHook

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type worker struct {
	pub   Publisher
	queue chan store.Alert
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithResultHook registers a callback invoked after each publish attempt.
func WithResultHook(h ResultHook) DispatcherOption {
	return func(d *Dispatcher) { d.hook = h }
}

// NewDispatcher starts one worker per publisher.
func NewDispatcher(log *zap.Logger, queueSize int, pubs []Publisher, opts ...DispatcherOption) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, p := range pubs {
		w := &worker{pub: p, queue: make(chan store.Alert, queueSize)}
		d.workers = append(d.workers, w)
		d.wg.Add(1)
		go d.run(w)
	}
	return d
}

// Publishers returns the names of the configured publishers.
func (d *Dispatcher) Publishers() []string {
	names := make([]string, 0, len(d.workers))
	for _, w := range d.workers {
		names = append(names, w.pub.Name())
	}
	return names
}

// Enqueue hands the alert to every publisher without blocking. Publishers
// whose queue is full drop the alert. Returns the number of queues that
// accepted it.
func (d *Dispatcher) Enqueue(a store.Alert) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0
	}

	accepted := 0
	for _, w := range d.workers {
		select {
		case w.queue <- a:
			accepted++
		default:
			d.log.Warn("alert_dropped",
				zap.String("publisher", w.pub.Name()),
				zap.String("alert_id", a.ID),
				zap.String("kind", a.Kind),
			)
		}
	}
	return accepted
}

// Pending returns the number of queued alerts across publishers.
func (d *Dispatcher) Pending() int {
	n := 0
	for _, w := range d.workers {
		n += len(w.queue)
	}
	return n
}

func (d *Dispatcher) run(w *worker) {
	defer d.wg.Done()
	log := d.log.With(zap.String("publisher", w.pub.Name()))

	for a := range w.queue {
		start := time.Now()
		err := d.publish(w.pub, a)
		took := time.Since(start)

		if err != nil {
			log.Warn("publish_failed", zap.String("alert_id", a.ID), zap.String("kind", a.Kind), zap.Error(err))
		} else {
			log.Debug("published", zap.String("alert_id", a.ID), zap.Duration("took", took))
		}
		if d.hook != nil {
			d.hook(w.pub.Name(), a, err, took)
		}
	}
}

func (d *Dispatcher) publish(p Publisher, a store.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("publisher_panic", zap.String("publisher", p.Name()), zap.Any("panic", r))
			err = errPublisherPanic
		}
	}()
	return p.Publish(d.ctx, a)
}

// Close stops accepting alerts and drains queued ones. If ctx ends first,
// in-flight publishes are cancelled and ctx.Err is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, w := range d.workers {
		close(w.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
