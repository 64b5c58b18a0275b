package analysis

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/chartflow-ai/chartflow/config"
	"github.com/chartflow-ai/chartflow/metrics"
	"github.com/chartflow-ai/chartflow/types"
)

// Task is one unit of work submitted to the dispatcher. It runs exactly once
// if admitted, never if rejected.
type Task func(ctx context.Context) (string, error)

// Dispatcher admits tasks toward the remote provider under two ceilings: at
// most MaxConcurrent tasks executing, and at most CallsPerInterval admissions
// per interval. Waiters are served in submission order.
//
// With carry-over enabled the interval cap is a token bucket, so unused
// capacity smooths later bursts; with it disabled the cap is a fixed window
// that resets fully at each interval boundary.
type Dispatcher struct {
	sem          *semaphore.Weighted
	limiter      *rate.Limiter
	window       *fixedWindow
	queueTimeout time.Duration
	collector    *metrics.Collector
	logger       *zap.Logger
}

// NewDispatcher builds a dispatcher from config. collector may be nil.
func NewDispatcher(cfg config.DispatcherConfig, collector *metrics.Collector, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		queueTimeout: cfg.QueueTimeout,
		collector:    collector,
		logger:       logger.With(zap.String("component", "dispatcher")),
	}

	if cfg.CarryOver {
		d.limiter = rate.NewLimiter(
			rate.Limit(float64(cfg.CallsPerInterval)/cfg.Interval.Seconds()),
			cfg.CallsPerInterval,
		)
	} else {
		d.window = newFixedWindow(cfg.CallsPerInterval, cfg.Interval)
	}
	return d
}

// Submit queues task for admission and runs it to completion. It returns the
// task's result, or a QUEUE_TIMEOUT error if admission did not happen within
// the configured queue timeout. The admission deadline does not bound the
// task's own execution.
func (d *Dispatcher) Submit(ctx context.Context, task Task) (string, error) {
	admitCtx := ctx
	if d.queueTimeout > 0 {
		var cancel context.CancelFunc
		admitCtx, cancel = context.WithTimeout(ctx, d.queueTimeout)
		defer cancel()
	}

	queuedAt := time.Now()

	if err := d.sem.Acquire(admitCtx, 1); err != nil {
		return "", d.rejection(ctx, err)
	}
	defer d.sem.Release(1)

	if err := d.admit(admitCtx); err != nil {
		return "", d.rejection(ctx, err)
	}

	d.collector.RecordQueueWait(time.Since(queuedAt))
	return task(ctx)
}

func (d *Dispatcher) admit(ctx context.Context) error {
	if d.limiter != nil {
		return d.limiter.Wait(ctx)
	}
	return d.window.wait(ctx)
}

// rejection distinguishes the caller abandoning the wait from the queue
// timeout expiring.
func (d *Dispatcher) rejection(ctx context.Context, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	d.collector.RecordQueueTimeout()
	d.logger.Warn("task not admitted before queue timeout",
		zap.Duration("queue_timeout", d.queueTimeout))
	return types.NewError(types.ErrQueueTimeout, "task not admitted before queue timeout").
		WithCause(cause)
}

// fixedWindow is a blocking fixed-window admission counter. Unused capacity
// does not carry across window boundaries. Waiters blocked on a full window
// are queued and admitted in arrival order at each reset, so admission stays
// FIFO even when several semaphore holders block at once.
type fixedWindow struct {
	mu          sync.Mutex
	max         int
	window      time.Duration
	count       int
	windowStart time.Time
	waiters     []chan struct{}
	timerSet    bool
}

func newFixedWindow(max int, window time.Duration) *fixedWindow {
	return &fixedWindow{
		max:         max,
		window:      window,
		windowStart: time.Now(),
	}
}

func (w *fixedWindow) wait(ctx context.Context) error {
	w.mu.Lock()
	// Invariant: waiters is non-empty only while the current window is full,
	// so the fast path never overtakes a queued waiter.
	if len(w.waiters) == 0 {
		now := time.Now()
		if now.Sub(w.windowStart) >= w.window {
			w.windowStart = now
			w.count = 0
		}
		if w.count < w.max {
			w.count++
			w.mu.Unlock()
			return nil
		}
	}

	ready := make(chan struct{})
	w.waiters = append(w.waiters, ready)
	w.scheduleResetLocked()
	w.mu.Unlock()

	select {
	case <-ctx.Done():
		w.abandon(ready)
		return ctx.Err()
	case <-ready:
		return nil
	}
}

// scheduleResetLocked arms a single timer for the next window boundary. On
// firing it resets the window and admits queued waiters head-first.
func (w *fixedWindow) scheduleResetLocked() {
	if w.timerSet {
		return
	}
	w.timerSet = true
	time.AfterFunc(time.Until(w.windowStart.Add(w.window)), func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.timerSet = false
		w.windowStart = time.Now()
		w.count = 0
		for len(w.waiters) > 0 && w.count < w.max {
			close(w.waiters[0])
			w.waiters = w.waiters[1:]
			w.count++
		}
		if len(w.waiters) > 0 {
			w.scheduleResetLocked()
		}
	})
}

// abandon withdraws a canceled waiter. If the reset already admitted it, the
// unused admission is returned to the window.
func (w *fixedWindow) abandon(ready chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, c := range w.waiters {
		if c == ready {
			w.waiters = append(w.waiters[:i:i], w.waiters[i+1:]...)
			return
		}
	}
	if w.count > 0 {
		w.count--
	}
}
