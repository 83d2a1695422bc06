package render

import (
	"context"
	"sync"
	"time"

	"pitchreel/internal/pkg/logger"
)

// Notifier observes committed job snapshots. Failures are logged and never
// affect job state.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, job Job) error
}

const fanoutBuffer = 1024

// Fanout delivers snapshots to notifiers from a single goroutine, in commit
// order, each call bounded by a timeout. Publish never blocks: when the buffer
// is full the snapshot is dropped and logged.
type Fanout struct {
	notifiers []Notifier
	timeout   time.Duration
	log       *logger.Logger

	queue     chan Job
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewFanout starts the delivery goroutine. Close stops it.
func NewFanout(log *logger.Logger, timeout time.Duration, notifiers ...Notifier) *Fanout {
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	f := &Fanout{
		notifiers: notifiers,
		timeout:   timeout,
		log:       log.WithComponent("notify"),
		queue:     make(chan Job, fanoutBuffer),
		done:      make(chan struct{}),
	}
	go f.loop()
	return f
}

// Publish enqueues a snapshot. It is safe to use as a Store commit hook.
func (f *Fanout) Publish(job Job) {
	if len(f.notifiers) == 0 {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- job:
	default:
		f.log.Warn("notify buffer full, dropping snapshot", "job_id", job.ID, "status", string(job.Status))
	}
}

func (f *Fanout) loop() {
	defer close(f.done)
	for job := range f.queue {
		for _, n := range f.notifiers {
			ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
			if err := n.Notify(ctx, job); err != nil {
				f.log.Warn("notifier failed",
					"notifier", n.Name(),
					"job_id", job.ID,
					"status", string(job.Status),
					"error", err.Error(),
				)
			}
			cancel()
		}
	}
}

// Close stops accepting snapshots and waits for the queued ones to be
// delivered or ctx to end.
func (f *Fanout) Close(ctx context.Context) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		close(f.queue)
		f.mu.Unlock()
	})
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
