package render

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"pitchreel/internal/pkg/errors"
	"pitchreel/internal/pkg/logger"
)

// SchedulerDeps configures a Scheduler.
type SchedulerDeps struct {
	Store     *Store
	Worker    *Worker
	Validator *Validator
	Log       *logger.Logger
	// Concurrency is the number of worker slots.
	Concurrency int
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Slots   int            `json:"slots"`
	Busy    int            `json:"busy"`
	Pending int            `json:"pending"`
	Jobs    map[Status]int `json:"jobs"`
}

// Scheduler admits submissions into a FIFO pending queue and dispatches them
// to workers, never running more than Concurrency renders at once.
type Scheduler struct {
	store     *Store
	worker    *Worker
	validator *Validator
	log       *logger.Logger

	slots int64
	sem   *semaphore.Weighted
	busy  atomic.Int64

	mu      sync.Mutex
	pending *list.List
	index   map[string]*list.Element
	running map[string]context.CancelCauseFunc
	closed  bool

	wake    chan struct{}
	stop    chan struct{}
	workers sync.WaitGroup
}

func NewScheduler(d SchedulerDeps) *Scheduler {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	n := d.Concurrency
	if n < 1 {
		n = 1
	}
	return &Scheduler{
		store:     d.Store,
		worker:    d.Worker,
		validator: d.Validator,
		log:       log.WithComponent("scheduler"),
		slots:     int64(n),
		sem:       semaphore.NewWeighted(int64(n)),
		pending:   list.New(),
		index:     make(map[string]*list.Element),
		running:   make(map[string]context.CancelCauseFunc),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// Submit validates req, creates a queued job and appends it to the pending
// queue. Invalid requests create nothing.
func (s *Scheduler) Submit(_ context.Context, req Request) (Job, error) {
	spec, err := s.validator.Normalize(req)
	if err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Job{}, errors.Unavailable("render scheduler")
	}

	job := s.store.Create(spec)
	s.index[job.ID] = s.pending.PushBack(job.ID)
	s.signal()

	s.log.Info("render queued", "job_id", job.ID, "composition", job.Composition, "pending", s.pending.Len())
	return job, nil
}

// Cancel cancels a queued job immediately or asks a running one to stop.
// Terminal jobs are rejected as not cancellable.
func (s *Scheduler) Cancel(_ context.Context, id string) (Job, error) {
	job, outcome, err := s.store.RequestCancel(id)
	if err != nil {
		return job, err
	}

	s.mu.Lock()
	switch outcome {
	case CancelledQueued:
		if el, ok := s.index[id]; ok {
			s.pending.Remove(el)
			delete(s.index, id)
		}
	case CancelSignalled:
		if cancel, ok := s.running[id]; ok {
			cancel(ErrCancelled)
		}
	}
	s.mu.Unlock()

	s.log.Info("render cancel requested", "job_id", id, "status", string(job.Status))
	return job, nil
}

// Run is the dispatch loop. It takes a free slot, then the oldest pending
// job, and starts a worker for it. It returns when ctx is done or the
// scheduler is shut down.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("dispatch loop started", "slots", s.slots)
	defer s.log.Info("dispatch loop stopped")

	for {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		id, ok := s.next(ctx)
		if !ok {
			s.sem.Release(1)
			return nil
		}
		s.dispatch(ctx, id)
	}
}

// next blocks until a pending job exists and pops it.
func (s *Scheduler) next(ctx context.Context) (string, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", false
		}
		if front := s.pending.Front(); front != nil {
			id := s.pending.Remove(front).(string)
			delete(s.index, id)
			s.mu.Unlock()
			return id, true
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.stop:
			return "", false
		case <-ctx.Done():
			return "", false
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, id string) {
	jobCtx, cancel := context.WithCancelCause(logger.ContextWithJobID(ctx, id))

	s.mu.Lock()
	if s.closed {
		// Shutdown raced the pop; leave the job queued.
		s.index[id] = s.pending.PushFront(id)
		s.mu.Unlock()
		cancel(nil)
		s.sem.Release(1)
		return
	}
	s.running[id] = cancel
	s.workers.Add(1)
	s.mu.Unlock()

	s.busy.Add(1)
	go func() {
		defer s.workers.Done()
		defer s.sem.Release(1)
		defer s.busy.Add(-1)
		defer func() {
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
			cancel(nil)
		}()

		s.worker.Run(jobCtx, id)
	}()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stats reports slot usage, queue depth and per-status counts.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	pending := s.pending.Len()
	s.mu.Unlock()
	return Stats{
		Slots:   int(s.slots),
		Busy:    int(s.busy.Load()),
		Pending: pending,
		Jobs:    s.store.Counts(),
	}
}

// Shutdown stops dispatching, cancels running renders and waits for their
// workers to finish or ctx to end. Pending jobs stay queued.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.stop)
	}
	for _, cancel := range s.running {
		cancel(ErrCancelled)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
