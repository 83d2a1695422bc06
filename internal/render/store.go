package render

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pitchreel/internal/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// CancelOutcome says what RequestCancel did.
type CancelOutcome int

const (
	// CancelledQueued means the job never started and is now cancelled.
	CancelledQueued CancelOutcome = iota + 1
	// CancelSignalled means the job is running and has been flagged; the
	// worker finishes the transition.
	CancelSignalled
)

// ListFilter narrows List. A zero Limit means the default page size.
type ListFilter struct {
	Status Status
	Limit  int
}

type entry struct {
	job Job
	seq uint64
}

// Store is the in-memory registry of jobs. Every mutation goes through one
// lock, so concurrent transitions on the same job are serialized. Commit hooks
// run under that lock in commit order; they must not block or call back into
// the Store.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*entry
	seq   uint64
	now   func() time.Time
	hooks []func(Job)
}

// NewStore returns an empty store. Each hook receives every committed
// snapshot; Fanout.Publish is the intended hook.
func NewStore(hooks ...func(Job)) *Store {
	return &Store{
		jobs:  make(map[string]*entry),
		now:   func() time.Time { return time.Now().UTC() },
		hooks: hooks,
	}
}

// Create registers a queued job for spec.
func (s *Store) Create(spec Spec) Job {
	s.mu.Lock()
	s.seq++
	job := Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Spec:      spec,
		CreatedAt: s.now(),
	}
	s.jobs[job.ID] = &entry{job: job, seq: s.seq}
	s.committed(job)
	s.mu.Unlock()

	return job
}

// Get returns a snapshot of the job.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[id]
	if !ok {
		return Job{}, errors.NotFound("job", id)
	}
	return e.job, nil
}

// Update applies mutate to a copy of the job and commits it when the result is
// legal. Terminal jobs are immutable, a status change must follow the
// transition graph, and the output fields must agree with the status. A
// rejected update leaves the stored job untouched. An error returned by mutate
// aborts the update and is passed through.
func (s *Store) Update(id string, mutate func(*Job) error) (Job, error) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return Job{}, errors.NotFound("job", id)
	}

	prev := e.job
	next := prev
	if err := mutate(&next); err != nil {
		s.mu.Unlock()
		return prev, err
	}
	if err := s.check(prev, next); err != nil {
		s.mu.Unlock()
		return prev, err
	}
	e.job = next
	s.committed(next)
	s.mu.Unlock()

	return next, nil
}

func (s *Store) check(prev, next Job) error {
	if next.ID != prev.ID {
		return errors.New(errors.CodeInternal, "job id is immutable")
	}
	if prev.Status.Terminal() {
		return errors.InvalidTransition(string(prev.Status), string(next.Status))
	}
	if next.Status != prev.Status && !prev.Status.CanTransition(next.Status) {
		return errors.InvalidTransition(string(prev.Status), string(next.Status))
	}
	if err := next.checkInvariants(); err != nil {
		return errors.Wrap(err, "store.update", "job invariant violated")
	}
	return nil
}

// Transition moves the job to status `to`, letting mutate fill in the fields
// that go with it. Timestamps for start and finish are set here.
func (s *Store) Transition(id string, to Status, mutate func(*Job) error) (Job, error) {
	return s.Update(id, func(j *Job) error {
		if mutate != nil {
			if err := mutate(j); err != nil {
				return err
			}
		}
		now := s.now()
		switch {
		case to == StatusInProgress:
			j.StartedAt = &now
		case to.Terminal():
			j.FinishedAt = &now
		}
		j.Status = to
		return nil
	})
}

// RequestCancel decides the cancellation of a job in one atomic step: queued
// jobs become cancelled, running jobs get CancelRequested, terminal jobs are
// rejected as not cancellable.
func (s *Store) RequestCancel(id string) (Job, CancelOutcome, error) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return Job{}, 0, errors.NotFound("job", id)
	}

	var outcome CancelOutcome
	switch e.job.Status {
	case StatusQueued:
		now := s.now()
		e.job.Status = StatusCancelled
		e.job.CancelRequested = true
		e.job.FinishedAt = &now
		outcome = CancelledQueued
	case StatusInProgress:
		e.job.CancelRequested = true
		outcome = CancelSignalled
	default:
		job := e.job
		s.mu.Unlock()
		return job, 0, errors.New(errors.CodeInvalidTransition, "job is not cancellable").
			WithField("id", id).
			WithField("status", string(job.Status))
	}
	job := e.job
	s.committed(job)
	s.mu.Unlock()

	return job, outcome, nil
}

// CancelRequested reports whether cancellation was asked for the job.
func (s *Store) CancelRequested(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	return ok && e.job.CancelRequested
}

// List returns snapshots newest first.
func (s *Store) List(f ListFilter) []Job {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	s.mu.RLock()
	matched := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		if f.Status == "" || e.job.Status == f.Status {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].seq > matched[k].seq })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]Job, len(matched))
	for i, e := range matched {
		out[i] = e.job
	}
	s.mu.RUnlock()

	return out
}

// Counts returns the number of jobs per status. Every status is present.
func (s *Store) Counts() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		counts[st] = 0
	}
	s.mu.RLock()
	for _, e := range s.jobs {
		counts[e.job.Status]++
	}
	s.mu.RUnlock()
	return counts
}

func (s *Store) committed(job Job) {
	for _, h := range s.hooks {
		h(job)
	}
}
