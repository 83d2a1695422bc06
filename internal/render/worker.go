package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"

	"pitchreel/internal/pkg/logger"
)

var errRenderTimeout = errors.New("render timed out")

// errDiscard aborts the completing update when cancellation won the race.
var errDiscard = errors.New("cancel requested before completion")

// WorkerDeps configures a Worker.
type WorkerDeps struct {
	Store     *Store
	Engine    Engine
	Artifacts ArtifactStore
	Log       *logger.Logger
	// Timeout bounds one engine call.
	Timeout time.Duration
	// CancelPoll is how often the store's cancel flag is checked while the
	// engine runs.
	CancelPoll time.Duration
}

// Worker drives a single job from queued to a terminal state.
type Worker struct {
	store     *Store
	engine    Engine
	artifacts ArtifactStore
	log       *logger.Logger
	timeout   time.Duration
	poll      time.Duration
}

func NewWorker(d WorkerDeps) *Worker {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Minute
	}
	if d.CancelPoll <= 0 {
		d.CancelPoll = 500 * time.Millisecond
	}
	return &Worker{
		store:     d.Store,
		engine:    d.Engine,
		artifacts: d.Artifacts,
		log:       log.WithComponent("worker"),
		timeout:   d.Timeout,
		poll:      d.CancelPoll,
	}
}

type engineOutcome struct {
	res EngineResult
	err error
	// timedOut is set when the job was failed for timing out before the
	// engine returned.
	timedOut bool
}

// Run executes job id. ctx is cancelled with cause ErrCancelled when the job
// is cancelled. Run never panics and always leaves the job terminal unless it
// was never started.
func (w *Worker) Run(ctx context.Context, id string) {
	log := w.log.WithJobID(id)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("worker panic recovered", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			w.report(id, fmt.Errorf("worker panic: %v", rec))
			w.fail(log, id, fmt.Errorf("internal error: %v", rec))
		}
	}()

	job, err := w.store.Transition(id, StatusInProgress, nil)
	if err != nil {
		log.Warn("job not started", "error", err.Error())
		return
	}
	log.Info("render started", "composition", job.Composition, "queued_ms", job.StartedAt.Sub(job.CreatedAt).Milliseconds())

	timeoutCtx, cancelTimeout := context.WithTimeoutCause(ctx, w.timeout, errRenderTimeout)
	defer cancelTimeout()
	renderCtx, cancelRender := context.WithCancelCause(timeoutCtx)
	defer cancelRender(nil)

	out := w.await(renderCtx, cancelRender, id, EngineRequest{
		JobID:       id,
		Composition: job.Composition,
		Props:       job.Props,
	})
	if out.res.Path != "" {
		defer w.removeScratch(log, out.res.Path)
	}
	if out.timedOut {
		log.Warn("engine returned after the job timed out, output discarded", "had_output", out.res.Path != "")
		return
	}

	cause := context.Cause(renderCtx)
	switch {
	case w.cancelled(id, cause):
		w.finishCancelled(log, id)
	case errors.Is(cause, errRenderTimeout):
		w.failTimedOut(log, id)
	case out.err != nil:
		w.report(id, out.err)
		w.fail(log, id, fmt.Errorf("render failed: %w", out.err))
	case out.res.Path == "":
		w.fail(log, id, errors.New("render failed: engine returned no output file"))
	default:
		w.complete(ctx, log, id, out.res.Path)
	}
}

// await runs the engine and waits for it to return, watching the cancel flag
// in the meantime. A set flag aborts the engine context; the engine result is
// still awaited so its output can be discarded. A timeout fails the job at
// once but keeps the slot until the engine returns.
func (w *Worker) await(ctx context.Context, abort context.CancelCauseFunc, id string, req EngineRequest) engineOutcome {
	done := make(chan engineOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- engineOutcome{err: fmt.Errorf("engine panic: %v", rec)}
			}
		}()
		res, err := w.engine.Render(ctx, req)
		done <- engineOutcome{res: res, err: err}
	}()

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	expired := ctx.Done()
	timedOut := false
	for {
		select {
		case out := <-done:
			out.timedOut = timedOut
			return out
		case <-expired:
			expired = nil
			if errors.Is(context.Cause(ctx), errRenderTimeout) && !w.store.CancelRequested(id) {
				w.failTimedOut(w.log.WithJobID(id), id)
				timedOut = true
			}
		case <-ticker.C:
			if ctx.Err() == nil && w.store.CancelRequested(id) {
				w.log.WithJobID(id).Info("cancel requested, aborting engine")
				abort(ErrCancelled)
			}
		}
	}
}

// cancelled reports whether the job must end as cancelled. A timeout is a
// failure, any other context cancellation is a cancel.
func (w *Worker) cancelled(id string, cause error) bool {
	if w.store.CancelRequested(id) || errors.Is(cause, ErrCancelled) {
		return true
	}
	return cause != nil && !errors.Is(cause, errRenderTimeout)
}

func (w *Worker) complete(ctx context.Context, log *logger.Logger, id, path string) {
	storeCtx := context.WithoutCancel(ctx)
	art, err := w.artifacts.Save(storeCtx, id, path)
	if err != nil {
		if w.store.CancelRequested(id) {
			log.WithError(err).Info("artifact not stored for cancelled job")
			w.finishCancelled(log, id)
			return
		}
		w.report(id, err)
		w.fail(log, id, fmt.Errorf("storing artifact: %w", err))
		return
	}

	job, err := w.store.Transition(id, StatusCompleted, func(j *Job) error {
		if j.CancelRequested {
			return errDiscard
		}
		j.OutputPath = art.Key
		j.OutputURL = art.URL
		j.ContentType = art.ContentType
		j.MirrorKey = art.MirrorKey
		return nil
	})
	if err != nil {
		if derr := w.artifacts.Discard(storeCtx, art); derr != nil {
			log.Warn("discarding artifact failed", "key", art.Key, "error", derr.Error())
		}
		if errors.Is(err, errDiscard) {
			w.finishCancelled(log, id)
			return
		}
		log.WithError(err).Error("completing job failed")
		w.fail(log, id, fmt.Errorf("completing job: %w", err))
		return
	}
	log.Info("render completed",
		"output", job.OutputPath,
		"content_type", job.ContentType,
		"size", art.Size,
		"duration_ms", job.Duration().Milliseconds(),
	)
}

func (w *Worker) finishCancelled(log *logger.Logger, id string) {
	if _, err := w.store.Transition(id, StatusCancelled, nil); err != nil {
		log.WithError(err).Warn("cancel transition rejected")
		return
	}
	log.Info("render cancelled")
}

func (w *Worker) failTimedOut(log *logger.Logger, id string) {
	err := fmt.Errorf("render timed out after %s", w.timeout)
	w.report(id, err)
	w.fail(log, id, err)
}

func (w *Worker) fail(log *logger.Logger, id string, cause error) {
	msg := truncateError(cause.Error())
	if _, err := w.store.Transition(id, StatusFailed, func(j *Job) error {
		j.Error = msg
		return nil
	}); err != nil {
		log.WithError(err).Warn("fail transition rejected")
		return
	}
	log.WithError(cause).Error("render failed")
}

func (w *Worker) removeScratch(log *logger.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("removing engine output failed", "path", path)
	}
}

func (w *Worker) report(id string, err error) {
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("job_id", id)
		scope.SetTag("component", "render-worker")
	})
	hub.CaptureException(err)
}
