package render

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pitchreel/internal/pkg/logger"
)

func strp(s string) *string   { return &s }
func f64p(f float64) *float64 { return &f }

func validRequest() Request {
	return Request{
		Animations: []AnimationRequest{{
			TitleText:       strp("Acme Robotics"),
			TitleColor:      strp("#ffffff"),
			BackgroundColor: strp("#101010"),
			Rating:          f64p(4.8),
			Duration:        f64p(3),
		}},
		Option1Colors: []string{"#ff0000", "#00ff00"},
		Option2Colors: []string{"#0000ff", "#ffff00", "#00ffff"},
	}
}

// fakeEngine blocks each render until released, records calls and writes a
// deterministic output file.
type fakeEngine struct {
	dir      string
	honorCtx bool
	started  chan string

	mu     sync.Mutex
	gates  map[string]chan struct{}
	errs   map[string]error
	panics map[string]bool
	calls  []string

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeEngine(t *testing.T, honorCtx bool) *fakeEngine {
	return &fakeEngine{
		dir:      t.TempDir(),
		honorCtx: honorCtx,
		started:  make(chan string, 64),
		gates:    make(map[string]chan struct{}),
		errs:     make(map[string]error),
		panics:   make(map[string]bool),
	}
}

func (e *fakeEngine) gate(id string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.gates[id]
	if !ok {
		g = make(chan struct{})
		e.gates[id] = g
	}
	return g
}

func (e *fakeEngine) release(id string) { close(e.gate(id)) }

func (e *fakeEngine) failWith(id string, err error) {
	e.mu.Lock()
	e.errs[id] = err
	e.mu.Unlock()
}

func (e *fakeEngine) panicOn(id string) {
	e.mu.Lock()
	e.panics[id] = true
	e.mu.Unlock()
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeEngine) output(id string) []byte {
	return []byte("ftypmp42 render output for " + id)
}

func (e *fakeEngine) Render(ctx context.Context, req EngineRequest) (EngineResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, req.JobID)
	e.mu.Unlock()

	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		m := e.maxActive.Load()
		if n <= m || e.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	e.started <- req.JobID

	var ctxDone <-chan struct{}
	if e.honorCtx {
		ctxDone = ctx.Done()
	}
	select {
	case <-e.gate(req.JobID):
	case <-ctxDone:
		return EngineResult{}, context.Cause(ctx)
	}

	e.mu.Lock()
	err, shouldPanic := e.errs[req.JobID], e.panics[req.JobID]
	e.mu.Unlock()
	if shouldPanic {
		panic("renderer crashed")
	}
	if err != nil {
		return EngineResult{}, err
	}

	path := filepath.Join(e.dir, req.JobID+".mp4")
	if err := os.WriteFile(path, e.output(req.JobID), 0o644); err != nil {
		return EngineResult{}, err
	}
	return EngineResult{Path: path}, nil
}

// dirArtifacts copies outputs into a directory, like the local render dir.
type dirArtifacts struct {
	dir string
	// hold, when set, blocks Save until closed.
	hold chan struct{}
	// saveErr, when set, is returned by Save after hold.
	saveErr   error
	saving    chan string
	discarded atomic.Int32
}

func newDirArtifacts(t *testing.T) *dirArtifacts {
	return &dirArtifacts{dir: t.TempDir(), saving: make(chan string, 64)}
}

func (a *dirArtifacts) Save(_ context.Context, jobID, src string) (Artifact, error) {
	a.saving <- jobID
	if a.hold != nil {
		<-a.hold
	}
	if a.saveErr != nil {
		return Artifact{}, a.saveErr
	}
	key := jobID + ".mp4"
	in, err := os.Open(src)
	if err != nil {
		return Artifact{}, err
	}
	defer in.Close()
	out, err := os.Create(filepath.Join(a.dir, key))
	if err != nil {
		return Artifact{}, err
	}
	defer out.Close()
	n, err := io.Copy(out, in)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Key:         key,
		URL:         "http://localhost:5000/renders/files/" + key,
		ContentType: "video/mp4",
		Size:        n,
	}, nil
}

func (a *dirArtifacts) Discard(_ context.Context, art Artifact) error {
	a.discarded.Add(1)
	return os.Remove(filepath.Join(a.dir, art.Key))
}

func (a *dirArtifacts) exists(key string) bool {
	_, err := os.Stat(filepath.Join(a.dir, key))
	return err == nil
}

type harness struct {
	store     *Store
	sched     *Scheduler
	engine    *fakeEngine
	artifacts *dirArtifacts
}

type harnessOpts struct {
	concurrency int
	honorCtx    bool
	timeout     time.Duration
	noRun       bool
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	if o.concurrency == 0 {
		o.concurrency = 1
	}
	if o.timeout == 0 {
		o.timeout = 5 * time.Second
	}

	h := &harness{
		store:     NewStore(),
		engine:    newFakeEngine(t, o.honorCtx),
		artifacts: newDirArtifacts(t),
	}
	worker := NewWorker(WorkerDeps{
		Store:      h.store,
		Engine:     h.engine,
		Artifacts:  h.artifacts,
		Log:        logger.Nop(),
		Timeout:    o.timeout,
		CancelPoll: 10 * time.Millisecond,
	})
	h.sched = NewScheduler(SchedulerDeps{
		Store:       h.store,
		Worker:      worker,
		Validator:   NewValidator([]string{"TextClip"}),
		Log:         logger.Nop(),
		Concurrency: o.concurrency,
	})

	if !o.noRun {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = h.sched.Run(ctx)
		}()
		t.Cleanup(func() {
			h.engine.mu.Lock()
			for _, g := range h.engine.gates {
				select {
				case <-g:
				default:
					close(g)
				}
			}
			h.engine.mu.Unlock()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
			defer stop()
			_ = h.sched.Shutdown(shutdownCtx)
			cancel()
			<-done
		})
	}
	return h
}

func (h *harness) submit(t *testing.T) Job {
	t.Helper()
	job, err := h.sched.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	return job
}

func (h *harness) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case id := <-h.engine.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a render to start")
		return ""
	}
}

func (h *harness) assertNoStart(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case id := <-h.engine.started:
		t.Fatalf("unexpected render start for %s", id)
	case <-time.After(within):
	}
}

func (h *harness) waitStatus(t *testing.T, id string, want Status) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var err error
		job, err = h.store.Get(id)
		return err == nil && job.Status == want
	}, 3*time.Second, 5*time.Millisecond, fmt.Sprintf("job %s never reached %s", id, want))
	return job
}

func (h *harness) countStatus(st Status) int {
	return h.store.Counts()[st]
}
