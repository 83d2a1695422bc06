package render

import (
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitchreel/internal/pkg/errors"
)

func testSpec() Spec {
	return Spec{
		Composition: "TextClip",
		Props: Props{
			Animations:     []Animation{{TitleText: "Acme", AnimationStyle: "scale", Duration: 3}},
			GradientOption: "option-1",
			Option1Colors:  []string{"#000", "#fff"},
			Option2Colors:  []string{"#111", "#eee"},
		},
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusQueued, StatusInProgress, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusCompleted, false},
		{StatusQueued, StatusFailed, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusQueued, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusInProgress, false},
		{StatusCancelled, StatusQueued, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}

	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusFailed.Valid())
	assert.False(t, Status("paused").Valid())
}

func TestStoreCreateAndGet(t *testing.T) {
	s := NewStore()
	job := s.Create(testSpec())

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusQueued, job.Status)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Nil(t, job.StartedAt)

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job, got)

	_, err = s.Get("nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestStoreTransitionLifecycle(t *testing.T) {
	s := NewStore()
	job := s.Create(testSpec())

	running, err := s.Transition(job.ID, StatusInProgress, nil)
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)

	done, err := s.Transition(job.ID, StatusCompleted, func(j *Job) error {
		j.OutputPath = job.ID + ".mp4"
		j.OutputURL = "http://localhost:5000/renders/files/" + job.ID + ".mp4"
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, done.FinishedAt)
	assert.GreaterOrEqual(t, int64(done.Duration()), int64(0))

	_, err = s.Transition(job.ID, StatusFailed, func(j *Job) error {
		j.OutputURL = ""
		j.Error = "late failure"
		return nil
	})
	assert.True(t, errors.IsInvalidTransition(err), "terminal jobs are immutable")

	after, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, done, after)
}

func TestStoreRejectsIllegalUpdates(t *testing.T) {
	s := NewStore()
	job := s.Create(testSpec())

	_, err := s.Transition(job.ID, StatusCompleted, func(j *Job) error {
		j.OutputURL = "http://x/y.mp4"
		return nil
	})
	assert.True(t, errors.IsInvalidTransition(err), "queued cannot complete")

	_, err = s.Transition(job.ID, StatusInProgress, nil)
	require.NoError(t, err)

	_, err = s.Transition(job.ID, StatusCompleted, nil)
	require.Error(t, err, "completed needs an output url")
	assert.Equal(t, errors.CodeInternal, errors.GetCode(err))

	_, err = s.Transition(job.ID, StatusCancelled, func(j *Job) error {
		j.Error = "should not be here"
		return nil
	})
	require.Error(t, err, "error only on failed")

	boom := stderrors.New("boom")
	_, err = s.Update(job.ID, func(*Job) error { return boom })
	assert.ErrorIs(t, err, boom)

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Empty(t, got.Error)

	_, err = s.Update("missing", func(*Job) error { return nil })
	assert.True(t, errors.IsNotFound(err))
}

func TestStoreRequestCancel(t *testing.T) {
	s := NewStore()

	queued := s.Create(testSpec())
	job, outcome, err := s.RequestCancel(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, CancelledQueued, outcome)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.NotNil(t, job.FinishedAt)

	running := s.Create(testSpec())
	_, err = s.Transition(running.ID, StatusInProgress, nil)
	require.NoError(t, err)
	job, outcome, err = s.RequestCancel(running.ID)
	require.NoError(t, err)
	assert.Equal(t, CancelSignalled, outcome)
	assert.Equal(t, StatusInProgress, job.Status)
	assert.True(t, s.CancelRequested(running.ID))

	_, _, err = s.RequestCancel(queued.ID)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidTransition(err))
	assert.Equal(t, "cancelled", errors.GetFields(err)["status"])

	_, _, err = s.RequestCancel("missing")
	assert.True(t, errors.IsNotFound(err))
	assert.False(t, s.CancelRequested("missing"))
}

func TestStoreListNewestFirst(t *testing.T) {
	s := NewStore()
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, s.Create(testSpec()).ID)
	}
	_, _, err := s.RequestCancel(ids[1])
	require.NoError(t, err)

	all := s.List(ListFilter{})
	require.Len(t, all, 5)
	for i, j := range all {
		assert.Equal(t, ids[4-i], j.ID)
	}

	limited := s.List(ListFilter{Limit: 2})
	require.Len(t, limited, 2)
	assert.Equal(t, ids[4], limited[0].ID)

	cancelled := s.List(ListFilter{Status: StatusCancelled})
	require.Len(t, cancelled, 1)
	assert.Equal(t, ids[1], cancelled[0].ID)

	counts := s.Counts()
	assert.Equal(t, 4, counts[StatusQueued])
	assert.Equal(t, 1, counts[StatusCancelled])
	assert.Contains(t, counts, StatusFailed)
}

func TestStoreHooksSeeEveryCommitInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []Status
	)
	s := NewStore(func(j Job) {
		mu.Lock()
		seen = append(seen, j.Status)
		mu.Unlock()
	})

	job := s.Create(testSpec())
	_, err := s.Transition(job.ID, StatusInProgress, nil)
	require.NoError(t, err)
	_, _, err = s.RequestCancel(job.ID)
	require.NoError(t, err)
	_, err = s.Transition(job.ID, StatusCancelled, nil)
	require.NoError(t, err)

	// Rejected updates are not published.
	_, err = s.Transition(job.ID, StatusFailed, nil)
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusQueued, StatusInProgress, StatusInProgress, StatusCancelled}, seen)
}

func TestStoreConcurrentTransitionsSerialize(t *testing.T) {
	s := NewStore()
	job := s.Create(testSpec())
	_, err := s.Transition(job.ID, StatusInProgress, nil)
	require.NoError(t, err)

	var (
		wg  sync.WaitGroup
		won int32
		mu  sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = s.Transition(job.ID, StatusCancelled, nil)
			} else {
				_, err = s.Transition(job.ID, StatusFailed, func(j *Job) error {
					j.Error = "boom"
					return nil
				})
			}
			if err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), won, "exactly one terminal transition commits")
	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
}

func TestTruncateError(t *testing.T) {
	short := "engine exploded"
	assert.Equal(t, short, truncateError(short))

	long := make([]byte, 0, 3000)
	for len(long) < 2999 {
		long = append(long, "é"...)
	}
	got := truncateError(string(long))
	assert.LessOrEqual(t, len(got), maxErrorLen)
	assert.NotEmpty(t, got)
}
