package render

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitchreel/internal/pkg/logger"
)

type recordingNotifier struct {
	name string
	err  error
	wait chan struct{}

	mu   sync.Mutex
	jobs []Job
}

func (n *recordingNotifier) Name() string { return n.name }

func (n *recordingNotifier) Notify(ctx context.Context, job Job) error {
	if n.wait != nil {
		select {
		case <-n.wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	n.jobs = append(n.jobs, job)
	n.mu.Unlock()
	return n.err
}

func (n *recordingNotifier) statuses() []Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Status, len(n.jobs))
	for i, j := range n.jobs {
		out[i] = j.Status
	}
	return out
}

func TestFanoutDeliversInCommitOrder(t *testing.T) {
	failing := &recordingNotifier{name: "failing", err: stderrors.New("redis down")}
	rec := &recordingNotifier{name: "rec"}
	f := NewFanout(logger.Nop(), time.Second, failing, rec)

	s := NewStore(f.Publish)
	job := s.Create(testSpec())
	_, err := s.Transition(job.ID, StatusInProgress, nil)
	require.NoError(t, err)
	_, err = s.Transition(job.ID, StatusFailed, func(j *Job) error {
		j.Error = "render failed: boom"
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.Close(ctx))

	want := []Status{StatusQueued, StatusInProgress, StatusFailed}
	assert.Equal(t, want, rec.statuses(), "a failing notifier must not stop the others")
	assert.Equal(t, want, failing.statuses())

	// Publishing after close is a no-op.
	f.Publish(job)
	assert.Len(t, rec.statuses(), 3)
}

func TestFanoutBoundsSlowNotifiers(t *testing.T) {
	slow := &recordingNotifier{name: "slow", wait: make(chan struct{})}
	f := NewFanout(logger.Nop(), 20*time.Millisecond, slow)

	s := NewStore(f.Publish)
	s.Create(testSpec())
	s.Create(testSpec())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.Close(ctx))
	assert.Empty(t, slow.statuses(), "timed out deliveries are dropped")
}

func TestFanoutWithoutNotifiers(t *testing.T) {
	f := NewFanout(nil, 0)
	f.Publish(Job{ID: "x"})
	require.NoError(t, f.Close(context.Background()))
	require.NoError(t, f.Close(context.Background()))
}
