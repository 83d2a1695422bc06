package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"pitchreel/internal/history"
	"pitchreel/internal/render"
)

func setupArchive(t *testing.T) *history.Archive {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("pitchreel_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, pgContainer.Terminate(ctx)) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, history.Migrate(ctx, dsn))
	// Migrations are idempotent.
	require.NoError(t, history.Migrate(ctx, dsn))

	pool, err := history.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return history.NewArchive(pool)
}

func finishedJob(status render.Status) render.Job {
	created := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	started := created.Add(5 * time.Second)
	finished := started.Add(12 * time.Second)
	job := render.Job{
		ID:         uuid.NewString(),
		Status:     status,
		Spec:       render.Spec{Composition: "TextClip"},
		CreatedAt:  created,
		StartedAt:  &started,
		FinishedAt: &finished,
	}
	switch status {
	case render.StatusCompleted:
		job.OutputPath = job.ID + ".mp4"
		job.OutputURL = "http://localhost:5000/renders/files/" + job.OutputPath
	case render.StatusFailed:
		job.Error = "render failed: boom"
	}
	return job
}

func TestArchiveTerminalJobsOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	a := setupArchive(t)
	ctx := context.Background()

	done := finishedJob(render.StatusCompleted)
	require.NoError(t, a.Notify(ctx, done))
	require.NoError(t, a.Notify(ctx, done), "duplicate terminal snapshots are ignored")

	failed := finishedJob(render.StatusFailed)
	require.NoError(t, a.Notify(ctx, failed))

	running := finishedJob(render.StatusInProgress)
	running.FinishedAt = nil
	require.NoError(t, a.Notify(ctx, running))

	recs, err := a.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	byID := map[string]history.Record{}
	for _, r := range recs {
		byID[r.ID] = r
	}
	got := byID[done.ID]
	assert.Equal(t, render.StatusCompleted, got.Status)
	assert.Equal(t, done.OutputPath, got.OutputPath)
	assert.Equal(t, int64(12000), got.DurationMS)
	require.NotNil(t, got.StartedAt)

	assert.Equal(t, "render failed: boom", byID[failed.ID].Error)
	assert.NoError(t, a.Ping(ctx))
}
