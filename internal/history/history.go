// Package history archives terminal jobs in Postgres so they outlive the
// in-memory store.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pitchreel/internal/render"
)

// Record is one archived job.
type Record struct {
	ID          string        `json:"id"`
	Composition string        `json:"composition"`
	Status      render.Status `json:"status"`
	Error       string        `json:"error,omitempty"`
	OutputPath  string        `json:"outputPath,omitempty"`
	MirrorKey   string        `json:"mirrorKey,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	FinishedAt  time.Time     `json:"finishedAt"`
	DurationMS  int64         `json:"durationMs"`
}

// Archive is a render.Notifier that inserts each job once, when it reaches a
// terminal state. Other snapshots are ignored.
type Archive struct {
	pool *pgxpool.Pool
}

func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

func (a *Archive) Name() string { return "pg-history" }

const insertSQL = `
INSERT INTO render_history
    (id, composition, status, error, output_path, mirror_key, created_at, started_at, finished_at, duration_ms)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING`

func (a *Archive) Notify(ctx context.Context, job render.Job) error {
	if !job.Status.Terminal() || job.FinishedAt == nil {
		return nil
	}
	_, err := a.pool.Exec(ctx, insertSQL,
		job.ID,
		job.Composition,
		string(job.Status),
		job.Error,
		job.OutputPath,
		job.MirrorKey,
		job.CreatedAt,
		job.StartedAt,
		*job.FinishedAt,
		job.Duration().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("archive job %s: %w", job.ID, err)
	}
	return nil
}

const recentSQL = `
SELECT id::text, composition, status, COALESCE(error, ''), COALESCE(output_path, ''), COALESCE(mirror_key, ''),
       created_at, started_at, finished_at, duration_ms
FROM render_history
ORDER BY finished_at DESC
LIMIT $1`

// Recent returns the most recently finished jobs.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := a.pool.Query(ctx, recentSQL, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		var status string
		err := row.Scan(&r.ID, &r.Composition, &status, &r.Error, &r.OutputPath, &r.MirrorKey,
			&r.CreatedAt, &r.StartedAt, &r.FinishedAt, &r.DurationMS)
		r.Status = render.Status(status)
		return r, err
	})
}

func (a *Archive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}
