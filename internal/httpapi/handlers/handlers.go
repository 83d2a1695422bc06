package handlers

import (
	"context"
	"io"

	"pitchreel/internal/history"
	"pitchreel/internal/pkg/logger"
	"pitchreel/internal/render"
)

// FileSource serves stored artifacts.
type FileSource interface {
	Open(ctx context.Context, key string) (rc io.ReadCloser, contentType string, size int64, err error)
}

// HistorySource reads archived terminal jobs.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// Pinger is a dependency probed by the deep health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Scheduler *render.Scheduler
	Store     *render.Store
	Files     FileSource
	// History is optional; GET /renders/history answers 503 without it.
	History HistorySource
	Log     *logger.Logger
	// Checks are probed by GET /health?deep=true, keyed by name.
	Checks map[string]Pinger
}

type Handler struct {
	sched   *render.Scheduler
	store   *render.Store
	files   FileSource
	history HistorySource
	log     *logger.Logger
	checks  map[string]Pinger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		sched:   d.Scheduler,
		store:   d.Store,
		files:   d.Files,
		history: d.History,
		log:     log.WithComponent("http"),
		checks:  d.Checks,
	}
}
