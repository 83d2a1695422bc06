package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pitchreel/internal/adapters/storage/localfs"
	"pitchreel/internal/config"
	"pitchreel/internal/events"
	"pitchreel/internal/history"
	"pitchreel/internal/httpapi"
	"pitchreel/internal/httpapi/handlers"
	"pitchreel/internal/pkg/logger"
	"pitchreel/internal/pkg/shutdown"
	"pitchreel/internal/render"
	"pitchreel/internal/renderer"
	"pitchreel/internal/storage"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{ServiceName: "pitchreel-api"}).LogFatal("invalid configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "pitchreel-api",
		AddSource:   cfg.Log.AddSource,
	})

	log.Info("starting pitchreel API",
		"version", version,
		"renderer", cfg.Renderer.Kind,
		"concurrency", cfg.Render.Concurrency,
	)

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     "pitchreel@" + version,
		}); err != nil {
			log.LogFatal("failed to initialize sentry", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.Server.ShutdownTimeout)

	// Notifiers run after every committed job change.
	var notifiers []render.Notifier
	var archive handlers.HistorySource
	checks := map[string]handlers.Pinger{}

	if cfg.Redis.Addr != "" {
		log.Info("connecting to Redis")
		rdb, err := events.NewClient(cfg.Redis.Addr)
		if err != nil {
			log.LogFatal("invalid REDIS_ADDR", err)
		}
		pub := events.NewPublisher(rdb, cfg.Redis.EventsTTL)
		if err := pub.Ping(ctx); err != nil {
			log.LogFatal("failed to ping Redis", err)
		}
		shutdownMgr.Register("redis", func(ctx context.Context) error {
			return pub.Close()
		})
		notifiers = append(notifiers, pub)
		checks["redis"] = pub
		log.Info("Redis connected", "addr", pub.Addr())
	}

	if cfg.Database.URL != "" {
		log.Info("migrating render history")
		if err := history.Migrate(ctx, cfg.Database.URL); err != nil {
			log.LogFatal("failed to migrate PostgreSQL", err)
		}
		pool, err := history.Connect(ctx, cfg.Database.URL)
		if err != nil {
			log.LogFatal("failed to connect to PostgreSQL", err)
		}
		shutdownMgr.RegisterSimple("postgres", pool.Close)
		pg := history.NewArchive(pool)
		notifiers = append(notifiers, pg)
		checks["postgres"] = pg
		archive = pg
		log.Info("PostgreSQL connected")
	}

	fanout := render.NewFanout(log, cfg.Render.NotifyTimeout, notifiers...)
	shutdownMgr.Register("notifiers", fanout.Close)

	// Artifacts
	local := localfs.New(cfg.Render.RendersDir)
	mirror, err := storage.NewMirror(ctx, cfg.Mirror)
	if err != nil {
		log.LogFatal("failed to initialize artifact mirror", err)
	}
	if mirror != nil {
		log.Info("artifact mirror enabled", "provider", mirror.Provider())
	}
	artifacts := storage.NewArtifacts(local, mirror, cfg.Server.PublicBaseURL, log)

	engine, err := newEngine(cfg)
	if err != nil {
		log.LogFatal("failed to initialize renderer", err)
	}

	store := render.NewStore(fanout.Publish)
	worker := render.NewWorker(render.WorkerDeps{
		Store:      store,
		Engine:     engine,
		Artifacts:  artifacts,
		Log:        log,
		Timeout:    cfg.Render.Timeout,
		CancelPoll: cfg.Render.CancelPoll,
	})
	sched := render.NewScheduler(render.SchedulerDeps{
		Store:       store,
		Worker:      worker,
		Validator:   render.NewValidator(cfg.Render.Compositions),
		Log:         log,
		Concurrency: cfg.Render.Concurrency,
	})
	shutdownMgr.Register("scheduler", sched.Shutdown)

	router := httpapi.NewRouter(httpapi.Deps{
		Scheduler:      sched,
		Store:          store,
		Files:          artifacts,
		History:        archive,
		Log:            log,
		Checks:         checks,
		SubmitLimiter:  rate.NewLimiter(rate.Limit(cfg.Render.SubmitRatePerSec), cfg.Render.SubmitBurst),
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:              "0.0.0.0:" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})

	// A failing server cancels gctx, which triggers the same shutdown path
	// as a signal.
	shutdownMgr.Wait(gctx)
	stop()

	if err := g.Wait(); err != nil {
		log.Error("service stopped with error", "error", err.Error())
	}
}

func newEngine(cfg *config.Config) (render.Engine, error) {
	switch cfg.Renderer.Kind {
	case "cli":
		return renderer.NewCLI(cfg.Renderer.CLI, cfg.Renderer.ServeURL, cfg.Render.ScratchDir)
	default:
		return renderer.NewHTTPClient(cfg.Renderer.BaseURL, cfg.Render.ScratchDir, nil), nil
	}
}
