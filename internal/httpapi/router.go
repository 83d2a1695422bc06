package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"pitchreel/internal/httpapi/handlers"
	"pitchreel/internal/httpkit"
	"pitchreel/internal/pkg/errors"
	"pitchreel/internal/pkg/logger"
	"pitchreel/internal/pkg/middleware"
	"pitchreel/internal/render"
)

type Deps struct {
	Scheduler *render.Scheduler
	Store     *render.Store
	Files     handlers.FileSource
	History   handlers.HistorySource
	Log       *logger.Logger
	Checks    map[string]handlers.Pinger
	// SubmitLimiter throttles POST /renders; nil disables it.
	SubmitLimiter  *rate.Limiter
	AllowedOrigins []string
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.AllowedOrigins,
		MaxAgeSeconds:  600,
	}))

	h := handlers.New(handlers.Deps{
		Scheduler: d.Scheduler,
		Store:     d.Store,
		Files:     d.Files,
		History:   d.History,
		Log:       log,
		Checks:    d.Checks,
	})
	wrap := func(fn middleware.HandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	r.NotFound(wrap(func(w http.ResponseWriter, r *http.Request) error {
		return errors.New(errors.CodeNotFound, "route not found")
	}))
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpkit.WriteErr(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	// ---- HEALTH ----
	r.Get("/health", wrap(h.Health))

	// ---- RENDERS ----
	r.Route("/renders", func(r chi.Router) {
		r.With(limit(log, d.SubmitLimiter)).Post("/", wrap(h.PostRender))
		r.Get("/", wrap(h.ListRenders))
		r.Get("/history", wrap(h.ListHistory))
		r.Get("/files/*", wrap(h.ServeFile))
		r.Get("/{jobId}", wrap(h.GetRender))
		r.Delete("/{jobId}", wrap(h.CancelRender))
	})

	return r
}

func limit(log *logger.Logger, l *rate.Limiter) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(log, l)
}
