package handlers

import (
	"context"
	"net/http"
	"time"

	"pitchreel/internal/httpkit"
)

// Health reports liveness and scheduler stats. With ?deep=true it also pings
// the configured dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	health := map[string]any{
		"status":    "ok",
		"service":   "pitchreel",
		"scheduler": h.sched.Stats(),
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if check["status"] != "ok" {
				health["status"] = "degraded"
				h.log.FromContext(ctx).Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
	return nil
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	checks := make(map[string]map[string]any, len(h.checks))
	for name, p := range h.checks {
		checks[name] = ping(ctx, p)
	}
	return checks
}

func ping(ctx context.Context, p Pinger) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.Ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
