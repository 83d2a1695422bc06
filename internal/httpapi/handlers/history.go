package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"pitchreel/internal/httpkit"
	"pitchreel/internal/pkg/errors"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ListHistory returns archived terminal jobs, newest first. Unlike
// GET /renders it includes jobs from earlier runs of the service.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) error {
	if h.history == nil {
		return errors.Unavailable("render history")
	}

	limit := defaultHistoryLimit
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			return errors.ValidationField("limit", "limit must be an integer between 1 and "+strconv.Itoa(maxHistoryLimit))
		}
		limit = n
	}

	records, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		return errors.Wrap(err, "history.recent", "could not read render history")
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"jobs": records})
	return nil
}
