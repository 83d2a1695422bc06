package handlers

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"pitchreel/internal/httpkit"
	"pitchreel/internal/pkg/errors"
	"pitchreel/internal/render"
)

// PostRender validates and queues a render. The response carries only the
// job id; clients poll GET /renders/{jobId}.
func (h *Handler) PostRender(w http.ResponseWriter, r *http.Request) error {
	var req render.Request
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		var de *httpkit.DecodeError
		if stderrors.As(err, &de) && de.Field != "" {
			return errors.ValidationField(de.Field, de.Message)
		}
		return errors.Validation(err.Error())
	}

	job, err := h.sched.Submit(r.Context(), req)
	if err != nil {
		return err
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"jobId": job.ID})
	return nil
}

// ListRenders returns jobs newest first, optionally filtered by status.
func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	var f render.ListFilter
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		st := render.Status(s)
		if !st.Valid() {
			names := make([]string, len(render.Statuses))
			for i, v := range render.Statuses {
				names[i] = string(v)
			}
			return errors.ValidationField("status", "status must be one of: "+strings.Join(names, ", "))
		}
		f.Status = st
	}
	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return errors.ValidationField("limit", "limit must be a positive integer")
		}
		f.Limit = n
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"jobs": h.store.List(f)})
	return nil
}

func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) error {
	job, err := h.store.Get(chi.URLParam(r, "jobId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"job": job})
	return nil
}

// CancelRender cancels a queued job or asks a running one to stop. The
// returned job shows the state right after the request; a running job turns
// cancelled once its worker stops.
func (h *Handler) CancelRender(w http.ResponseWriter, r *http.Request) error {
	job, err := h.sched.Cancel(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Job cancelled",
		"job":     job,
	})
	return nil
}
