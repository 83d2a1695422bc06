package handlers

import (
	stderrors "errors"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pitchreel/internal/adapters/storage/localfs"
	"pitchreel/internal/pkg/errors"
	"pitchreel/internal/render"
)

// ServeFile streams an artifact from the render directory. Only the output of
// a completed job is served; anything else in the directory, including files
// of jobs still being stored or cancelled, is reported missing. Range requests
// are honored when the underlying file is seekable.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) error {
	key := chi.URLParam(r, "*")
	if !h.published(key) {
		return errors.NotFound("file", key)
	}

	rc, contentType, size, err := h.files.Open(r.Context(), key)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) || stderrors.Is(err, localfs.ErrInvalidKey) {
			return errors.NotFound("file", key)
		}
		return errors.Wrap(err, "files.open", "could not open artifact")
	}
	defer rc.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, path.Base(key), time.Time{}, rs)
		return nil
	}

	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		if _, err := io.Copy(w, rc); err != nil {
			h.log.FromContext(r.Context()).Warn("artifact stream interrupted", "key", key, "error", err.Error())
		}
	}
	return nil
}

// published reports whether key is the output of a completed job. Keys are
// named after the job id.
func (h *Handler) published(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || strings.HasPrefix(seg, ".") {
			return false
		}
	}
	job, err := h.store.Get(strings.TrimSuffix(key, path.Ext(key)))
	if err != nil {
		return false
	}
	return job.Status == render.StatusCompleted && job.OutputPath == key
}
