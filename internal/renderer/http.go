// Package renderer holds the render.Engine implementations that talk to the
// external rendering engine.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"pitchreel/internal/render"
)

// maxErrorBody caps how much of a non-2xx response is quoted in the error.
const maxErrorBody = 512

type renderPayload struct {
	JobID       string       `json:"jobId"`
	Composition string       `json:"composition"`
	InputProps  render.Props `json:"inputProps"`
}

// HTTPClient renders by POSTing the job to a render server and streaming the
// returned video into the scratch directory. Cancelling ctx aborts the request.
type HTTPClient struct {
	baseURL    string
	scratchDir string
	client     *http.Client
}

// NewHTTPClient builds a client for baseURL. A nil client uses one without a
// timeout; the worker bounds each render through ctx.
func NewHTTPClient(baseURL, scratchDir string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		scratchDir: scratchDir,
		client:     client,
	}
}

func (c *HTTPClient) Render(ctx context.Context, req render.EngineRequest) (render.EngineResult, error) {
	body, err := json.Marshal(renderPayload{
		JobID:       req.JobID,
		Composition: req.Composition,
		InputProps:  req.Props,
	})
	if err != nil {
		return render.EngineResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return render.EngineResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "video/mp4")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return render.EngineResult{}, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			return render.EngineResult{}, fmt.Errorf("renderer http %d: %s", res.StatusCode, msg)
		}
		return render.EngineResult{}, fmt.Errorf("renderer http %d", res.StatusCode)
	}

	path, err := c.writeScratch(req.JobID, res.Body)
	if err != nil {
		return render.EngineResult{}, err
	}
	return render.EngineResult{Path: path}, nil
}

func (c *HTTPClient) writeScratch(jobID string, r io.Reader) (string, error) {
	if err := os.MkdirAll(c.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	path := filepath.Join(c.scratchDir, jobID+".mp4")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("renderer returned an empty body")
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}
