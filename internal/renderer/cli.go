package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"pitchreel/internal/render"
)

// CLI renders by running the engine's command line, for example
// `npx remotion render <serveURL> <composition> <out> --props=<json>`.
// Cancelling ctx kills the process.
type CLI struct {
	command    []string
	serveURL   string
	scratchDir string
}

// NewCLI splits command on whitespace; the first field is the executable.
func NewCLI(command, serveURL, scratchDir string) (*CLI, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("renderer command is empty")
	}
	return &CLI{command: fields, serveURL: serveURL, scratchDir: scratchDir}, nil
}

func (c *CLI) Render(ctx context.Context, req render.EngineRequest) (render.EngineResult, error) {
	props, err := json.Marshal(req.Props)
	if err != nil {
		return render.EngineResult{}, err
	}
	if err := os.MkdirAll(c.scratchDir, 0o755); err != nil {
		return render.EngineResult{}, fmt.Errorf("create scratch dir: %w", err)
	}
	out := filepath.Join(c.scratchDir, req.JobID+".mp4")

	args := append(append([]string(nil), c.command[1:]...),
		"render", c.serveURL, req.Composition, out, "--props="+string(props))
	cmd := exec.CommandContext(ctx, c.command[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(out)
		if ctx.Err() != nil {
			return render.EngineResult{}, context.Cause(ctx)
		}
		if msg := lastLine(stderr.String()); msg != "" {
			return render.EngineResult{}, fmt.Errorf("%w: %s", err, msg)
		}
		return render.EngineResult{}, err
	}

	if _, err := os.Stat(out); err != nil {
		return render.EngineResult{}, fmt.Errorf("renderer exited without writing %s", filepath.Base(out))
	}
	return render.EngineResult{Path: out}, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
