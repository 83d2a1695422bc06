package render

import "context"

// EngineRequest is what a worker hands to the rendering engine.
type EngineRequest struct {
	JobID       string
	Composition string
	Props       Props
}

// EngineResult points at the file the engine produced. The worker owns the
// file once Render returns and removes it after storing or discarding it.
type EngineResult struct {
	Path string
}

// Engine turns a composition and its props into a video file. Implementations
// should abort when ctx is done; those that cannot are allowed to finish, and
// the worker discards their output.
type Engine interface {
	Render(ctx context.Context, req EngineRequest) (EngineResult, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req EngineRequest) (EngineResult, error)

func (f EngineFunc) Render(ctx context.Context, req EngineRequest) (EngineResult, error) {
	return f(ctx, req)
}

// Artifact describes a stored render output.
type Artifact struct {
	// Key is the object key under the render directory.
	Key         string
	URL         string
	ContentType string
	Size        int64
	// MirrorKey is set when a secondary copy was uploaded.
	MirrorKey string
}

// ArtifactStore persists engine output where clients can fetch it.
type ArtifactStore interface {
	Save(ctx context.Context, jobID, srcPath string) (Artifact, error)
	Discard(ctx context.Context, art Artifact) error
}
