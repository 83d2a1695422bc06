package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"pitchreel/internal/adapters/storage/localfs"
	"pitchreel/internal/ports"
	"pitchreel/internal/pkg/logger"
	"pitchreel/internal/render"
)

// FilesPath is the URL path the render directory is served under.
const FilesPath = "/renders/files/"

// Artifacts stores finished renders in the render directory and, when a
// mirror is configured, copies them there too. A mirror failure is logged and
// does not fail the job.
type Artifacts struct {
	local   *localfs.LocalFS
	mirror  Provider
	baseURL string
	log     *logger.Logger
}

// NewArtifacts wires the render directory with an optional mirror (nil for
// none). baseURL is the public origin used to build output URLs.
func NewArtifacts(local *localfs.LocalFS, mirror Provider, baseURL string, log *logger.Logger) *Artifacts {
	if log == nil {
		log = logger.Nop()
	}
	return &Artifacts{
		local:   local,
		mirror:  mirror,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.WithComponent("artifacts"),
	}
}

// Key is the object key of a job's video.
func Key(jobID string) string { return jobID + ".mp4" }

// URL is the public location of key.
func (a *Artifacts) URL(key string) string { return a.baseURL + FilesPath + key }

// Save copies the engine output at srcPath into the render directory.
func (a *Artifacts) Save(ctx context.Context, jobID, srcPath string) (render.Artifact, error) {
	log := a.log.WithJobID(jobID)

	mt, err := mimetype.DetectFile(srcPath)
	if err != nil {
		return render.Artifact{}, fmt.Errorf("inspect engine output: %w", err)
	}
	contentType := mt.String()
	if !strings.HasPrefix(contentType, "video/") {
		log.Warn("engine output does not look like a video", "content_type", contentType)
	}

	key := Key(jobID)
	out, err := a.put(ctx, a.local, key, contentType, srcPath)
	if err != nil {
		return render.Artifact{}, fmt.Errorf("store artifact: %w", err)
	}

	art := render.Artifact{
		Key:         out.ObjectKey,
		URL:         a.URL(out.ObjectKey),
		ContentType: contentType,
		Size:        out.Size,
	}

	if a.mirror != nil {
		m, err := a.put(ctx, a.mirror, key, contentType, srcPath)
		if err != nil {
			log.Warn("mirror upload failed", "provider", a.mirror.Provider(), "error", err.Error())
		} else {
			art.MirrorKey = m.ObjectKey
			log.Info("artifact mirrored", "provider", a.mirror.Provider(), "mirror_key", m.ObjectKey)
		}
	}
	return art, nil
}

func (a *Artifacts) put(ctx context.Context, p Provider, key, contentType, srcPath string) (ports.PutObjectOutput, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	defer f.Close()

	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return p.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: contentType,
		Reader:      f,
		Size:        size,
	})
}

// Discard removes a stored artifact and its mirror copy.
func (a *Artifacts) Discard(ctx context.Context, art render.Artifact) error {
	err := a.local.DeleteObject(ctx, art.Key)
	if a.mirror != nil && art.MirrorKey != "" {
		if merr := a.mirror.DeleteObject(ctx, art.MirrorKey); merr != nil {
			a.log.Warn("mirror delete failed", "provider", a.mirror.Provider(), "mirror_key", art.MirrorKey, "error", merr.Error())
		}
	}
	return err
}

// Open returns a stored artifact for serving.
func (a *Artifacts) Open(ctx context.Context, key string) (io.ReadCloser, string, int64, error) {
	return a.local.GetObject(ctx, key)
}
