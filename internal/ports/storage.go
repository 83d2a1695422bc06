package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// ObjectKey is the key to use for later Get/Delete calls. For localfs and
	// s3 it is the requested key (s3 adds its prefix); for gdrive it is the
	// Drive file id.
	ObjectKey string
	Size      int64
}

// StorageProvider is implemented by the render directory (localfs) and the
// artifact mirrors (gdrive, s3).
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error
}
