package s3

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitchreel/internal/ports"
)

// fakeBucket is a path-style S3 endpoint holding objects in memory.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[path] = body
		f.types[path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", f.types[path])
		w.Write(body)
	case http.MethodDelete:
		delete(f.objects, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestBucket(t *testing.T) (*Bucket, *fakeBucket) {
	t.Helper()
	fake := &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	b, err := New(context.Background(), Options{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		Bucket:          "renders",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Prefix:          "renders/",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	return b, fake
}

func TestBucketRoundTrip(t *testing.T) {
	b, fake := newTestBucket(t)
	ctx := context.Background()
	payload := []byte("ftypmp42 mirrored render")

	out, err := b.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   "job-1.mp4",
		ContentType: "video/mp4",
		Reader:      bytes.NewReader(payload),
		Size:        int64(len(payload)),
	})
	require.NoError(t, err)
	assert.Equal(t, "renders/job-1.mp4", out.ObjectKey)
	assert.Equal(t, "s3", b.Provider())

	fake.mu.Lock()
	stored, ok := fake.objects["renders/renders/job-1.mp4"]
	fake.mu.Unlock()
	require.True(t, ok, "object is stored under bucket/prefix/key")
	assert.Contains(t, string(stored), "ftypmp42 mirrored render")

	rc, ct, _, err := b.GetObject(ctx, out.ObjectKey)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "video/mp4", ct)

	require.NoError(t, b.DeleteObject(ctx, out.ObjectKey))
	fake.mu.Lock()
	assert.Empty(t, fake.objects)
	fake.mu.Unlock()
}

func TestBucketMissingObject(t *testing.T) {
	b, _ := newTestBucket(t)

	_, _, _, err := b.GetObject(context.Background(), "nope.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "renders/nope.mp4")
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}
