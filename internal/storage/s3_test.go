package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testS3Config(endpoint string) S3Config {
	return S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}
}

func TestNewS3Storage(t *testing.T) {
	cfg := testS3Config("http://localhost:4566")
	cfg.PublicBaseURL = "https://cdn.example.com/"
	cfg.PublicRead = true

	storage, err := NewS3Storage(t.TempDir(), cfg)
	require.NoError(t, err)

	assert.Equal(t, cfg.Bucket, storage.bucket)
	assert.Equal(t, cfg.Region, storage.region)
	assert.Equal(t, "https://cdn.example.com", storage.publicBase)
	assert.True(t, storage.publicRead)
}

func TestS3Storage_InheritsLocalStorage(t *testing.T) {
	storage, err := NewS3Storage(t.TempDir(), testS3Config("http://localhost:4566"))
	require.NoError(t, err)
	ctx := context.Background()

	dir, err := storage.Workspace(ctx, "job")
	require.NoError(t, err)
	assert.DirExists(t, dir)
	require.NoError(t, storage.CleanupTemp(ctx, []string{dir}))
	assert.NoDirExists(t, dir)
}

// capturedPut records what the fake S3 endpoint received.
type capturedPut struct {
	mu          sync.Mutex
	method      string
	path        string
	body        string
	contentType string
	acl         string
}

func fakeS3(t *testing.T) (*httptest.Server, *capturedPut) {
	t.Helper()
	got := &capturedPut{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		got.mu.Lock()
		got.method = r.Method
		got.path = r.URL.Path
		got.body = string(body)
		got.contentType = r.Header.Get("Content-Type")
		got.acl = r.Header.Get("X-Amz-Acl")
		got.mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, got
}

func writeClip(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "beat_bpm240.mp4")
	require.NoError(t, os.WriteFile(p, []byte("clip content"), 0600))
	return p
}

func TestS3Storage_Publish_MockServer(t *testing.T) {
	server, got := fakeS3(t)

	cfg := testS3Config(server.URL)
	cfg.PublicRead = true
	storage, err := NewS3Storage(t.TempDir(), cfg)
	require.NoError(t, err)

	url, err := storage.Publish(context.Background(), writeClip(t), "videos/beat_bpm240.mp4")
	require.NoError(t, err)

	assert.Equal(t, "https://test-bucket.s3.us-east-1.amazonaws.com/videos/beat_bpm240.mp4", url)

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/test-bucket/videos/beat_bpm240.mp4", got.path)
	assert.Contains(t, got.body, "clip content")
	assert.Equal(t, "video/mp4", got.contentType)
	assert.Equal(t, "public-read", got.acl)
}

func TestS3Storage_Publish_PublicBaseURL(t *testing.T) {
	server, got := fakeS3(t)

	cfg := testS3Config(server.URL)
	cfg.PublicBaseURL = "https://test-bucket.s3.fr-par.scw.cloud"
	storage, err := NewS3Storage(t.TempDir(), cfg)
	require.NoError(t, err)

	url, err := storage.Publish(context.Background(), writeClip(t), "a.mp4")
	require.NoError(t, err)

	assert.Equal(t, "https://test-bucket.s3.fr-par.scw.cloud/a.mp4", url)
	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Empty(t, got.acl)
}

func TestS3Storage_Publish_MissingFile(t *testing.T) {
	storage, err := NewS3Storage(t.TempDir(), testS3Config("http://localhost:4566"))
	require.NoError(t, err)

	_, err = storage.Publish(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), "k.mp4")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestS3Storage_Publish_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	storage, err := NewS3Storage(t.TempDir(), testS3Config(server.URL))
	require.NoError(t, err)

	_, err = storage.Publish(context.Background(), writeClip(t), "k.mp4")
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "video/mp4", contentType("x/clip.mp4"))
	assert.Equal(t, "video/mp4", contentType("CLIP.MP4"))
	assert.Equal(t, "audio/mp4", contentType("a.m4a"))
	assert.Equal(t, "image/png", contentType("cover.png"))
	assert.Equal(t, "application/octet-stream", contentType("blob"))
}
