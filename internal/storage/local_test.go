package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		tempDir := filepath.Join(t.TempDir(), "nested", "beatmosaic")

		storage, err := NewLocalStorage(tempDir)
		require.NoError(t, err)
		assert.Equal(t, tempDir, storage.TempDir())
		assert.DirExists(t, tempDir)
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(os.TempDir(), "beatmosaic"), storage.TempDir())
	})
}

func TestLocalStorage_SaveTemp(t *testing.T) {
	storage := setupTestStorage(t)

	t.Run("saves data to temp file", func(t *testing.T) {
		path, err := storage.SaveTemp(context.Background(), "test", bytes.NewReader([]byte("test data")))
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(filepath.Base(path), "test_"), "unexpected name %s", path)
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "test data", string(content))
	})

	t.Run("keeps extension", func(t *testing.T) {
		path, err := storage.SaveTemp(context.Background(), "cover.jpg", strings.NewReader("x"))
		require.NoError(t, err)

		assert.Equal(t, ".jpg", filepath.Ext(path))
		assert.True(t, strings.HasPrefix(filepath.Base(path), "cover_"))
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.SaveTemp(ctx, "test", bytes.NewReader([]byte("data")))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalStorage_CleanupTemp(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("removes files and directories", func(t *testing.T) {
		var paths []string
		for i := 0; i < 3; i++ {
			path, err := storage.SaveTemp(ctx, "cleanup", bytes.NewReader([]byte("data")))
			require.NoError(t, err)
			paths = append(paths, path)
		}
		dir, err := storage.Workspace(ctx, "job")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("x"), 0600))
		paths = append(paths, dir)

		require.NoError(t, storage.CleanupTemp(ctx, paths))

		for _, p := range paths {
			assert.NoFileExists(t, p)
			assert.NoDirExists(t, p)
		}
	})

	t.Run("ignores non-existent files", func(t *testing.T) {
		assert.NoError(t, storage.CleanupTemp(ctx, []string{"/non/existent/file"}))
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := storage.CleanupTemp(ctx, []string{"/some/path"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalStorage_Workspace(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	a, err := storage.Workspace(ctx, "job-1")
	require.NoError(t, err)
	b, err := storage.Workspace(ctx, "job-1")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, storage.TempDir(), filepath.Dir(a))
	assert.DirExists(t, a)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = storage.Workspace(cancelled, "job-2")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalStorage_Publish(t *testing.T) {
	storage := setupTestStorage(t)

	_, err := storage.Publish(context.Background(), "/tmp/clip.mp4", "key")
	assert.ErrorIs(t, err, ErrS3NotConfigured)
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()

	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err, "failed to create storage")
	return storage
}
