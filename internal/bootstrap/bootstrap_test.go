package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/beatmosaic/internal/config"
	"github.com/maauso/beatmosaic/internal/job"
	"github.com/maauso/beatmosaic/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:                8080,
		TempDir:             t.TempDir(),
		MaxConcurrentTracks: 2,
		DefaultBPM:          240,
		DefaultDuration:     2,
		FFmpegPath:          "ffmpeg",
		FFprobePath:         "ffprobe",
		VideoPreset:         "fast",
		VideoCRF:            23,
		JobStore:            config.JobStoreMemory,
		FetchMaxBytes:       1 << 20,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDependencies_Memory(t *testing.T) {
	cfg := testConfig(t)

	deps, err := NewDependencies(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	require.NotNil(t, deps.ComposeService)
	assert.IsType(t, &storage.LocalStorage{}, deps.Storage)

	jobs, err := deps.ComposeService.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestNewDependencies_SQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobStore = config.JobStoreSQLite
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "jobs.db")

	deps, err := NewDependencies(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.Len(t, deps.closers, 1)

	created, err := deps.ComposeService.CreateJob(context.Background(), job.ComposeInput{
		Images: []job.Source{{URL: "https://example.com/a.png"}},
		Tracks: []job.TrackInput{{Name: "beat", Audio: job.Source{URL: "https://example.com/a.mp3"}}},
	})
	require.NoError(t, err)

	got, err := deps.ComposeService.GetJob(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "beat_bpm240.mp4", got.Tracks[0].OutputName)

	assert.NoError(t, deps.Close())
}

func TestNewDependencies_BadDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobStore = config.JobStoreSQLite
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "missing", "dir", "jobs.db")

	_, err := NewDependencies(context.Background(), cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create job store")
}

func TestNewStorage_S3(t *testing.T) {
	cfg := testConfig(t)
	cfg.S3Bucket = "bucket"
	cfg.S3Region = "us-east-1"
	cfg.AWSAccessKeyID = "key"
	cfg.AWSSecretAccessKey = "secret"

	store, err := NewStorage(cfg, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &storage.S3Storage{}, store)
}

func TestNewComposer(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxTileSide = 360
	assert.NotNil(t, NewComposer(cfg, discardLogger()))
}

func TestEncodeOptions(t *testing.T) {
	cfg := testConfig(t)

	opts := encodeOptions(cfg)
	assert.Equal(t, "aac", opts.AudioCodec)
	assert.Equal(t, "128k", opts.AudioBitrate)
	assert.Equal(t, "fast", opts.Preset)
	assert.Equal(t, 23, opts.CRF)

	cfg.AudioCodec = "libopus"
	cfg.AudioBitrate = "96k"
	cfg.VideoPreset = "slow"
	cfg.VideoCRF = 18

	opts = encodeOptions(cfg)
	assert.Equal(t, "libopus", opts.AudioCodec)
	assert.Equal(t, "96k", opts.AudioBitrate)
	assert.Equal(t, "slow", opts.Preset)
	assert.Equal(t, 18, opts.CRF)
}

func TestNewDependencies_RecoversInterruptedJobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobStore = config.JobStoreSQLite
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	deps, err := NewDependencies(ctx, cfg, discardLogger())
	require.NoError(t, err)
	created, err := deps.ComposeService.CreateJob(ctx, job.ComposeInput{
		Images: []job.Source{{URL: "https://example.com/a.png"}},
		Tracks: []job.TrackInput{{Name: "beat", Audio: job.Source{URL: "https://example.com/a.mp3"}}},
	})
	require.NoError(t, err)
	require.NoError(t, deps.Close())

	deps, err = NewDependencies(ctx, cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	got, err := deps.ComposeService.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
}
