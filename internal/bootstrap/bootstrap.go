// Package bootstrap provides dependency initialization for the beatmosaic binaries.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/maauso/beatmosaic/internal/audio"
	"github.com/maauso/beatmosaic/internal/config"
	"github.com/maauso/beatmosaic/internal/fetch"
	"github.com/maauso/beatmosaic/internal/job"
	"github.com/maauso/beatmosaic/internal/media"
	"github.com/maauso/beatmosaic/internal/mosaic"
	"github.com/maauso/beatmosaic/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	ComposeService *job.ComposeService
	Storage        storage.Storage

	closers []io.Closer
}

// Close releases the resources held by the dependencies.
func (d *Dependencies) Close() error {
	var firstErr error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := NewStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize job repository
	repo, closer, err := newRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{Storage: store}
	if closer != nil {
		deps.closers = append(deps.closers, closer)
	}

	// Initialize remote input downloads
	downloader := fetch.NewClient(
		fetch.WithMaxBytes(cfg.FetchMaxBytes),
		fetch.WithPrivateNetworks(cfg.FetchAllowPrivate),
	)

	// Initialize ComposeService
	deps.ComposeService = job.NewComposeService(
		repo,
		NewComposer(cfg, logger),
		store,
		job.WithMaxConcurrentTracks(cfg.MaxConcurrentTracks),
		job.WithDefaults(cfg.DefaultBPM, cfg.DefaultDuration),
		job.WithKeyPrefix(cfg.S3KeyPrefix),
		job.WithDownloader(downloader),
		job.WithLogger(logger),
	)

	// Jobs persisted by a previous process cannot resume.
	if _, err := deps.ComposeService.RecoverInterrupted(ctx); err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("recover interrupted jobs: %w", err)
	}

	return deps, nil
}

// NewComposer creates the ffmpeg-backed mosaic composer.
func NewComposer(cfg *config.Config, logger *slog.Logger) *mosaic.Composer {
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	encodeOpts := encodeOptions(cfg)

	// The fitted audio uses the output codec, so muxing does not transcode twice.
	fitter := audio.NewFFmpegFitter(cfg.FFmpegPath, audio.WithCodec(encodeOpts.AudioCodec, encodeOpts.AudioBitrate))

	return mosaic.NewComposer(fitter, processor,
		mosaic.WithTempDir(filepath.Join(cfg.TempDir, "audio")),
		mosaic.WithMaxTileSide(cfg.MaxTileSide),
		mosaic.WithTileCacheBytes(cfg.TileCacheBytes),
		mosaic.WithEncodeOptions(encodeOpts),
		mosaic.WithLogger(logger),
	)
}

// encodeOptions returns the output codecs and quality selected by cfg.
func encodeOptions(cfg *config.Config) media.EncodeOptions {
	opts := media.DefaultEncodeOptions()
	if cfg.VideoPreset != "" {
		opts.Preset = cfg.VideoPreset
	}
	opts.CRF = cfg.VideoCRF
	if cfg.AudioCodec != "" {
		opts.AudioCodec = cfg.AudioCodec
	}
	if cfg.AudioBitrate != "" {
		opts.AudioBitrate = cfg.AudioBitrate
	}
	return opts
}

// NewStorage creates the appropriate storage backend based on configuration.
func NewStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			PublicRead:      cfg.S3PublicRead,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("temp_dir", s3Store.TempDir()),
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("endpoint", cfg.S3Endpoint),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", localStore.TempDir()),
	)
	return localStore, nil
}

// newRepository opens the job store selected by JOB_STORE. The returned
// closer is nil for the in-memory store.
func newRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Repository, io.Closer, error) {
	var driver string
	switch strings.ToLower(cfg.JobStore) {
	case config.JobStoreSQLite:
		driver = job.DriverSQLite
	case config.JobStorePostgres:
		driver = job.DriverPostgres
	default:
		logger.Info("in-memory job store configured")
		return job.NewMemoryRepository(), nil, nil
	}

	repo, err := job.NewSQLRepository(ctx, driver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create job store: %w", err)
	}
	logger.Info("sql job store configured", slog.String("driver", driver))
	return repo, repo, nil
}
