// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Job store backends.
const (
	JobStoreMemory   = "memory"
	JobStoreSQLite   = "sqlite"
	JobStorePostgres = "postgres"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1-65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidConcurrency is returned when MAX_CONCURRENT_TRACKS is not positive.
	ErrInvalidConcurrency = errors.New("config: MAX_CONCURRENT_TRACKS must be positive")
	// ErrInvalidDefaults is returned when DEFAULT_BPM or DEFAULT_DURATION is not positive.
	ErrInvalidDefaults = errors.New("config: DEFAULT_BPM and DEFAULT_DURATION must be positive")
	// ErrInvalidTileSide is returned when MAX_TILE_SIDE is negative.
	ErrInvalidTileSide = errors.New("config: MAX_TILE_SIDE must not be negative")
	// ErrInvalidCRF is returned when VIDEO_CRF is outside 0-51.
	ErrInvalidCRF = errors.New("config: VIDEO_CRF must be between 0 and 51")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
	// ErrUnknownJobStore is returned for JOB_STORE values other than memory, sqlite and postgres.
	ErrUnknownJobStore = errors.New("config: JOB_STORE must be memory, sqlite or postgres")
	// ErrInvalidTileCache is returned when TILE_CACHE_BYTES is negative.
	ErrInvalidTileCache = errors.New("config: TILE_CACHE_BYTES must not be negative")
	// ErrDatabaseURLRequired is returned when a SQL job store has no DATABASE_URL.
	ErrDatabaseURLRequired = errors.New("config: DATABASE_URL is required for sql job stores")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/beatmosaic" json:"temp_dir"`

	// Processing settings
	MaxConcurrentTracks int     `env:"MAX_CONCURRENT_TRACKS, default=2" json:"max_concurrent_tracks"`
	DefaultBPM          float64 `env:"DEFAULT_BPM, default=240" json:"default_bpm"`
	DefaultDuration     float64 `env:"DEFAULT_DURATION, default=2" json:"default_duration"`
	MaxTileSide         int     `env:"MAX_TILE_SIDE, default=0" json:"max_tile_side"`
	TileCacheBytes      int64   `env:"TILE_CACHE_BYTES, default=268435456" json:"tile_cache_bytes"`

	// Encoder settings
	FFmpegPath   string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath  string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	VideoPreset  string `env:"VIDEO_PRESET, default=fast" json:"video_preset"`
	VideoCRF     int    `env:"VIDEO_CRF, default=23" json:"video_crf"`
	AudioCodec   string `env:"AUDIO_CODEC, default=aac" json:"audio_codec"`
	AudioBitrate string `env:"AUDIO_BITRATE, default=128k" json:"audio_bitrate"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3PublicBaseURL    string `env:"S3_PUBLIC_BASE_URL" json:"s3_public_base_url,omitempty"`
	S3KeyPrefix        string `env:"S3_KEY_PREFIX, default=beatmosaic" json:"s3_key_prefix"`
	S3PublicRead       bool   `env:"S3_PUBLIC_READ, default=true" json:"s3_public_read"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Job persistence
	JobStore    string `env:"JOB_STORE, default=memory" json:"job_store"`
	DatabaseURL string `env:"DATABASE_URL" json:"-"` // May embed credentials

	// Remote inputs
	FetchMaxBytes     int64 `env:"FETCH_MAX_BYTES, default=104857600" json:"fetch_max_bytes"`
	FetchAllowPrivate bool  `env:"FETCH_ALLOW_PRIVATE, default=false" json:"fetch_allow_private"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.MaxConcurrentTracks < 1 {
		return ErrInvalidConcurrency
	}
	if c.DefaultBPM <= 0 || c.DefaultDuration <= 0 {
		return ErrInvalidDefaults
	}
	if c.MaxTileSide < 0 {
		return ErrInvalidTileSide
	}
	if c.TileCacheBytes < 0 {
		return ErrInvalidTileCache
	}
	if c.VideoCRF < 0 || c.VideoCRF > 51 {
		return ErrInvalidCRF
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}

	switch strings.ToLower(c.JobStore) {
	case "", JobStoreMemory:
	case JobStoreSQLite, JobStorePostgres:
		if c.DatabaseURL == "" {
			return ErrDatabaseURLRequired
		}
	default:
		return fmt.Errorf("%w, got %q", ErrUnknownJobStore, c.JobStore)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, MaxConcurrentTracks: %d, DefaultBPM: %g, DefaultDuration: %g, MaxTileSide: %d, VideoPreset: %s, VideoCRF: %d, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, AWSAccessKeyID: %s, JobStore: %s, DatabaseURL: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.MaxConcurrentTracks,
		c.DefaultBPM,
		c.DefaultDuration,
		c.MaxTileSide,
		c.VideoPreset,
		c.VideoCRF,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		mask(c.AWSAccessKeyID),
		c.JobStore,
		mask(c.DatabaseURL),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
