package mosaic

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/beatmosaic/internal/audio"
	"github.com/maauso/beatmosaic/internal/media"
)

// DefaultTileCacheBytes is the tile cache budget of a new Composer.
const DefaultTileCacheBytes = 256 << 20

// Composer builds mosaic clips. It holds no mutable state, so one Composer
// may serve concurrent Compose calls as long as their output paths differ.
type Composer struct {
	fitter      audio.Fitter
	encoder     media.Encoder
	tempDir     string
	maxTileSide int
	tileCache   int64
	encodeOpts  media.EncodeOptions
	logger      *slog.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithTempDir sets the directory for the intermediate audio file.
func WithTempDir(dir string) Option {
	return func(c *Composer) {
		c.tempDir = dir
	}
}

// WithMaxTileSide downscales tiles whose side exceeds px. Zero disables it.
func WithMaxTileSide(px int) Option {
	return func(c *Composer) {
		if px >= 0 {
			c.maxTileSide = px
		}
	}
}

// WithTileCacheBytes bounds the memory spent on tiles kept between frames.
// Tiles beyond the budget are rebuilt from their source image each time they
// are displayed. Negative values are ignored.
func WithTileCacheBytes(n int64) Option {
	return func(c *Composer) {
		if n >= 0 {
			c.tileCache = n
		}
	}
}

// WithEncodeOptions sets the codecs and quality used for the output.
func WithEncodeOptions(opts media.EncodeOptions) Option {
	return func(c *Composer) {
		c.encodeOpts = opts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Composer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewComposer creates a Composer that decodes audio with fitter and encodes
// video with encoder.
func NewComposer(fitter audio.Fitter, encoder media.Encoder, opts ...Option) *Composer {
	c := &Composer{
		fitter:     fitter,
		encoder:    encoder,
		tempDir:    os.TempDir(),
		tileCache:  DefaultTileCacheBytes,
		encodeOpts: media.DefaultEncodeOptions(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose renders req into req.OutputPath.
//
// The audio is probed first, then the distinct images of the display
// sequence are decoded, cropped and tiled once each to validate them. Frames
// are streamed to the encoder; tiles outside the cache budget are rebuilt
// when displayed. The audio is fitted to
// req.Duration in a temporary file, and the frames are encoded into a
// temporary file beside the output that is renamed into place on success.
// Both temporary files are removed before Compose returns; a failed call
// leaves nothing at req.OutputPath.
func (c *Composer) Compose(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	logger := c.logger.With(slog.String("output", req.OutputPath))

	if _, err := c.fitter.Duration(ctx, req.AudioPath); err != nil {
		return nil, fmt.Errorf("%w: audio %s: %w", ErrMediaDecode, req.AudioPath, err)
	}

	plan, err := NewPlan(len(req.Images), req.FrameRate, req.Duration)
	if err != nil {
		return nil, err
	}

	frames, err := newTileFrames(req.Images, plan, c.maxTileSide, c.tileCache)
	if err != nil {
		return nil, err
	}
	side := frames.side

	logger.Debug("mosaic planned",
		slog.Int("images", len(req.Images)),
		slog.Int("frames", plan.FrameCount),
		slog.Int("side", side),
		slog.Int("cached_tiles", frames.Cached()),
		slog.Float64("frame_rate", req.FrameRate),
		slog.Float64("duration", req.Duration),
	)

	audioPath, err := c.fitAudio(ctx, req)
	if audioPath != "" {
		defer func() { _ = os.Remove(audioPath) }()
	}
	if err != nil {
		return nil, err
	}

	video := media.RawVideo{
		Width:     2 * side,
		Height:    2 * side,
		FrameRate: req.FrameRate,
		Duration:  req.Duration,
		Frames:    frames,
	}
	if err := c.encode(ctx, video, audioPath, req.OutputPath); err != nil {
		return nil, err
	}

	logger.Info("mosaic composed",
		slog.Int("frames", plan.FrameCount),
		slog.Int("width", video.Width),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &Result{
		OutputPath: req.OutputPath,
		FrameCount: plan.FrameCount,
		Sequence:   plan.Sequence,
		SideLen:    side,
		Width:      video.Width,
		Height:     video.Height,
		FrameRate:  req.FrameRate,
		Duration:   req.Duration,
	}, nil
}

// fitAudio writes the audio fitted to req.Duration into a new temporary file.
// The returned path is non-empty whenever a file was created, even on error.
func (c *Composer) fitAudio(ctx context.Context, req Request) (string, error) {
	if err := os.MkdirAll(c.tempDir, 0750); err != nil {
		return "", fmt.Errorf("%w: create temp dir: %w", ErrMediaProcessing, err)
	}
	f, err := os.CreateTemp(c.tempDir, "mosaic-audio-*.m4a")
	if err != nil {
		return "", fmt.Errorf("%w: create temp audio: %w", ErrMediaProcessing, err)
	}
	path := f.Name()
	_ = f.Close()

	if err := c.fitter.Fit(ctx, req.AudioPath, path, req.Duration); err != nil {
		return path, fmt.Errorf("%w: fit audio %s: %w", ErrMediaDecode, req.AudioPath, err)
	}
	return path, nil
}

// encode writes the clip to a sibling temporary file and renames it onto output.
func (c *Composer) encode(ctx context.Context, video media.RawVideo, audioPath, output string) error {
	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("%w: create output dir: %w", ErrMediaProcessing, err)
	}

	base := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	f, err := os.CreateTemp(dir, "."+base+".partial-*"+filepath.Ext(output))
	if err != nil {
		return fmt.Errorf("%w: create temp output: %w", ErrMediaProcessing, err)
	}
	tmp := f.Name()
	_ = f.Close()

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp)
		}
	}()

	if err := c.encoder.EncodeVideo(ctx, video, audioPath, tmp, c.encodeOpts); err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrMediaProcessing, output, err)
	}
	if err := os.Rename(tmp, output); err != nil {
		return fmt.Errorf("%w: finalize %s: %w", ErrMediaProcessing, output, err)
	}
	committed = true
	return nil
}
