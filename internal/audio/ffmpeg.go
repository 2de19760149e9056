package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
)

var (
	durationRe    = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)
	audioStreamRe = regexp.MustCompile(`Stream #\d+:\d+.*: Audio:`)
)

// FFmpegFitter implements Fitter using ffmpeg CLI.
type FFmpegFitter struct {
	ffmpegPath string
	codec      string
	bitrate    string
}

// FitterOption configures an FFmpegFitter.
type FitterOption func(*FFmpegFitter)

// WithCodec sets the audio codec and bitrate used by Fit.
func WithCodec(codec, bitrate string) FitterOption {
	return func(f *FFmpegFitter) {
		if codec != "" {
			f.codec = codec
		}
		if bitrate != "" {
			f.bitrate = bitrate
		}
	}
}

// NewFFmpegFitter creates a new FFmpegFitter.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
// Fit encodes AAC at 128k unless WithCodec says otherwise.
func NewFFmpegFitter(ffmpegPath string, opts ...FitterOption) *FFmpegFitter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	f := &FFmpegFitter{
		ffmpegPath: ffmpegPath,
		codec:      "aac",
		bitrate:    "128k",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Duration decodes the whole audio stream and returns its length in seconds.
func (f *FFmpegFitter) Duration(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnreadableAudio, err)
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-hide_banner",
		"-i", path,
		"-vn",
		"-f", "null", "-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg writes the input banner to stderr; a decode failure leaves a non-zero exit.
	runErr := cmd.Run()
	if ctx.Err() != nil {
		return 0, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	}

	output := stderr.String()
	if !audioStreamRe.MatchString(output) {
		if runErr != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrUnreadableAudio, path, runErr)
		}
		return 0, fmt.Errorf("%w: %s", ErrNoAudioStream, path)
	}
	if runErr != nil {
		return 0, fmt.Errorf("%w: %s: %w, stderr: %s", ErrUnreadableAudio, path, runErr, output)
	}

	duration, err := parseDuration(output)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnreadableAudio, err)
	}
	return duration, nil
}

// parseDuration extracts the "Duration: HH:MM:SS.ff" banner value in seconds.
func parseDuration(output string) (float64, error) {
	matches := durationRe.FindStringSubmatch(output)
	if len(matches) < 5 {
		return 0, fmt.Errorf("could not parse duration from ffmpeg output")
	}

	hours, _ := strconv.ParseFloat(matches[1], 64)
	minutes, _ := strconv.ParseFloat(matches[2], 64)
	seconds, _ := strconv.ParseFloat(matches[3], 64)
	frac, _ := strconv.ParseFloat(matches[4], 64)

	// Fraction precision varies between ffmpeg builds
	divisor := 1.0
	for i := 0; i < len(matches[4]); i++ {
		divisor *= 10
	}

	return hours*3600 + minutes*60 + seconds + frac/divisor, nil
}

// Fit trims or pads the first audio stream of src to duration seconds.
func (f *FFmpegFitter) Fit(ctx context.Context, src, dst string, duration float64) error {
	if duration <= 0 {
		return fmt.Errorf("%w: got %.3f", ErrInvalidDuration, duration)
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%w: %w", ErrUnreadableAudio, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	args := f.fitArgs(src, dst, duration)
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("%w: ffmpeg error: %w, stderr: %s", ErrUnreadableAudio, err, stderr.String())
	}

	return nil
}

// fitArgs builds the ffmpeg command line for Fit.
func (f *FFmpegFitter) fitArgs(src, dst string, duration float64) []string {
	return []string{
		"-y", // Overwrite output
		"-i", src,
		"-vn",
		"-map", "0:a:0",
		"-af", "apad", // Pad with silence; -t bounds the result
		"-t", strconv.FormatFloat(duration, 'f', -1, 64),
		"-c:a", f.codec,
		"-b:a", f.bitrate,
		dst,
	}
}

// Verify interface implementation at compile time.
var _ Fitter = (*FFmpegFitter)(nil)
