package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrInvalidDimensions is returned when the provided dimensions are not positive.
	ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be positive")
	// ErrNoFrames is returned when a video has no frames to encode.
	ErrNoFrames = errors.New("no frames provided")
	// ErrInvalidFrameRate is returned when the frame rate is not positive.
	ErrInvalidFrameRate = errors.New("invalid frame rate: must be positive")
	// ErrInvalidDuration is returned when duration is negative.
	ErrInvalidDuration = errors.New("invalid duration: must not be negative")
	// ErrFrameSize is returned when a frame does not hold width*height RGBA pixels.
	ErrFrameSize = errors.New("frame size does not match dimensions")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoVideoStream is returned when a probed file has no video stream.
	ErrNoVideoStream = errors.New("no video stream found")
)

// FFmpegProcessor implements Encoder using the ffmpeg and ffprobe CLIs.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// Empty paths default to "ffmpeg" and "ffprobe" (found via PATH).
func NewFFmpegProcessor(ffmpegPath, ffprobePath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// EncodeVideo streams the raw frames to ffmpeg's stdin and encodes them,
// together with the optional audio track, into output.
func (p *FFmpegProcessor) EncodeVideo(ctx context.Context, video RawVideo, audioPath, output string, opts EncodeOptions) error {
	if err := video.validate(); err != nil {
		return err
	}
	args := encodeArgs(video, audioPath, output, opts.withDefaults())
	return p.runFFmpeg(ctx, args, &frameReader{src: video.Frames, size: video.Width * video.Height * 4})
}

// encodeArgs builds the ffmpeg command line for EncodeVideo.
func encodeArgs(video RawVideo, audioPath, output string, opts EncodeOptions) []string {
	rate := formatRate(video.FrameRate)

	args := []string{
		"-y",             // Overwrite output file without asking
		"-f", "rawvideo", // Raw frames on stdin
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", video.Width, video.Height),
		"-framerate", rate,
		"-i", "pipe:0",
	}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}

	args = append(args, "-map", "0:v:0")
	if audioPath != "" {
		args = append(args,
			"-map", "1:a:0",
			"-c:a", opts.AudioCodec,
			"-b:a", opts.AudioBitrate,
		)
	}

	args = append(args,
		"-c:v", opts.VideoCodec,
		"-preset", opts.Preset,
		"-crf", strconv.Itoa(opts.CRF),
		"-pix_fmt", opts.PixelFormat,
		"-r", rate,
	)
	if video.Duration > 0 {
		args = append(args, "-t", strconv.FormatFloat(video.Duration, 'f', -1, 64))
	}
	if opts.Format == "mp4" || opts.Format == "mov" {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-f", opts.Format, output)
	return args
}

// formatRate renders a frame rate for ffmpeg, e.g. 4, 2.5 or 0.333333.
func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64)
}

func (v RawVideo) validate() error {
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, v.Width, v.Height)
	}
	if v.FrameRate <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidFrameRate, v.FrameRate)
	}
	if v.Duration < 0 {
		return fmt.Errorf("%w: got %.2f", ErrInvalidDuration, v.Duration)
	}
	if v.Frames == nil || v.Frames.Len() == 0 {
		return ErrNoFrames
	}
	// Lazy sources are checked frame by frame while streaming.
	if frames, ok := v.Frames.(Frames); ok {
		want := v.Width * v.Height * 4
		for i, f := range frames {
			if len(f) != want {
				return fmt.Errorf("%w: frame %d has %d bytes, want %d", ErrFrameSize, i, len(f), want)
			}
		}
	}
	return nil
}

// frameReader streams the frames of src, fetching each one only when the
// previous frame has been consumed. size is the expected frame length; zero
// skips the check.
type frameReader struct {
	src  FrameSource
	size int
	idx  int
	cur  []byte
	off  int
}

func (r *frameReader) Read(p []byte) (int, error) {
	for r.idx < r.src.Len() {
		if r.cur == nil {
			f, err := r.src.Frame(r.idx)
			if err != nil {
				return 0, fmt.Errorf("frame %d: %w", r.idx, err)
			}
			if r.size > 0 && len(f) != r.size {
				return 0, fmt.Errorf("%w: frame %d has %d bytes, want %d", ErrFrameSize, r.idx, len(f), r.size)
			}
			r.cur = f
		}
		if r.off < len(r.cur) {
			n := copy(p, r.cur[r.off:])
			r.off += n
			return n, nil
		}
		r.idx++
		r.cur = nil
		r.off = 0
	}
	return 0, io.EOF
}

// ffprobeOutput is the subset of `ffprobe -print_format json` we read.
type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		NbFrames  string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeVideo reads stream metadata with ffprobe.
func (p *FFmpegProcessor) ProbeVideo(ctx context.Context, path string) (VideoInfo, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return VideoInfo{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return VideoInfo{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return parseProbeOutput(stdout.Bytes())
}

// parseProbeOutput converts ffprobe JSON into VideoInfo.
func parseProbeOutput(data []byte) (VideoInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return VideoInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var info VideoInfo
	hasVideo := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if hasVideo {
				continue
			}
			hasVideo = true
			info.Width = s.Width
			info.Height = s.Height
			info.VideoCodec = s.CodecName
			if n, err := strconv.Atoi(s.NbFrames); err == nil {
				info.Frames = n
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}
	if !hasVideo {
		return VideoInfo{}, ErrNoVideoStream
	}

	if d := strings.TrimSpace(out.Format.Duration); d != "" {
		duration, err := strconv.ParseFloat(d, 64)
		if err != nil {
			return VideoInfo{}, fmt.Errorf("parse duration: %w", err)
		}
		info.Duration = duration
	}

	return info, nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails. stdin may be nil.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string, stdin io.Reader) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	cmd.Stdin = stdin

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Verify interface implementation at compile time.
var _ Encoder = (*FFmpegProcessor)(nil)
