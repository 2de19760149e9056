package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

// createTestAudio creates a sine tone using ffmpeg.
func createTestAudio(t *testing.T, path string, duration float64) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=440:duration=%.2f", duration),
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test audio: %v\noutput: %s", err, output)
	}
}

func TestNewFFmpegFitter(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		f := NewFFmpegFitter("")
		assert.Equal(t, "ffmpeg", f.ffmpegPath)
		assert.Equal(t, "aac", f.codec)
		assert.Equal(t, "128k", f.bitrate)
	})

	t.Run("custom path and codec", func(t *testing.T) {
		f := NewFFmpegFitter("/usr/local/bin/ffmpeg", WithCodec("libmp3lame", "192k"))
		assert.Equal(t, "/usr/local/bin/ffmpeg", f.ffmpegPath)
		assert.Equal(t, "libmp3lame", f.codec)
		assert.Equal(t, "192k", f.bitrate)
	})

	t.Run("empty codec keeps defaults", func(t *testing.T) {
		f := NewFFmpegFitter("", WithCodec("", ""))
		assert.Equal(t, "aac", f.codec)
		assert.Equal(t, "128k", f.bitrate)
	})
}

func TestFFmpegFitter_FitArgs(t *testing.T) {
	f := NewFFmpegFitter("", WithCodec("libopus", "96k"))

	line := strings.Join(f.fitArgs("in.wav", "out.m4a", 2.5), " ")
	assert.Equal(t, "-y -i in.wav -vn -map 0:a:0 -af apad -t 2.5 -c:a libopus -b:a 96k out.m4a", line)

	line = strings.Join(f.fitArgs("in.wav", "out.m4a", 0.0004), " ")
	assert.Contains(t, line, "-t 0.0004 ")
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    float64
		wantErr bool
	}{
		{
			name:   "two digit fraction",
			output: "  Duration: 00:00:05.12, start: 0.000000, bitrate: 705 kb/s",
			want:   5.12,
		},
		{
			name:   "hours and minutes",
			output: "Duration: 01:02:03.50, start",
			want:   3723.5,
		},
		{
			name:   "three digit fraction",
			output: "Duration: 00:00:01.005",
			want:   1.005,
		},
		{
			name:    "missing",
			output:  "Input #0, wav, from 'x.wav':",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDuration(tt.output)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestFFmpegFitter_Duration_MissingFile(t *testing.T) {
	f := NewFFmpegFitter("")
	_, err := f.Duration(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	assert.ErrorIs(t, err, ErrUnreadableAudio)
}

func TestFFmpegFitter_Fit_InvalidDuration(t *testing.T) {
	f := NewFFmpegFitter("")
	for _, d := range []float64{0, -1} {
		err := f.Fit(context.Background(), "in.wav", "out.m4a", d)
		assert.ErrorIs(t, err, ErrInvalidDuration)
	}
}

func TestFFmpegFitter_Duration(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "tone.wav")
	createTestAudio(t, path, 2)

	got, err := NewFFmpegFitter("").Duration(context.Background(), path)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, 0.05)
}

func TestFFmpegFitter_Duration_Garbage(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "garbage.mp3")
	require.NoError(t, os.WriteFile(path, []byte("definitely not audio"), 0600))

	_, err := NewFFmpegFitter("").Duration(context.Background(), path)
	assert.ErrorIs(t, err, ErrUnreadableAudio)
}

func TestFFmpegFitter_Duration_NoAudioStream(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "silent.mp4")
	cmd := exec.Command("ffmpeg", "-y", "-f", "lavfi", "-i", "color=c=blue:s=32x32:d=1", "-c:v", "libx264", path)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}

	_, err := NewFFmpegFitter("").Duration(context.Background(), path)
	assert.ErrorIs(t, err, ErrNoAudioStream)
}

func TestFFmpegFitter_Fit(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "tone.wav")
	createTestAudio(t, src, 3)
	f := NewFFmpegFitter("")
	ctx := context.Background()

	t.Run("trims longer source", func(t *testing.T) {
		dst := filepath.Join(dir, "trimmed.m4a")
		require.NoError(t, f.Fit(ctx, src, dst, 1.5))

		got, err := f.Duration(ctx, dst)
		require.NoError(t, err)
		assert.InDelta(t, 1.5, got, 0.1)
	})

	t.Run("pads shorter source", func(t *testing.T) {
		dst := filepath.Join(dir, "nested", "padded.m4a")
		require.NoError(t, f.Fit(ctx, src, dst, 5))

		got, err := f.Duration(ctx, dst)
		require.NoError(t, err)
		assert.InDelta(t, 5.0, got, 0.1)
	})

	t.Run("missing source", func(t *testing.T) {
		err := f.Fit(ctx, filepath.Join(dir, "missing.wav"), filepath.Join(dir, "x.m4a"), 1)
		assert.ErrorIs(t, err, ErrUnreadableAudio)
	})
}
