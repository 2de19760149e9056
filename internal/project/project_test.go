package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/beatmosaic/internal/job"
)

func writeProject(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "project.toml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0600))
	return file
}

func TestLoad(t *testing.T) {
	file := writeProject(t, `
images = ["a.jpg", "covers/b.png", "/abs/c.webp"]
output_dir = "out"
publish = true
key_prefix = "/clips/summer/"

[defaults]
bpm = 120
duration = 3

[[tracks]]
name = "intro"
audio = "audio/intro.mp3"

[[tracks]]
audio = "audio/drop.wav"
frame_rate = 12
duration = 4
`)
	dir := filepath.Dir(file)

	p, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "covers", "b.png"),
		"/abs/c.webp",
	}, p.Images)
	assert.Equal(t, filepath.Join(dir, "out"), p.OutputDir)
	assert.True(t, p.Publish)
	require.Len(t, p.Tracks, 2)
	assert.Equal(t, filepath.Join(dir, "audio", "intro.mp3"), p.Tracks[0].Audio)

	clips, err := p.Clips()
	require.NoError(t, err)
	require.Len(t, clips, 2)

	intro := clips[0]
	assert.Equal(t, 0, intro.Index)
	assert.Equal(t, "intro_bpm120.mp4", intro.Spec.OutputName())
	assert.InDelta(t, 2.0, intro.Request.FrameRate, 1e-9)
	assert.InDelta(t, 3.0, intro.Request.Duration, 1e-9)
	assert.Equal(t, filepath.Join(dir, "out", "intro_bpm120.mp4"), intro.Request.OutputPath)
	assert.Equal(t, p.Images, intro.Request.Images)
	assert.Equal(t, "clips/summer/intro_bpm120.mp4", intro.Key)

	drop := clips[1]
	assert.Equal(t, "drop", drop.Spec.Name)
	assert.InDelta(t, 12.0, drop.Request.FrameRate, 1e-9)
	assert.InDelta(t, 4.0, drop.Request.Duration, 1e-9)
	assert.Equal(t, filepath.Join(dir, "audio", "drop.wav"), drop.Request.AudioPath)
	assert.Equal(t, "clips/summer/drop_fps12.mp4", drop.Key)
}

func TestLoad_BuiltinDefaults(t *testing.T) {
	file := writeProject(t, `
images = ["a.jpg"]

[[tracks]]
audio = "beat.mp3"
`)

	p, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(file), p.OutputDir)

	clips, err := p.Clips()
	require.NoError(t, err)
	require.Len(t, clips, 1)
	assert.InDelta(t, job.DefaultBPM/60, clips[0].Request.FrameRate, 1e-9)
	assert.InDelta(t, job.DefaultDuration, clips[0].Request.Duration, 1e-9)
	assert.Equal(t, "beat_bpm240.mp4", filepath.Base(clips[0].Request.OutputPath))
	assert.Equal(t, "beat_bpm240.mp4", clips[0].Key)
}

func TestLoad_DefaultFrameRate(t *testing.T) {
	file := writeProject(t, `
images = ["a.jpg"]

[defaults]
frame_rate = 8

[[tracks]]
audio = "one.mp3"

[[tracks]]
audio = "two.mp3"
bpm = 60
`)

	p, err := Load(file)
	require.NoError(t, err)

	clips, err := p.Clips()
	require.NoError(t, err)
	assert.InDelta(t, 8.0, clips[0].Request.FrameRate, 1e-9)
	// A track rate replaces the default rate entirely.
	assert.InDelta(t, 1.0, clips[1].Request.FrameRate, 1e-9)
	assert.Equal(t, "two_bpm60.mp4", clips[1].Spec.OutputName())
}

func TestClips_DeduplicatesOutputNames(t *testing.T) {
	p := &Project{
		Images:    []string{"/a.jpg"},
		OutputDir: "/out",
		Tracks: []Track{
			{Name: "loop", Audio: "/x.mp3"},
			{Name: "loop", Audio: "/y.mp3"},
		},
	}

	clips, err := p.Clips()
	require.NoError(t, err)
	assert.Equal(t, "/out/loop_bpm240.mp4", clips[0].Request.OutputPath)
	assert.Equal(t, "/out/loop_bpm240-1.mp4", clips[1].Request.OutputPath)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"malformed", `images = [`, ErrInvalidProject},
		{"unknown key", "images = [\"a.jpg\"]\ncolour = \"red\"\n[[tracks]]\naudio = \"a.mp3\"", ErrUnknownKey},
		{"no images", "[[tracks]]\naudio = \"a.mp3\"", ErrInvalidProject},
		{"empty image", "images = [\" \"]\n[[tracks]]\naudio = \"a.mp3\"", ErrInvalidProject},
		{"no tracks", `images = ["a.jpg"]`, ErrInvalidProject},
		{"no audio", "images = [\"a.jpg\"]\n[[tracks]]\nname = \"x\"", ErrInvalidProject},
		{"both rates", "images = [\"a.jpg\"]\n[[tracks]]\naudio = \"a.mp3\"\nbpm = 60\nframe_rate = 2", job.ErrInvalidTrack},
		{"both default rates", "images = [\"a.jpg\"]\n[defaults]\nbpm = 60\nframe_rate = 2\n[[tracks]]\naudio = \"a.mp3\"", ErrInvalidProject},
		{"negative duration", "images = [\"a.jpg\"]\n[[tracks]]\naudio = \"a.mp3\"\nduration = -2", job.ErrInvalidTrack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeProject(t, tt.content))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
