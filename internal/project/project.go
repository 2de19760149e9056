// Package project loads TOML project files describing a set of mosaic clips
// that share one image sequence.
//
// A project file looks like:
//
//	images = ["covers/a.jpg", "covers/b.png", "covers/c.webp"]
//	output_dir = "out"
//	publish = true
//	key_prefix = "clips/summer"
//
//	[defaults]
//	bpm = 240
//	duration = 2
//
//	[[tracks]]
//	name = "intro"
//	audio = "audio/intro.mp3"
//
//	[[tracks]]
//	audio = "audio/drop.wav"
//	frame_rate = 12
//	duration = 4
//
// Relative paths are resolved against the directory of the project file.
package project

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/maauso/beatmosaic/internal/job"
	"github.com/maauso/beatmosaic/internal/mosaic"
)

// Static errors for project validation.
var (
	// ErrInvalidProject is returned when a project file is malformed or incomplete.
	ErrInvalidProject = errors.New("project: invalid project")
	// ErrUnknownKey is returned for keys the project format does not define.
	ErrUnknownKey = errors.New("project: unknown key")
)

// Defaults apply to tracks that leave rate or duration unset.
type Defaults struct {
	BPM       float64 `toml:"bpm"`
	FrameRate float64 `toml:"frame_rate"`
	Duration  float64 `toml:"duration"`
}

// Track is one audio track of the project.
type Track struct {
	Name      string  `toml:"name"`
	Audio     string  `toml:"audio"`
	BPM       float64 `toml:"bpm"`
	FrameRate float64 `toml:"frame_rate"`
	Duration  float64 `toml:"duration"`
}

// Project is a parsed project file.
type Project struct {
	Images    []string `toml:"images"`
	OutputDir string   `toml:"output_dir"`
	Publish   bool     `toml:"publish"`
	KeyPrefix string   `toml:"key_prefix"`
	Defaults  Defaults `toml:"defaults"`
	Tracks    []Track  `toml:"tracks"`
}

// Clip is one resolved composition of a project.
type Clip struct {
	// Index is the position of the track in the project.
	Index int
	// Spec is the validated track.
	Spec job.TrackSpec
	// Request is ready to pass to mosaic.Composer.Compose.
	Request mosaic.Request
	// Key is the object key used when the project publishes.
	Key string
}

// Load reads, resolves and validates the project at file.
func Load(file string) (*Project, error) {
	var p Project
	md, err := toml.DecodeFile(file, &p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidProject, file, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w in %s: %s", ErrUnknownKey, file, strings.Join(keys, ", "))
	}

	p.resolve(filepath.Dir(file))
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// resolve makes relative paths absolute against base.
func (p *Project) resolve(base string) {
	abs := func(s string) string {
		if s == "" || filepath.IsAbs(s) {
			return s
		}
		return filepath.Join(base, s)
	}
	for i := range p.Images {
		p.Images[i] = abs(p.Images[i])
	}
	for i := range p.Tracks {
		p.Tracks[i].Audio = abs(p.Tracks[i].Audio)
	}
	if p.OutputDir == "" {
		p.OutputDir = base
	}
	p.OutputDir = abs(p.OutputDir)
}

// Validate checks the project and every track.
func (p *Project) Validate() error {
	if len(p.Images) == 0 {
		return fmt.Errorf("%w: at least one image is required", ErrInvalidProject)
	}
	for i, img := range p.Images {
		if strings.TrimSpace(img) == "" {
			return fmt.Errorf("%w: image %d is empty", ErrInvalidProject, i)
		}
	}
	if len(p.Tracks) == 0 {
		return fmt.Errorf("%w: at least one track is required", ErrInvalidProject)
	}
	if p.Defaults.BPM != 0 && p.Defaults.FrameRate != 0 {
		return fmt.Errorf("%w: defaults set both bpm and frame_rate", ErrInvalidProject)
	}
	for i, t := range p.Tracks {
		if strings.TrimSpace(t.Audio) == "" {
			return fmt.Errorf("%w: track %d has no audio", ErrInvalidProject, i)
		}
		if _, err := p.spec(i); err != nil {
			return fmt.Errorf("%w: track %d: %w", ErrInvalidProject, i, err)
		}
	}
	return nil
}

// Clips resolves every track into a composition request. Output names are
// made unique within the project.
func (p *Project) Clips() ([]Clip, error) {
	clips := make([]Clip, 0, len(p.Tracks))
	used := make(map[string]bool, len(p.Tracks))
	for i, t := range p.Tracks {
		spec, err := p.spec(i)
		if err != nil {
			return nil, fmt.Errorf("%w: track %d: %w", ErrInvalidProject, i, err)
		}

		name := spec.OutputName()
		if used[name] {
			ext := filepath.Ext(name)
			name = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), i, ext)
		}
		used[name] = true

		clips = append(clips, Clip{
			Index: i,
			Spec:  spec,
			Request: mosaic.Request{
				Images:     p.Images,
				AudioPath:  t.Audio,
				FrameRate:  spec.FrameRate,
				Duration:   spec.Duration,
				OutputPath: filepath.Join(p.OutputDir, name),
			},
			Key: path.Join(strings.Trim(p.KeyPrefix, "/"), name),
		})
	}
	return clips, nil
}

// spec applies the project defaults to track i.
func (p *Project) spec(i int) (job.TrackSpec, error) {
	t := p.Tracks[i]

	name := t.Name
	if name == "" {
		base := filepath.Base(t.Audio)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if job.SanitizeName(name) == "" {
		name = fmt.Sprintf("track_%02d", i)
	}

	rate := job.Rate{FPS: t.FrameRate, BPM: t.BPM}
	if rate.IsZero() {
		rate = job.Rate{FPS: p.Defaults.FrameRate, BPM: p.Defaults.BPM}
	}
	if rate.IsZero() {
		rate.BPM = job.DefaultBPM
	}

	duration := t.Duration
	if duration == 0 {
		duration = p.Defaults.Duration
	}
	if duration == 0 {
		duration = job.DefaultDuration
	}

	return job.NewTrackSpec(name, rate, duration)
}
