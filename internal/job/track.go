package job

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/maauso/beatmosaic/internal/mosaic"
)

// ErrInvalidTrack is returned when a track's name, rate or duration is unusable.
var ErrInvalidTrack = errors.New("invalid track")

// Rate is how fast a track swaps images: either frames per second given
// directly, or beats per minute with one image per beat.
type Rate struct {
	FPS float64
	BPM float64
}

// FrameRate resolves the rate to frames per second.
func (r Rate) FrameRate() (float64, error) {
	switch {
	case r.FPS != 0 && r.BPM != 0:
		return 0, fmt.Errorf("%w: set either bpm or frame_rate, not both", ErrInvalidTrack)
	case r.FPS != 0:
		if !finitePositive(r.FPS) {
			return 0, fmt.Errorf("%w: frame_rate must be positive, got %v", ErrInvalidTrack, r.FPS)
		}
		return r.FPS, nil
	case r.BPM != 0:
		if !finitePositive(r.BPM) {
			return 0, fmt.Errorf("%w: bpm must be positive, got %v", ErrInvalidTrack, r.BPM)
		}
		return mosaic.FrameRateFromBPM(r.BPM), nil
	default:
		return 0, fmt.Errorf("%w: bpm or frame_rate is required", ErrInvalidTrack)
	}
}

// IsZero reports whether neither field is set.
func (r Rate) IsZero() bool {
	return r.FPS == 0 && r.BPM == 0
}

// TrackSpec is a validated track request.
type TrackSpec struct {
	Name      string
	Rate      Rate
	FrameRate float64
	Duration  float64
}

// NewTrackSpec validates name, rate and duration and resolves the frame rate.
func NewTrackSpec(name string, rate Rate, duration float64) (TrackSpec, error) {
	clean := SanitizeName(name)
	if clean == "" {
		return TrackSpec{}, fmt.Errorf("%w: name is required", ErrInvalidTrack)
	}
	fps, err := rate.FrameRate()
	if err != nil {
		return TrackSpec{}, err
	}
	if !finitePositive(duration) {
		return TrackSpec{}, fmt.Errorf("%w: duration must be positive, got %v", ErrInvalidTrack, duration)
	}
	return TrackSpec{Name: clean, Rate: rate, FrameRate: fps, Duration: duration}, nil
}

// OutputName returns the clip file name, "{name}_bpm{bpm}.mp4" for BPM
// tracks and "{name}_fps{fps}.mp4" for tracks with a direct frame rate.
func (s TrackSpec) OutputName() string {
	if s.Rate.BPM != 0 {
		return fmt.Sprintf("%s_bpm%s.mp4", s.Name, formatNumber(s.Rate.BPM))
	}
	return fmt.Sprintf("%s_fps%s.mp4", s.Name, formatNumber(s.FrameRate))
}

// Track returns the pending track record for index.
func (s TrackSpec) Track(index int) Track {
	return Track{
		Index:      index,
		Name:       s.Name,
		BPM:        s.Rate.BPM,
		FrameRate:  s.FrameRate,
		Duration:   s.Duration,
		OutputName: s.OutputName(),
		Status:     TrackStatusPending,
	}
}

// SanitizeName keeps letters, digits, dot, dash and underscore, replacing
// every other rune with an underscore.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), ".")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
