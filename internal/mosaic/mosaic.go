// Package mosaic composes looping mosaic clips: an ordered image sequence is
// square-cropped, tiled into a 2x2 grid of four rotation variants, played at a
// fixed frame rate and muxed with an audio track fitted to the clip duration.
package mosaic

import (
	"errors"
	"fmt"
	"math"
)

// Error kinds returned by Compose. Every error from Compose wraps exactly one
// of these; the underlying cause stays reachable through errors.Is/As.
var (
	// ErrInvalidInput is returned for an empty image sequence, a non-positive
	// frame rate or duration, or frames whose dimensions differ.
	ErrInvalidInput = errors.New("mosaic: invalid input")
	// ErrMediaDecode is returned when a source image or the audio cannot be read or decoded.
	ErrMediaDecode = errors.New("mosaic: media decode failed")
	// ErrMediaProcessing is returned when cropping, compositing or encoding fails.
	ErrMediaProcessing = errors.New("mosaic: media processing failed")
)

// Request describes a single composition.
type Request struct {
	// Images is the ordered image sequence; slice order is display order.
	Images []string
	// AudioPath is the audio source attached to the clip.
	AudioPath string
	// FrameRate is the number of frames displayed per second.
	FrameRate float64
	// Duration is the clip length in seconds.
	Duration float64
	// OutputPath is where the encoded clip is written.
	OutputPath string
}

// Validate checks the request preconditions. Errors wrap ErrInvalidInput.
func (r Request) Validate() error {
	if len(r.Images) == 0 {
		return fmt.Errorf("%w: image sequence is empty", ErrInvalidInput)
	}
	if !positive(r.FrameRate) {
		return fmt.Errorf("%w: frame rate must be positive, got %v", ErrInvalidInput, r.FrameRate)
	}
	if !positive(r.Duration) {
		return fmt.Errorf("%w: duration must be positive, got %v", ErrInvalidInput, r.Duration)
	}
	if r.AudioPath == "" {
		return fmt.Errorf("%w: audio path is required", ErrInvalidInput)
	}
	if r.OutputPath == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalidInput)
	}
	return nil
}

// Result describes a composed clip.
type Result struct {
	// OutputPath is the path of the encoded clip.
	OutputPath string
	// FrameCount is the number of video frames in the clip.
	FrameCount int
	// Sequence holds the source image index of every frame.
	Sequence []int
	// SideLen is the side of one square tile in pixels.
	SideLen int
	// Width and Height are the dimensions of the composed frames.
	Width  int
	Height int
	// FrameRate is the frame rate the clip was encoded at.
	FrameRate float64
	// Duration is the clip length in seconds.
	Duration float64
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
