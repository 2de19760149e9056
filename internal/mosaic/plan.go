package mosaic

import (
	"fmt"
	"math"
)

// Plan is the frame selection for one clip.
type Plan struct {
	// FrameCount is the number of frames in the clip.
	FrameCount int
	// Sequence maps every frame to the index of its source image.
	Sequence []int
}

// NewPlan computes the frame count for frameRate and duration and the cyclic
// display sequence over numImages source images.
func NewPlan(numImages int, frameRate, duration float64) (Plan, error) {
	if numImages <= 0 {
		return Plan{}, fmt.Errorf("%w: image sequence is empty", ErrInvalidInput)
	}
	if !positive(frameRate) || !positive(duration) {
		return Plan{}, fmt.Errorf("%w: frame rate and duration must be positive", ErrInvalidInput)
	}

	count := FrameCount(frameRate, duration)
	return Plan{
		FrameCount: count,
		Sequence:   Sequence(numImages, count),
	}, nil
}

// Distinct returns how many source images the plan actually displays.
func (p Plan) Distinct(numImages int) int {
	return min(numImages, p.FrameCount)
}

// FrameCount returns floor(frameRate*duration), never less than 1.
func FrameCount(frameRate, duration float64) int {
	n := int(math.Floor(frameRate * duration))
	if n < 1 {
		return 1
	}
	return n
}

// Sequence returns the source image index for each of frameCount frames.
// Frame i shows image i mod numImages, so short sequences loop and long
// ones are truncated.
func Sequence(numImages, frameCount int) []int {
	if numImages <= 0 || frameCount <= 0 {
		return nil
	}
	seq := make([]int, frameCount)
	for i := range seq {
		seq[i] = i % numImages
	}
	return seq
}

// FrameRateFromBPM converts beats per minute to frames per second, one frame
// swap per beat.
func FrameRateFromBPM(bpm float64) float64 {
	return bpm / 60
}
