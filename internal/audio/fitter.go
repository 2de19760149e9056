// Package audio provides interfaces and implementations for audio processing.
package audio

import (
	"context"
	"errors"
)

// Static errors for audio operations.
var (
	// ErrUnreadableAudio is returned when the source is missing or cannot be decoded.
	ErrUnreadableAudio = errors.New("audio: unreadable source")
	// ErrNoAudioStream is returned when the source holds no audio stream.
	ErrNoAudioStream = errors.New("audio: no audio stream")
	// ErrInvalidDuration is returned when a fit duration is not positive.
	ErrInvalidDuration = errors.New("audio: duration must be positive")
)

// Fitter defines the interface for decoding audio and fitting it to a clip.
type Fitter interface {
	// Duration decodes the audio stream at path and returns its length in seconds.
	// Returns ErrUnreadableAudio when the file is missing or undecodable.
	Duration(ctx context.Context, path string) (float64, error)

	// Fit writes the audio of src to dst trimmed to exactly duration seconds.
	// A source shorter than duration is padded with trailing silence.
	// The container of dst is chosen from its extension.
	Fit(ctx context.Context, src, dst string, duration float64) error
}
