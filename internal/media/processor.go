// Package media provides video encoding and probing on top of ffmpeg.
package media

import "context"

// RawVideo is a sequence of tightly packed RGBA frames of equal size.
type RawVideo struct {
	Width     int
	Height    int
	FrameRate float64
	// Duration bounds the encoded output in seconds. Zero means unbounded.
	Duration float64
	Frames   FrameSource
}

// FrameSource yields the frames of a RawVideo in display order.
type FrameSource interface {
	// Len returns the number of frames.
	Len() int
	// Frame returns the RGBA bytes of frame i. The slice is only read until
	// the next call.
	Frame(i int) ([]byte, error)
}

// Frames is a FrameSource held in memory. Entries may share backing arrays
// when a frame repeats.
type Frames [][]byte

// Len returns the number of frames.
func (f Frames) Len() int { return len(f) }

// Frame returns frame i.
func (f Frames) Frame(i int) ([]byte, error) { return f[i], nil }

// VideoInfo holds stream metadata read back from an encoded file.
type VideoInfo struct {
	Width      int
	Height     int
	Frames     int
	Duration   float64
	VideoCodec string
	AudioCodec string
}

// Encoder defines the interface for turning raw frames into a video file.
type Encoder interface {
	// EncodeVideo encodes video at video.FrameRate and muxes the audio at
	// audioPath into output. An empty audioPath produces a silent video.
	EncodeVideo(ctx context.Context, video RawVideo, audioPath, output string, opts EncodeOptions) error

	// ProbeVideo reads dimensions, frame count, duration and codecs of a video file.
	ProbeVideo(ctx context.Context, path string) (VideoInfo, error)
}

// EncodeOptions selects codecs and quality for EncodeVideo.
type EncodeOptions struct {
	// Format is the container muxer, e.g. "mp4".
	Format       string
	VideoCodec   string
	Preset       string
	CRF          int
	PixelFormat  string
	AudioCodec   string
	AudioBitrate string
}

// DefaultEncodeOptions returns libx264/aac in an mp4 container.
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{
		Format:       "mp4",
		VideoCodec:   "libx264",
		Preset:       "fast",
		CRF:          23,
		PixelFormat:  "yuv420p",
		AudioCodec:   "aac",
		AudioBitrate: "128k",
	}
}

// withDefaults fills unset fields from DefaultEncodeOptions.
func (o EncodeOptions) withDefaults() EncodeOptions {
	d := DefaultEncodeOptions()
	if o.Format == "" {
		o.Format = d.Format
	}
	if o.VideoCodec == "" {
		o.VideoCodec = d.VideoCodec
	}
	if o.Preset == "" {
		o.Preset = d.Preset
	}
	if o.CRF <= 0 {
		o.CRF = d.CRF
	}
	if o.PixelFormat == "" {
		o.PixelFormat = d.PixelFormat
	}
	if o.AudioCodec == "" {
		o.AudioCodec = d.AudioCodec
	}
	if o.AudioBitrate == "" {
		o.AudioBitrate = d.AudioBitrate
	}
	return o
}
