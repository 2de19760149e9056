// Package server provides the HTTP server for the beatmosaic API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// SourceRequest is an input file given inline or by URL. Exactly one of the
// fields must be set.
type SourceRequest struct {
	// Base64 is the base64-encoded file content, optionally as a data URI.
	Base64 string `json:"base64,omitempty" validate:"required_without=URL,excluded_with=URL"`
	// URL is an http(s) URL the file is downloaded from.
	URL string `json:"url,omitempty" validate:"omitempty,http_url"`
}

// TrackRequest describes one clip to compose.
type TrackRequest struct {
	// Name labels the clip and its output file.
	Name string `json:"name,omitempty" validate:"omitempty,max=128"`
	// Audio is the track's audio file.
	Audio SourceRequest `json:"audio"`
	// BPM sets one image per beat. Mutually exclusive with FrameRate.
	BPM float64 `json:"bpm,omitempty" validate:"omitempty,gt=0,lte=6000,excluded_with=FrameRate"`
	// FrameRate sets the images per second directly.
	FrameRate float64 `json:"frame_rate,omitempty" validate:"omitempty,gt=0,lte=120"`
	// Duration is the clip length in seconds.
	Duration float64 `json:"duration,omitempty" validate:"omitempty,gt=0,lte=600"`
}

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	// Images is the shared image sequence, in display order.
	Images []SourceRequest `json:"images" validate:"required,min=1,max=1000,dive"`
	// Tracks lists one clip per audio track.
	Tracks []TrackRequest `json:"tracks" validate:"required,min=1,max=64,dive"`
	// PushToS3 indicates whether to upload the clips to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// TrackResponse describes one clip of a job.
type TrackResponse struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	BPM        float64 `json:"bpm,omitempty"`
	FrameRate  float64 `json:"frame_rate"`
	Duration   float64 `json:"duration"`
	OutputName string  `json:"output_name"`
	FrameCount int     `json:"frame_count,omitempty"`
	// VideoURL is the published URL of the clip (if push_to_s3=true and completed).
	VideoURL string `json:"video_url,omitempty"`
	// DownloadURL is the API path serving the local clip.
	DownloadURL string `json:"download_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of finished tracks (0-100).
	Progress int `json:"progress"`
	// Error contains any error message if the job failed.
	Error      string          `json:"error,omitempty"`
	ImageCount int             `json:"image_count"`
	PushToS3   bool            `json:"push_to_s3"`
	Tracks     []TrackResponse `json:"tracks"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// JobListResponse is the HTTP response for listing jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
