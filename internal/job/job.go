// Package job provides the Job aggregate for managing mosaic composition jobs.
// A job holds one shared image sequence and any number of tracks; every track
// is composed into its own clip. The package also defines the repository port
// and its implementations.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/beatmosaic/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting to be processed.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the job's tracks are being composed.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates every track finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates at least one track failed.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled before it finished.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// TrackStatus represents the status of a single track's clip.
type TrackStatus string

const (
	// TrackStatusPending indicates the track is waiting to be composed.
	TrackStatusPending TrackStatus = "PENDING"
	// TrackStatusProcessing indicates the clip is being composed.
	TrackStatusProcessing TrackStatus = "PROCESSING"
	// TrackStatusCompleted indicates the clip was written.
	TrackStatusCompleted TrackStatus = "COMPLETED"
	// TrackStatusFailed indicates composing or publishing the clip failed.
	TrackStatusFailed TrackStatus = "FAILED"
)

// IsFinished reports whether the track reached a final status.
func (s TrackStatus) IsFinished() bool {
	return s == TrackStatusCompleted || s == TrackStatusFailed
}

// Track is one audio track of a job and the clip composed for it.
type Track struct {
	// Index is the position of this track in the job.
	Index int `json:"index"`
	// Name is the sanitized track name used for the output file.
	Name string `json:"name"`
	// BPM is the beats per minute the frame rate was derived from, zero when
	// the frame rate was given directly.
	BPM float64 `json:"bpm,omitempty"`
	// FrameRate is the resolved frames per second.
	FrameRate float64 `json:"frame_rate"`
	// Duration is the clip length in seconds.
	Duration float64 `json:"duration"`
	// OutputName is the file name of the clip.
	OutputName string `json:"output_name"`
	// Status is the current processing status.
	Status TrackStatus `json:"status"`
	// AudioPath is the local path of the materialised audio input.
	AudioPath string `json:"audio_path,omitempty"`
	// FrameCount is the number of frames in the composed clip.
	FrameCount int `json:"frame_count,omitempty"`
	// OutputPath is the local path of the clip.
	OutputPath string `json:"output_path,omitempty"`
	// VideoURL is the published URL when the job pushes to S3.
	VideoURL string `json:"video_url,omitempty"`
	// Error contains any error message if processing failed.
	Error string `json:"error,omitempty"`
	// StartedAt is when composition started.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when composition finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Job represents a mosaic composition job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string `json:"id"`
	// Status is the current job state.
	Status Status `json:"status"`
	// Tracks holds one entry per requested clip, in request order.
	Tracks []Track `json:"tracks"`
	// ImageCount is the length of the shared image sequence.
	ImageCount int `json:"image_count"`
	// Progress is the percentage of finished tracks (0-100).
	Progress int `json:"progress"`
	// Error contains any error message if the job failed.
	Error string `json:"error,omitempty"`
	// PushToS3 indicates whether to publish the clips.
	PushToS3 bool `json:"push_to_s3"`
	// Workspace is the local directory holding the job's files.
	Workspace string `json:"workspace,omitempty"`
	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time `json:"updated_at"`
	// StartedAt is when processing started.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when processing finished.
	CompletedAt time.Time `json:"completed_at"`
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		Tracks:    make([]Track, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	// Set timestamps based on state
	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state with an error message.
// The message is only recorded when the transition succeeds.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetTracks replaces the job's tracks and resets progress.
func (j *Job) SetTracks(tracks []Track) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Tracks = tracks
	j.recomputeProgressLocked()
	j.UpdatedAt = time.Now()
}

// UpdateTrack applies fn to the track at index and recomputes progress.
// Out of range indexes are ignored.
func (j *Job) UpdateTrack(index int, fn func(*Track)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if index < 0 || index >= len(j.Tracks) {
		return
	}
	fn(&j.Tracks[index])
	j.recomputeProgressLocked()
	j.UpdatedAt = time.Now()
}

// Track returns a copy of the track at index.
func (j *Job) Track(index int) (Track, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if index < 0 || index >= len(j.Tracks) {
		return Track{}, false
	}
	return j.Tracks[index], true
}

func (j *Job) recomputeProgressLocked() {
	if len(j.Tracks) == 0 {
		j.Progress = 0
		return
	}
	finished := 0
	for _, t := range j.Tracks {
		if t.Status.IsFinished() {
			finished++
		}
	}
	j.Progress = finished * 100 / len(j.Tracks)
}

// FailedTracks returns how many tracks ended in TrackStatusFailed.
func (j *Job) FailedTracks() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	n := 0
	for _, t := range j.Tracks {
		if t.Status == TrackStatusFailed {
			n++
		}
	}
	return n
}

// OutputPaths returns the local clip paths of all tracks that have one.
func (j *Job) OutputPaths() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var paths []string
	for _, t := range j.Tracks {
		if t.OutputPath != "" {
			paths = append(paths, t.OutputPath)
		}
	}
	return paths
}

// ClearOutputs forgets the local clip paths and the workspace.
// Published URLs are kept; the objects are not owned by the job.
func (j *Job) ClearOutputs() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.Tracks {
		j.Tracks[i].OutputPath = ""
		j.Tracks[i].AudioPath = ""
	}
	j.Workspace = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	tracks := make([]Track, len(j.Tracks))
	copy(tracks, j.Tracks)

	return &Job{
		ID:          j.ID,
		Status:      j.Status,
		Tracks:      tracks,
		ImageCount:  j.ImageCount,
		Progress:    j.Progress,
		Error:       j.Error,
		PushToS3:    j.PushToS3,
		Workspace:   j.Workspace,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
