package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/beatmosaic/internal/job"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.ComposeService
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool

	// baseCtx parents background processing; cancelling it cancels running jobs.
	baseCtx    context.Context
	background sync.WaitGroup
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateJob only creates the job and returns immediately
// without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithBaseContext sets the context background jobs run under.
func WithBaseContext(ctx context.Context) HandlerOption {
	return func(h *Handlers) {
		if ctx != nil {
			h.baseCtx = ctx
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.ComposeService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
		baseCtx:            context.Background(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Wait blocks until every background job started by CreateJob has returned.
func (h *Handlers) Wait() {
	h.background.Wait()
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	input := toComposeInput(req)

	// Create job first (synchronously)
	createdJob, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		if isInputError(err) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	// Background jobs outlive the request but not the server.
	if h.enableAsyncProcess {
		jobID := createdJob.ID
		h.background.Go(func() {
			if _, err := h.service.ProcessExistingJob(h.baseCtx, jobID, input); err != nil {
				h.logger.Error("background processing failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		})
	}

	h.logger.Info("job created",
		slog.String("job_id", createdJob.ID),
		slog.Int("images", len(req.Images)),
		slog.Int("tracks", len(req.Tracks)),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	})
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, jobID, err)
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(foundJob))
}

// GetTrackVideo handles GET /jobs/{id}/tracks/{index}/video requests.
// The local clip is served when present; otherwise published clips redirect
// to their URL.
func (h *Handlers) GetTrackVideo(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "track index must be a non-negative integer", "INVALID_TRACK_INDEX")
		return
	}

	track, err := h.service.TrackVideo(r.Context(), jobID, index)
	if err != nil {
		h.writeServiceError(w, jobID, err)
		return
	}

	if track.OutputPath != "" {
		if _, err := os.Stat(track.OutputPath); err == nil {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", track.OutputName))
			w.Header().Set("Content-Type", "video/mp4")
			http.ServeFile(w, r, track.OutputPath)
			return
		}
		h.logger.Warn("local clip missing",
			slog.String("job_id", jobID),
			slog.String("path", track.OutputPath),
		)
	}

	if track.VideoURL != "" {
		http.Redirect(w, r, track.VideoURL, http.StatusFound)
		return
	}
	writeError(w, http.StatusNotFound, "video not available", "VIDEO_NOT_READY")
}

// DeleteJobVideos handles DELETE /jobs/{id}/videos requests.
func (h *Handlers) DeleteJobVideos(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := h.service.DeleteJobVideos(r.Context(), jobID); err != nil {
		h.writeServiceError(w, jobID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteJob handles DELETE /jobs/{id} requests.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		h.writeServiceError(w, jobID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps service errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, jobID string, err error) {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrTrackNotFound):
		writeError(w, http.StatusNotFound, "track not found", "TRACK_NOT_FOUND")
	case errors.Is(err, job.ErrVideoNotReady):
		writeError(w, http.StatusConflict, "video not ready", "VIDEO_NOT_READY")
	case errors.Is(err, job.ErrJobNotTerminal):
		writeError(w, http.StatusConflict, "job is still processing", "JOB_NOT_TERMINAL")
	default:
		h.logger.Error("job request failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error", "JOB_FETCH_FAILED")
	}
}

func isInputError(err error) bool {
	return errors.Is(err, job.ErrNoImages) ||
		errors.Is(err, job.ErrNoTracks) ||
		errors.Is(err, job.ErrInvalidSource) ||
		errors.Is(err, job.ErrInvalidTrack)
}

func toComposeInput(req CreateJobRequest) job.ComposeInput {
	input := job.ComposeInput{
		Images:   make([]job.Source, len(req.Images)),
		Tracks:   make([]job.TrackInput, len(req.Tracks)),
		PushToS3: req.PushToS3,
	}
	for i, img := range req.Images {
		input.Images[i] = job.Source{Base64: img.Base64, URL: img.URL}
	}
	for i, t := range req.Tracks {
		input.Tracks[i] = job.TrackInput{
			Name:      t.Name,
			Audio:     job.Source{Base64: t.Audio.Base64, URL: t.Audio.URL},
			BPM:       t.BPM,
			FrameRate: t.FrameRate,
			Duration:  t.Duration,
		}
	}
	return input
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:         j.ID,
		Status:     string(j.Status),
		Progress:   j.Progress,
		Error:      j.Error,
		ImageCount: j.ImageCount,
		PushToS3:   j.PushToS3,
		Tracks:     make([]TrackResponse, 0, len(j.Tracks)),
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	for _, t := range j.Tracks {
		tr := TrackResponse{
			Index:      t.Index,
			Name:       t.Name,
			Status:     string(t.Status),
			BPM:        t.BPM,
			FrameRate:  t.FrameRate,
			Duration:   t.Duration,
			OutputName: t.OutputName,
			FrameCount: t.FrameCount,
			VideoURL:   t.VideoURL,
			Error:      t.Error,
		}
		if t.Status == job.TrackStatusCompleted && t.OutputPath != "" {
			tr.DownloadURL = fmt.Sprintf("/jobs/%s/tracks/%d/video", j.ID, t.Index)
		}
		resp.Tracks = append(resp.Tracks, tr)
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
