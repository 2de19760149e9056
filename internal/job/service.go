package job

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/beatmosaic/internal/fetch"
	"github.com/maauso/beatmosaic/internal/mosaic"
	"github.com/maauso/beatmosaic/internal/storage"
)

// Defaults applied to tracks that leave rate or duration unset.
const (
	DefaultBPM      = 240.0
	DefaultDuration = 2.0
)

// Static errors for job input validation and lookups.
var (
	// ErrNoImages is returned when a job has no images.
	ErrNoImages = errors.New("at least one image is required")
	// ErrNoTracks is returned when a job has no tracks.
	ErrNoTracks = errors.New("at least one track is required")
	// ErrInvalidSource is returned when a source sets neither or both of base64 and url.
	ErrInvalidSource = errors.New("source must set exactly one of base64 or url")
	// ErrTrackNotFound is returned for a track index outside the job.
	ErrTrackNotFound = errors.New("track not found")
	// ErrVideoNotReady is returned when a track has no local clip.
	ErrVideoNotReady = errors.New("video not ready")
	// ErrJobNotTerminal is returned when deleting the videos of a job that is still processing.
	ErrJobNotTerminal = errors.New("job is still processing")
)

// Composer renders one mosaic clip.
type Composer interface {
	Compose(ctx context.Context, req mosaic.Request) (*mosaic.Result, error)
}

// Source is an input file given inline as base64 or by URL.
type Source struct {
	Base64 string
	URL    string
}

func (s Source) validate() error {
	if (s.Base64 == "") == (s.URL == "") {
		return ErrInvalidSource
	}
	return nil
}

// TrackInput describes one requested clip.
type TrackInput struct {
	// Name labels the clip; defaults to the audio file name for URL sources.
	Name  string
	Audio Source
	// BPM and FrameRate are mutually exclusive. Both zero selects the default BPM.
	BPM       float64
	FrameRate float64
	// Duration is the clip length in seconds. Zero selects the default.
	Duration float64
}

// ComposeInput contains the input parameters for a composition job.
type ComposeInput struct {
	// Images is the shared image sequence, in display order.
	Images []Source
	// Tracks lists one clip per audio track.
	Tracks []TrackInput
	// PushToS3 publishes every finished clip.
	PushToS3 bool
}

// ComposeService orchestrates composition jobs: it materialises the inputs
// into a per-job workspace, composes every track with bounded parallelism,
// publishes the clips when asked and keeps the job record up to date.
type ComposeService struct {
	repo       Repository
	composer   Composer
	storage    storage.Storage
	downloader fetch.Downloader
	logger     *slog.Logger

	// maxConcurrentTracks limits how many clips are composed at once.
	maxConcurrentTracks int
	defaultBPM          float64
	defaultDuration     float64
	keyPrefix           string

	// saveMu orders snapshot writes from concurrent track workers.
	saveMu sync.Mutex
}

// ServiceOption configures a ComposeService.
type ServiceOption func(*ComposeService)

// WithMaxConcurrentTracks sets how many tracks are composed in parallel.
// Non-positive values are ignored.
func WithMaxConcurrentTracks(n int) ServiceOption {
	return func(s *ComposeService) {
		if n > 0 {
			s.maxConcurrentTracks = n
		}
	}
}

// WithDefaults sets the BPM and duration used when a track leaves them unset.
// Non-positive values are ignored.
func WithDefaults(bpm, duration float64) ServiceOption {
	return func(s *ComposeService) {
		if finitePositive(bpm) {
			s.defaultBPM = bpm
		}
		if finitePositive(duration) {
			s.defaultDuration = duration
		}
	}
}

// WithKeyPrefix sets the object key prefix for published clips.
func WithKeyPrefix(prefix string) ServiceOption {
	return func(s *ComposeService) {
		s.keyPrefix = strings.Trim(prefix, "/")
	}
}

// WithDownloader sets the client used for URL sources.
func WithDownloader(d fetch.Downloader) ServiceOption {
	return func(s *ComposeService) {
		if d != nil {
			s.downloader = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *ComposeService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewComposeService creates a new ComposeService.
func NewComposeService(repo Repository, composer Composer, store storage.Storage, opts ...ServiceOption) *ComposeService {
	s := &ComposeService{
		repo:                repo,
		composer:            composer,
		storage:             store,
		downloader:          fetch.NewClient(),
		logger:              slog.Default(),
		maxConcurrentTracks: 2,
		defaultBPM:          DefaultBPM,
		defaultDuration:     DefaultDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob validates input, creates a job with one pending track per
// requested clip and persists it in IN_QUEUE status.
func (s *ComposeService) CreateJob(ctx context.Context, input ComposeInput) (*Job, error) {
	tracks, err := s.resolveTracks(input)
	if err != nil {
		return nil, err
	}

	job := New()
	job.ImageCount = len(input.Images)
	job.PushToS3 = input.PushToS3
	job.SetTracks(tracks)

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.Int("images", len(input.Images)),
		slog.Int("tracks", len(tracks)),
		slog.Bool("push_to_s3", input.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return job, nil
}

// resolveTracks validates the input and builds the pending tracks.
func (s *ComposeService) resolveTracks(input ComposeInput) ([]Track, error) {
	if len(input.Images) == 0 {
		return nil, ErrNoImages
	}
	if len(input.Tracks) == 0 {
		return nil, ErrNoTracks
	}
	for i, src := range input.Images {
		if err := src.validate(); err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
	}

	tracks := make([]Track, 0, len(input.Tracks))
	used := make(map[string]bool, len(input.Tracks))
	for i, in := range input.Tracks {
		if err := in.Audio.validate(); err != nil {
			return nil, fmt.Errorf("track %d audio: %w", i, err)
		}
		spec, err := s.resolveSpec(i, in)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", i, err)
		}

		t := spec.Track(i)
		if used[t.OutputName] {
			ext := filepath.Ext(t.OutputName)
			t.OutputName = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(t.OutputName, ext), i, ext)
		}
		used[t.OutputName] = true
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// resolveSpec applies the service defaults and validates one track.
func (s *ComposeService) resolveSpec(index int, in TrackInput) (TrackSpec, error) {
	name := in.Name
	if name == "" && in.Audio.URL != "" {
		if u, err := url.Parse(in.Audio.URL); err == nil {
			base := path.Base(u.Path)
			name = strings.TrimSuffix(base, path.Ext(base))
		}
	}
	if SanitizeName(name) == "" {
		name = fmt.Sprintf("track_%02d", index)
	}

	rate := Rate{FPS: in.FrameRate, BPM: in.BPM}
	if rate.IsZero() {
		rate.BPM = s.defaultBPM
	}
	duration := in.Duration
	if duration == 0 {
		duration = s.defaultDuration
	}
	return NewTrackSpec(name, rate, duration)
}

// GetJob retrieves a job by ID.
func (s *ComposeService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, newest first.
func (s *ComposeService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Process creates a job and runs it to completion.
func (s *ComposeService) Process(ctx context.Context, input ComposeInput) (*Job, error) {
	job, err := s.CreateJob(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.ProcessExistingJob(ctx, job.ID, input)
}

// ProcessExistingJob runs a job created by CreateJob. input must be the
// input the job was created from.
//
// The workflow:
//  1. Mark the job RUNNING and create its workspace
//  2. Materialise images and audio (base64 or URL) into local files
//  3. Compose each track, at most maxConcurrentTracks at a time
//  4. Publish finished clips when PushToS3 is set
//  5. Remove the inputs, keep the clips
//  6. Mark the job COMPLETED, FAILED (any track failed) or CANCELLED
func (s *ComposeService) ProcessExistingJob(ctx context.Context, jobID string, input ComposeInput) (*Job, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if len(input.Tracks) != len(job.Tracks) {
		return nil, fmt.Errorf("%w: job %s has %d tracks, input has %d", ErrInvalidTrack, jobID, len(job.Tracks), len(input.Tracks))
	}

	logger := s.logger.With(slog.String("job_id", jobID))
	start := time.Now()

	if err := job.Start(); err != nil {
		return nil, fmt.Errorf("start job %s: %w", jobID, err)
	}
	s.persist(ctx, job)

	ws, err := s.storage.Workspace(ctx, jobID)
	if err != nil {
		return s.abort(ctx, job, fmt.Sprintf("create workspace: %v", err)), nil
	}
	job.mu.Lock()
	job.Workspace = ws
	job.mu.Unlock()

	images, audios, inputs, err := s.materialize(ctx, ws, input)
	defer func() {
		if err := s.storage.CleanupTemp(context.WithoutCancel(ctx), inputs); err != nil {
			logger.Warn("failed to clean up inputs", slog.String("error", err.Error()))
		}
	}()
	if err != nil {
		return s.abort(ctx, job, fmt.Sprintf("prepare inputs: %v", err)), nil
	}

	var g errgroup.Group
	g.SetLimit(s.maxConcurrentTracks)
	for i := range job.Tracks {
		g.Go(func() error {
			s.processTrack(ctx, logger, job, i, images, audios[i], ws)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return s.cancel(ctx, job), nil
	}

	if failed := job.FailedTracks(); failed > 0 {
		logger.Warn("job finished with failed tracks",
			slog.Int("failed", failed),
			slog.Int("tracks", len(job.Tracks)),
			slog.Duration("elapsed", time.Since(start)),
		)
		return s.fail(ctx, job, fmt.Sprintf("%d of %d tracks failed", failed, len(job.Tracks))), nil
	}

	if err := job.Complete(); err != nil {
		logger.Error("failed to complete job", slog.String("error", err.Error()))
	}
	s.persist(ctx, job)
	logger.Info("job completed",
		slog.Int("tracks", len(job.Tracks)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return job.Clone(), nil
}

// processTrack composes and optionally publishes one track. Failures are
// recorded on the track; they never abort the other tracks.
func (s *ComposeService) processTrack(ctx context.Context, logger *slog.Logger, job *Job, index int, images []string, audioPath, ws string) {
	t, _ := job.Track(index)
	output := filepath.Join(ws, t.OutputName)
	logger = logger.With(slog.Int("track", index), slog.String("name", t.Name))

	job.UpdateTrack(index, func(t *Track) {
		t.Status = TrackStatusProcessing
		t.AudioPath = audioPath
		t.StartedAt = time.Now()
	})
	s.persist(ctx, job)

	res, err := s.composer.Compose(ctx, mosaic.Request{
		Images:     images,
		AudioPath:  audioPath,
		FrameRate:  t.FrameRate,
		Duration:   t.Duration,
		OutputPath: output,
	})
	if err != nil {
		logger.Error("track failed", slog.String("error", err.Error()))
		s.finishTrack(ctx, job, index, func(t *Track) {
			t.Status = TrackStatusFailed
			t.Error = err.Error()
		})
		return
	}

	var videoURL string
	if job.PushToS3 {
		key := path.Join(s.keyPrefix, job.ID, t.OutputName)
		videoURL, err = s.storage.Publish(ctx, res.OutputPath, key)
		if err != nil {
			logger.Error("publish failed", slog.String("key", key), slog.String("error", err.Error()))
			s.finishTrack(ctx, job, index, func(t *Track) {
				t.Status = TrackStatusFailed
				t.FrameCount = res.FrameCount
				t.OutputPath = res.OutputPath
				t.Error = fmt.Sprintf("publish: %v", err)
			})
			return
		}
	}

	logger.Info("track completed",
		slog.Int("frames", res.FrameCount),
		slog.String("video_url", videoURL),
	)
	s.finishTrack(ctx, job, index, func(t *Track) {
		t.Status = TrackStatusCompleted
		t.FrameCount = res.FrameCount
		t.OutputPath = res.OutputPath
		t.VideoURL = videoURL
	})
}

func (s *ComposeService) finishTrack(ctx context.Context, job *Job, index int, fn func(*Track)) {
	job.UpdateTrack(index, func(t *Track) {
		fn(t)
		t.CompletedAt = time.Now()
	})
	s.persist(ctx, job)
}

// materialize writes every input to local disk. It returns the image paths,
// the audio path per track and every created path for cleanup.
func (s *ComposeService) materialize(ctx context.Context, ws string, input ComposeInput) ([]string, []string, []string, error) {
	images := make([]string, len(input.Images))
	audios := make([]string, len(input.Tracks))
	inputsDir := filepath.Join(ws, "inputs")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, src := range input.Images {
		g.Go(func() (err error) {
			images[i], err = s.materializeSource(gctx, inputsDir, fmt.Sprintf("image_%03d", i), src)
			return err
		})
	}
	for i, tr := range input.Tracks {
		g.Go(func() (err error) {
			audios[i], err = s.materializeSource(gctx, inputsDir, fmt.Sprintf("audio_%03d", i), tr.Audio)
			return err
		})
	}
	err := g.Wait()

	created := []string{inputsDir}
	for _, p := range append(append([]string{}, images...), audios...) {
		if p != "" && filepath.Dir(p) != inputsDir {
			created = append(created, p)
		}
	}
	return images, audios, created, err
}

// materializeSource decodes or downloads src. Base64 data goes through
// Storage.SaveTemp; URLs are downloaded into dir.
func (s *ComposeService) materializeSource(ctx context.Context, dir, name string, src Source) (string, error) {
	if src.URL != "" {
		dest := filepath.Join(dir, name+path.Ext(urlPath(src.URL)))
		if err := s.downloader.Download(ctx, src.URL, dest); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return dest, nil
	}

	data := src.Base64
	if i := strings.Index(data, ";base64,"); strings.HasPrefix(data, "data:") && i >= 0 {
		data = data[i+len(";base64,"):]
	}
	dec := base64.NewDecoder(base64.StdEncoding, strings.NewReader(data))
	p, err := s.storage.SaveTemp(ctx, name, dec)
	if err != nil {
		return "", fmt.Errorf("%s: decode base64: %w", name, err)
	}
	return p, nil
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}

// TrackVideo returns the track at index if its clip is available, either
// locally or as a published URL.
func (s *ComposeService) TrackVideo(ctx context.Context, jobID string, index int) (Track, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return Track{}, err
	}
	t, ok := job.Track(index)
	if !ok {
		return Track{}, ErrTrackNotFound
	}
	if t.Status != TrackStatusCompleted || (t.OutputPath == "" && t.VideoURL == "") {
		return Track{}, ErrVideoNotReady
	}
	return t, nil
}

// DeleteJobVideos removes the local clips and workspace of a finished job.
// Published objects are left in place.
func (s *ComposeService) DeleteJobVideos(ctx context.Context, jobID string) error {
	job, err := s.finishedJob(ctx, jobID)
	if err != nil {
		return err
	}
	n, err := s.removeOutputs(ctx, job)
	if err != nil {
		return err
	}

	job.ClearOutputs()
	if err := s.repo.Save(ctx, job); err != nil {
		return err
	}

	s.logger.Info("job videos deleted",
		slog.String("job_id", jobID),
		slog.Int("paths", n),
	)
	return nil
}

// DeleteJob removes a finished job together with its local clips and
// workspace. Published objects are left in place.
func (s *ComposeService) DeleteJob(ctx context.Context, jobID string) error {
	job, err := s.finishedJob(ctx, jobID)
	if err != nil {
		return err
	}
	if _, err := s.removeOutputs(ctx, job); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, jobID); err != nil {
		return err
	}

	s.logger.Info("job deleted", slog.String("job_id", jobID))
	return nil
}

func (s *ComposeService) finishedJob(ctx context.Context, jobID string) (*Job, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsTerminal() {
		return nil, ErrJobNotTerminal
	}
	return job, nil
}

// removeOutputs deletes the clips and workspace of job from local disk and
// returns how many paths were removed.
func (s *ComposeService) removeOutputs(ctx context.Context, job *Job) (int, error) {
	paths := job.OutputPaths()
	if job.Workspace != "" {
		paths = append(paths, job.Workspace)
	}
	if err := s.storage.CleanupTemp(ctx, paths); err != nil {
		return 0, fmt.Errorf("delete videos of job %s: %w", job.ID, err)
	}
	return len(paths), nil
}

// RecoverInterrupted marks jobs left IN_QUEUE or RUNNING by a previous
// process as FAILED and returns how many were updated. Their inputs are gone,
// so they cannot be resumed.
func (s *ComposeService) RecoverInterrupted(ctx context.Context) (int, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}

	n := 0
	for _, j := range jobs {
		if j.IsTerminal() {
			continue
		}
		if j.GetStatus() == StatusInQueue {
			if err := j.Start(); err != nil {
				return n, fmt.Errorf("recover job %s: %w", j.ID, err)
			}
		}
		for i, t := range j.Tracks {
			if !t.Status.IsFinished() {
				j.UpdateTrack(i, func(t *Track) {
					t.Status = TrackStatusFailed
					t.Error = "interrupted"
				})
			}
		}
		if err := j.Fail("interrupted by restart"); err != nil {
			return n, fmt.Errorf("recover job %s: %w", j.ID, err)
		}
		if err := s.repo.Save(ctx, j); err != nil {
			return n, err
		}
		n++
	}

	if n > 0 {
		s.logger.Warn("marked interrupted jobs as failed", slog.Int("jobs", n))
	}
	return n, nil
}

// persist saves a snapshot of job, logging failures. Processing carries on
// when the repository is unavailable; the final save reports the outcome.
func (s *ComposeService) persist(ctx context.Context, job *Job) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// abort ends the job as CANCELLED when ctx is done, FAILED otherwise.
func (s *ComposeService) abort(ctx context.Context, job *Job, msg string) *Job {
	if ctx.Err() != nil {
		return s.cancel(ctx, job)
	}
	return s.fail(ctx, job, msg)
}

func (s *ComposeService) fail(ctx context.Context, job *Job, msg string) *Job {
	if err := job.Fail(msg); err != nil {
		s.logger.Error("failed to mark job failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
	s.persist(ctx, job)
	return job.Clone()
}

func (s *ComposeService) cancel(ctx context.Context, job *Job) *Job {
	if err := job.Cancel(); err != nil {
		s.logger.Error("failed to mark job cancelled", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
	s.persist(ctx, job)
	return job.Clone()
}
