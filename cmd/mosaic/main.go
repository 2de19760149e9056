// Package main provides the beatmosaic command line tool. It composes clips
// locally without the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/maauso/beatmosaic/internal/bootstrap"
	"github.com/maauso/beatmosaic/internal/config"
	"github.com/maauso/beatmosaic/internal/job"
	"github.com/maauso/beatmosaic/internal/mosaic"
	"github.com/maauso/beatmosaic/internal/project"
	"github.com/maauso/beatmosaic/internal/storage"
)

type composeCmd struct {
	Images    []string `arg:"-i,--image,required,separate" help:"image file; repeat in display order"`
	Audio     string   `arg:"-a,--audio,required" help:"audio file"`
	Name      string   `arg:"-n,--name" help:"clip name [default: audio file name]"`
	BPM       float64  `arg:"--bpm" help:"beats per minute, one image per beat [default: DEFAULT_BPM]"`
	FrameRate float64  `arg:"--fps" help:"images per second; excludes --bpm"`
	Duration  float64  `arg:"-d,--duration" help:"clip length in seconds [default: DEFAULT_DURATION]"`
	Output    string   `arg:"-o,--output" help:"output file [default: {name}_bpm{bpm}.mp4]"`
	Publish   string   `arg:"--publish" help:"upload the clip to S3 under this key" placeholder:"KEY"`
}

type projectCmd struct {
	File      string `arg:"-f,--file,required" help:"TOML project file"`
	Jobs      int    `arg:"-j,--jobs" help:"clips composed in parallel [default: MAX_CONCURRENT_TRACKS]"`
	NoPublish bool   `arg:"--no-publish" help:"skip publishing even if the project enables it"`
}

type publishCmd struct {
	Local string `arg:"positional,required" help:"local file"`
	Key   string `arg:"positional" help:"object key [default: file name]"`
}

type args struct {
	Compose *composeCmd `arg:"subcommand:compose" help:"compose one clip"`
	Project *projectCmd `arg:"subcommand:project" help:"compose every track of a project file"`
	Publish *publishCmd `arg:"subcommand:publish" help:"upload a file to the configured bucket"`
	Verbose bool        `arg:"-v,--verbose" help:"debug logging"`
}

func (args) Description() string {
	return "beatmosaic composes 2x2 image mosaics into beat-synced clips.\n"
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}

	if err := run(a); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(a args) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.Verbose {
		cfg.LogLevel = "debug"
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case a.Compose != nil:
		return runCompose(ctx, cfg, logger, a.Compose)
	case a.Project != nil:
		return runProject(ctx, cfg, logger, a.Project)
	case a.Publish != nil:
		return runPublish(ctx, cfg, logger, a.Publish)
	}
	return nil
}

func runCompose(ctx context.Context, cfg *config.Config, logger *slog.Logger, c *composeCmd) error {
	name := c.Name
	if name == "" {
		base := filepath.Base(c.Audio)
		name = base[:len(base)-len(filepath.Ext(base))]
	}
	rate := job.Rate{FPS: c.FrameRate, BPM: c.BPM}
	if rate.IsZero() {
		rate.BPM = cfg.DefaultBPM
	}
	duration := c.Duration
	if duration == 0 {
		duration = cfg.DefaultDuration
	}
	spec, err := job.NewTrackSpec(name, rate, duration)
	if err != nil {
		return err
	}

	output := c.Output
	if output == "" {
		output = spec.OutputName()
	}

	res, err := bootstrap.NewComposer(cfg, logger).Compose(ctx, mosaic.Request{
		Images:     c.Images,
		AudioPath:  c.Audio,
		FrameRate:  spec.FrameRate,
		Duration:   spec.Duration,
		OutputPath: output,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s (%d frames, %dx%d)\n", res.OutputPath, res.FrameCount, res.Width, res.Height)

	if c.Publish == "" {
		return nil
	}
	store, err := bootstrap.NewStorage(cfg, logger)
	if err != nil {
		return err
	}
	return publish(ctx, store, res.OutputPath, c.Publish)
}

func runProject(ctx context.Context, cfg *config.Config, logger *slog.Logger, c *projectCmd) error {
	proj, err := project.Load(c.File)
	if err != nil {
		return err
	}
	clips, err := proj.Clips()
	if err != nil {
		return err
	}

	var store storage.Storage
	if proj.Publish && !c.NoPublish {
		if store, err = bootstrap.NewStorage(cfg, logger); err != nil {
			return err
		}
	}

	jobs := c.Jobs
	if jobs <= 0 {
		jobs = cfg.MaxConcurrentTracks
	}
	composer := bootstrap.NewComposer(cfg, logger)

	logger.Info("composing project",
		slog.String("file", c.File),
		slog.Int("tracks", len(clips)),
		slog.Int("images", len(proj.Images)),
		slog.Int("parallel", jobs),
	)

	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(jobs)
	for _, clip := range clips {
		g.Go(func() error {
			if err := composeClip(ctx, composer, store, clip); err != nil {
				failed.Add(1)
				logger.Error("track failed",
					slog.Int("track", clip.Index),
					slog.String("name", clip.Spec.Name),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d tracks failed", n, len(clips))
	}
	return nil
}

func composeClip(ctx context.Context, composer *mosaic.Composer, store storage.Storage, clip project.Clip) error {
	res, err := composer.Compose(ctx, clip.Request)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%d frames)\n", res.OutputPath, res.FrameCount)
	if store == nil {
		return nil
	}
	return publish(ctx, store, res.OutputPath, clip.Key)
}

func runPublish(ctx context.Context, cfg *config.Config, logger *slog.Logger, c *publishCmd) error {
	key := c.Key
	if key == "" {
		key = filepath.Base(c.Local)
	}
	store, err := bootstrap.NewStorage(cfg, logger)
	if err != nil {
		return err
	}
	return publish(ctx, store, c.Local, key)
}

func publish(ctx context.Context, store storage.Storage, local, key string) error {
	url, err := store.Publish(ctx, local, key)
	if err != nil {
		return fmt.Errorf("publish %s: %w", local, err)
	}
	fmt.Println(url)
	return nil
}
