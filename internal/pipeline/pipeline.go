// Package pipeline drives one video from pending to a terminal status and
// reports each step to the owner's live sessions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/vidshare/internal/domain"
	"github.com/cuongbtq/vidshare/internal/metrics"
	"github.com/cuongbtq/vidshare/internal/notifier"
)

const defaultFailSaveTimeout = 10 * time.Second

// JobStore is the part of the record store a run needs
type JobStore interface {
	Load(ctx context.Context, id string) (*domain.Video, error)
	Save(ctx context.Context, video *domain.Video) error
}

// Publisher delivers status frames to a user's sessions
type Publisher interface {
	PublishStatus(userID string, update notifier.StatusUpdate) int
}

// ProgressFunc receives raw progress readings, nominally 0-100
type ProgressFunc func(reading float64)

// Analysis is what the analyzing step learns about the source
type Analysis struct {
	Duration time.Duration
}

// Artifact is the output of the processing step. An empty Path keeps the source.
type Artifact struct {
	Path     string
	Filename string
}

// Engine does the actual media work
type Engine interface {
	Analyze(ctx context.Context, video domain.Video) (Analysis, error)
	Transcode(ctx context.Context, video domain.Video, analysis Analysis, progress ProgressFunc) (Artifact, error)
}

// Config holds pipeline dependencies
type Config struct {
	Logger          *slog.Logger
	Store           JobStore
	Publisher       Publisher
	Engine          Engine
	Guard           RunGuard
	JobTimeout      time.Duration
	FailSaveTimeout time.Duration
}

// Pipeline runs videos through analysis and transcoding
type Pipeline struct {
	logger          *slog.Logger
	store           JobStore
	publisher       Publisher
	engine          Engine
	guard           RunGuard
	jobTimeout      time.Duration
	failSaveTimeout time.Duration
}

// New creates a pipeline
func New(cfg *Config) *Pipeline {
	guard := cfg.Guard
	if guard == nil {
		guard = NewMemoryGuard()
	}

	failSaveTimeout := cfg.FailSaveTimeout
	if failSaveTimeout <= 0 {
		failSaveTimeout = defaultFailSaveTimeout
	}

	return &Pipeline{
		logger:          cfg.Logger,
		store:           cfg.Store,
		publisher:       cfg.Publisher,
		engine:          cfg.Engine,
		guard:           guard,
		jobTimeout:      cfg.JobTimeout,
		failSaveTimeout: failSaveTimeout,
	}
}

// Run processes one video. Every outcome is reported through the store and
// the publisher; nothing is returned and panics do not escape.
func (p *Pipeline) Run(ctx context.Context, videoID string) {
	logger := p.logger.With(slog.String("video_id", videoID))

	release, acquired, err := p.guard.Acquire(ctx, videoID)
	if err != nil {
		logger.Error("Failed to acquire run guard", slog.Any("error", err))
		return
	}
	if !acquired {
		logger.Warn("Video is already being processed")
		return
	}
	defer release()

	video, err := p.store.Load(ctx, videoID)
	if err != nil {
		if errors.Is(err, domain.ErrVideoNotFound) {
			logger.Warn("Video not found, skipping")
			return
		}
		logger.Error("Failed to load video", slog.Any("error", err))
		return
	}

	if video.Status.IsTerminal() {
		logger.Info("Video already in terminal status", slog.String("status", video.Status.String()))
		return
	}

	logger = logger.With(slog.String("owner_id", video.OwnerID))

	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	start := time.Now()
	r := &run{p: p, video: video, logger: logger}
	final := r.execute(ctx)

	metrics.ObservePipelineRun(final.String(), time.Since(start))
	logger.Info("Video processing finished",
		slog.String("status", final.String()),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// run is the state of one execution
type run struct {
	p        *Pipeline
	video    *domain.Video
	logger   *slog.Logger
	progress progressTracker
}

func (r *run) execute(parent context.Context) (final domain.Status) {
	ctx := parent
	if r.p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, r.p.jobTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Video processing panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			final = r.fail(ctx, fmt.Errorf("panic: %v", rec))
		}
	}()

	if err := r.process(ctx); err != nil {
		return r.fail(ctx, err)
	}
	return domain.StatusReady
}

func (r *run) process(ctx context.Context) error {
	if err := r.advance(ctx, domain.StatusAnalyzing, 0); err != nil {
		return err
	}

	analysis, err := r.p.engine.Analyze(ctx, *r.video)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.logger.Info("Video analyzed", slog.Duration("duration", analysis.Duration))

	if err := r.advance(ctx, domain.StatusProcessing, 0); err != nil {
		return err
	}

	r.progress.begin()
	artifact, err := r.p.engine.Transcode(ctx, *r.video, analysis, r.onProgress)
	r.progress.end()
	if err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	prevPath, prevFilename := r.video.Path, r.video.Filename
	if artifact.Path != "" && artifact.Path != r.video.Path {
		r.video.Path = artifact.Path
		if artifact.Filename != "" {
			r.video.Filename = artifact.Filename
		}
	}

	if err := r.advance(ctx, domain.StatusReady, 100); err != nil {
		r.video.Path, r.video.Filename = prevPath, prevFilename
		return err
	}
	return nil
}

// advance persists the next status and only then announces it
func (r *run) advance(ctx context.Context, to domain.Status, percent int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prev := r.video.Status
	if err := r.video.Transition(to); err != nil {
		return err
	}

	if err := r.p.store.Save(ctx, r.video); err != nil {
		r.video.Status = prev
		return fmt.Errorf("persist %s: %w", to, err)
	}

	r.publish(to, percent)
	return nil
}

// onProgress turns a raw reading into a processing frame. Readings that would
// move the bar backwards are dropped.
func (r *run) onProgress(reading float64) {
	percent, ok := r.progress.next(ClampPercent(reading))
	if !ok {
		return
	}
	r.publish(domain.StatusProcessing, percent)
}

// fail records the failed status once. The write is detached from the run's
// cancellation so timeouts and shutdowns still land; if it does not succeed
// nothing is announced.
func (r *run) fail(ctx context.Context, cause error) domain.Status {
	r.progress.end()

	r.logger.Error("Video processing failed", slog.Any("error", cause))

	if err := r.video.Transition(domain.StatusFailed); err != nil {
		r.logger.Warn("Cannot mark video failed", slog.Any("error", err))
		return r.video.Status
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.p.failSaveTimeout)
	defer cancel()

	if err := r.p.store.Save(saveCtx, r.video); err != nil {
		r.logger.Error("Failed to persist failed status", slog.Any("error", err))
		return domain.StatusFailed
	}

	r.publish(domain.StatusFailed, 0)
	return domain.StatusFailed
}

func (r *run) publish(status domain.Status, percent int) {
	r.p.publisher.PublishStatus(r.video.OwnerID, notifier.StatusUpdate{
		VideoID: r.video.ID,
		Status:  status,
		Percent: percent,
	})
}
