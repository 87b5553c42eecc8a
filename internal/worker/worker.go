package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/vidshare/internal/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Runner processes one video; it reports outcomes itself
type Runner interface {
	Run(ctx context.Context, videoID string)
}

// Queue is the RabbitMQ side of dispatch
type Queue interface {
	PublishJSON(ctx context.Context, v any) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// PendingLister finds videos left pending by a previous process
type PendingLister interface {
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Video, error)
}

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	Runner          Runner
	Queue           Queue // nil dispatches straight into the pool
	Store           PendingLister
	Concurrency     int
	QueueSize       int
	EnqueueTimeout  time.Duration
	ShutdownTimeout time.Duration
	ResumePending   bool
}

// Worker is the supervised pool that executes pipeline runs
type Worker struct {
	logger          *slog.Logger
	runner          Runner
	queue           Queue
	store           PendingLister
	workerID        string
	concurrency     int
	enqueueTimeout  time.Duration
	shutdownTimeout time.Duration
	resumePending   bool

	jobsChan chan *JobMessage
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	// a video can have more than one run when it is dispatched twice
	running map[string][]*activeRun
	started bool
	stopped bool
	cancel  context.CancelFunc
}

// activeRun is the cancel handle of one in-flight run
type activeRun struct {
	cancel context.CancelFunc
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}

	return &Worker{
		logger:          cfg.Logger,
		runner:          cfg.Runner,
		queue:           cfg.Queue,
		store:           cfg.Store,
		workerID:        "worker-" + uuid.NewString()[:8],
		concurrency:     concurrency,
		enqueueTimeout:  cfg.EnqueueTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		resumePending:   cfg.ResumePending,
		jobsChan:        make(chan *JobMessage, queueSize),
		stopChan:        make(chan struct{}),
		running:         make(map[string][]*activeRun),
	}
}

// Start spawns the pool and, in queue mode, the consumer. It returns once
// everything is running.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Bool("queue_mode", w.queue != nil),
	)

	w.spawnWorkerPool(ctx)

	if w.queue != nil {
		deliveries, err := w.setupConsumer()
		if err != nil {
			return fmt.Errorf("failed to start consumer: %w", err)
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.startMessageDispatcher(ctx, deliveries)
		}()
	}

	if w.resumePending && w.store != nil {
		go w.resumePendingVideos(ctx)
	}

	return nil
}

// Dispatch starts exactly one run for the video: published to the queue in
// queue mode, otherwise placed on the pool's channel
func (w *Worker) Dispatch(ctx context.Context, videoID string) error {
	if w.isStopped() {
		return ErrWorkerStopped
	}

	if w.queue != nil {
		if err := w.queue.PublishJSON(ctx, VideoMessage{VideoID: videoID}); err != nil {
			return fmt.Errorf("failed to publish video %s: %w", videoID, err)
		}
		return nil
	}

	return w.enqueue(ctx, &JobMessage{VideoID: videoID}, w.enqueueTimeout)
}

// Submit places the video directly on the pool and returns a channel closed
// when its run has finished
func (w *Worker) Submit(videoID string) (<-chan struct{}, error) {
	msg := &JobMessage{VideoID: videoID, done: make(chan struct{})}
	if err := w.enqueue(context.Background(), msg, w.enqueueTimeout); err != nil {
		return nil, err
	}
	return msg.done, nil
}

// enqueue waits up to timeout for a slot; zero waits until ctx ends or the worker stops
func (w *Worker) enqueue(ctx context.Context, msg *JobMessage, timeout time.Duration) error {
	if w.isStopped() {
		return ErrWorkerStopped
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case w.jobsChan <- msg:
		w.logger.Debug("Video queued", slog.String("video_id", msg.VideoID))
		return nil
	case <-w.stopChan:
		return ErrWorkerStopped
	case <-expired:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel aborts the in-flight run of a video; the pipeline records it as failed
func (w *Worker) Cancel(videoID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	runs := w.running[videoID]
	if len(runs) == 0 {
		return false
	}
	for _, run := range runs {
		run.cancel()
	}
	w.logger.Info("Run cancellation requested", slog.String("video_id", videoID))
	return true
}

// Stop gracefully stops the worker. In-flight runs get the shutdown timeout to
// finish before they are canceled.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel := w.cancel
	w.mu.Unlock()

	w.logger.Info("Stopping worker...")
	close(w.stopChan)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	var expired <-chan time.Time
	if w.shutdownTimeout > 0 {
		timer := time.NewTimer(w.shutdownTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-done:
	case <-expired:
		w.logger.Warn("Shutdown timeout exceeded, canceling in-flight runs")
		w.cancelAll()
		<-done
	}

	if cancel != nil {
		cancel()
	}

	w.drainQueued()
	w.logger.Info("Worker stopped")
}

func (w *Worker) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *Worker) cancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, runs := range w.running {
		for _, run := range runs {
			run.cancel()
		}
	}
}

// drainQueued releases Submit callers of runs that never started. Queue mode
// messages stay unacked and are redelivered by the broker.
func (w *Worker) drainQueued() {
	for {
		select {
		case msg := <-w.jobsChan:
			w.logger.Warn("Dropping queued video on shutdown", slog.String("video_id", msg.VideoID))
			msg.finish()
		default:
			return
		}
	}
}
