package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started", slog.String("worker_name", workerName))

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg := <-w.jobsChan:
			w.logger.Info("Worker received video",
				slog.String("worker_name", workerName),
				slog.String("video_id", msg.VideoID),
			)

			w.execute(ctx, workerName, msg)
		}
	}
}

// execute runs one message inside a recover boundary and settles it afterwards
func (w *Worker) execute(ctx context.Context, workerName string, msg *JobMessage) {
	runCtx, cancel := context.WithCancel(ctx)
	run := &activeRun{cancel: cancel}
	w.track(msg.VideoID, run)

	defer func() {
		w.untrack(msg.VideoID, run)
		cancel()
		w.ack(workerName, msg)
		msg.finish()
	}()

	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("Run panicked",
				slog.String("worker_name", workerName),
				slog.String("video_id", msg.VideoID),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	w.runner.Run(runCtx, msg.VideoID)
}

func (w *Worker) track(videoID string, run *activeRun) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running[videoID] = append(w.running[videoID], run)
}

func (w *Worker) untrack(videoID string, run *activeRun) {
	w.mu.Lock()
	defer w.mu.Unlock()
	runs := w.running[videoID]
	for i, r := range runs {
		if r == run {
			runs = append(runs[:i], runs[i+1:]...)
			break
		}
	}
	if len(runs) == 0 {
		delete(w.running, videoID)
		return
	}
	w.running[videoID] = runs
}

// ack settles a queue message. The outcome of the run already lives in the
// store, so every finished run is acknowledged.
func (w *Worker) ack(workerName string, msg *JobMessage) {
	if msg.acknowledger == nil {
		return
	}

	if err := msg.acknowledger.Ack(msg.DeliveryTag, false); err != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("worker_name", workerName),
			slog.String("video_id", msg.VideoID),
			slog.Any("error", err),
		)
	}
}
