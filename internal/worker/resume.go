package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/vidshare/internal/domain"
)

// resumePendingVideos dispatches every video still pending at startup, so
// uploads accepted just before a restart are not stranded
func (w *Worker) resumePendingVideos(ctx context.Context) {
	videos, err := w.store.ListByStatus(ctx, domain.StatusPending, 0)
	if err != nil {
		w.logger.Error("Failed to list pending videos", slog.Any("error", err))
		return
	}

	if len(videos) == 0 {
		w.logger.Info("No pending videos to resume")
		return
	}

	resumed := 0
	for _, video := range videos {
		var err error
		if w.queue != nil {
			err = w.Dispatch(ctx, video.ID)
		} else {
			err = w.enqueue(ctx, &JobMessage{VideoID: video.ID}, 0)
		}
		if err != nil {
			w.logger.Warn("Stopped resuming pending videos",
				slog.String("video_id", video.ID),
				slog.Any("error", err),
			)
			break
		}
		resumed++
	}

	w.logger.Info("Resumed pending videos",
		slog.Int("resumed", resumed),
		slog.Int("found", len(videos)),
	)
}
