package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts a manual-ack consumer tagged with the worker id
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.queue.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started", slog.String("consumer_tag", w.workerID))
	return deliveries, nil
}

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches videos to the pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - worker stopping")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			videoID, err := parseVideoMessage(delivery.Body)
			if err != nil {
				w.logger.Error("Rejecting malformed message",
					slog.Any("error", err),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages go to the DLQ, never back on the queue
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message", slog.Any("error", nackErr))
				}
				continue
			}

			msg := &JobMessage{
				VideoID:      videoID,
				DeliveryTag:  delivery.DeliveryTag,
				acknowledger: delivery.Acknowledger,
			}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Video dispatched to worker pool",
					slog.String("video_id", videoID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-w.stopChan:
				w.requeue(delivery)
				return
			case <-ctx.Done():
				w.requeue(delivery)
				return
			}
		}
	}
}

func (w *Worker) requeue(delivery amqp.Delivery) {
	if err := delivery.Nack(false, true); err != nil {
		w.logger.Error("Failed to NACK message on shutdown", slog.Any("error", err))
	}
}

// parseVideoMessage extracts and validates the video id of a queue message
func parseVideoMessage(body []byte) (string, error) {
	var msg VideoMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if _, err := uuid.Parse(msg.VideoID); err != nil {
		return "", fmt.Errorf("%w: video_id %q is not a UUID", ErrInvalidPayload, msg.VideoID)
	}

	return msg.VideoID, nil
}
