package worker

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrQueueFull is returned when no slot frees up within the enqueue timeout
	ErrQueueFull = errors.New("processing queue is full")

	// ErrWorkerStopped is returned once Stop has been called
	ErrWorkerStopped = errors.New("worker is stopped")

	// ErrInvalidPayload is returned for queue messages without a valid video id
	ErrInvalidPayload = errors.New("invalid video message payload")
)

// VideoMessage is the body published to the processing queue
type VideoMessage struct {
	VideoID string `json:"video_id"`
}

// JobMessage is one unit of work handed to the pool
type JobMessage struct {
	VideoID     string
	DeliveryTag uint64

	// acknowledger is set for messages that came from RabbitMQ
	acknowledger amqp.Acknowledger
	// done is closed after the run, for callers of Submit
	done chan struct{}
}

func (m *JobMessage) finish() {
	if m.done != nil {
		close(m.done)
	}
}
