package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/vidshare/internal/store"
)

// Dispatcher hands uploaded videos to the processing worker
type Dispatcher interface {
	Dispatch(ctx context.Context, videoID string) error
	Cancel(videoID string) bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	Store         store.VideoStore
	Dispatcher    Dispatcher
	UploadDir     string
	MaxUploadSize int64
}

// VideoHandler handles video-related HTTP requests
type VideoHandler struct {
	logger        *slog.Logger
	store         store.VideoStore
	dispatcher    Dispatcher
	uploadDir     string
	maxUploadSize int64
}

// NewVideoHandler creates a new VideoHandler instance
func NewVideoHandler(deps *Dependencies) *VideoHandler {
	return &VideoHandler{
		logger:        deps.Logger,
		store:         deps.Store,
		dispatcher:    deps.Dispatcher,
		uploadDir:     deps.UploadDir,
		maxUploadSize: deps.MaxUploadSize,
	}
}
