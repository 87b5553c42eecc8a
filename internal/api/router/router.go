package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/vidshare/internal/api/handler"
	"github.com/cuongbtq/vidshare/internal/auth"
	"github.com/cuongbtq/vidshare/internal/metrics"
	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 3 * time.Second

// HealthCheck probes one backing service
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options carries the parts of the HTTP surface that live outside the handlers
type Options struct {
	Tokens         *auth.TokenService
	Notifier       http.Handler
	AllowedOrigins []string
	HealthChecks   []HealthCheck
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(metrics.Middleware())
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	// Health check endpoint
	r.GET("/health", healthHandler(opts.HealthChecks))

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if opts.Notifier != nil {
		// the websocket authenticates the upgrade request itself
		r.GET("/ws", gin.WrapH(opts.Notifier))
	}

	videoHandler := handler.NewVideoHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(auth.RequireAuth(opts.Tokens))
	{
		videos := v1.Group("/videos")
		{
			// POST /api/v1/videos - Upload a video and start processing
			videos.POST("", videoHandler.UploadVideo)

			// GET /api/v1/videos - List the caller's videos
			videos.GET("", videoHandler.ListVideos)

			// GET /api/v1/videos/:video_id - Get video details
			videos.GET("/:video_id", videoHandler.GetVideo)

			// PATCH /api/v1/videos/:video_id - Edit title and description
			videos.PATCH("/:video_id", videoHandler.UpdateVideo)

			// DELETE /api/v1/videos/:video_id - Delete the video and its files
			videos.DELETE("/:video_id", videoHandler.DeleteVideo)

			// POST /api/v1/videos/:video_id/cancel - Cancel processing
			videos.POST("/:video_id/cancel", videoHandler.CancelVideo)

			// PATCH /api/v1/videos/:video_id/share - Share with the organization
			videos.PATCH("/:video_id/share", videoHandler.ShareVideo)

			// PATCH /api/v1/videos/:video_id/assign - Grant one viewer access
			videos.PATCH("/:video_id/assign", videoHandler.AssignViewer)
		}

		// GET /api/v1/shared-videos - Videos shared with the caller
		v1.GET("/shared-videos", videoHandler.ListSharedVideos)
	}

	return r
}

func healthHandler(checks []HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		code := http.StatusOK
		status := "healthy"
		components := make(gin.H, len(checks))
		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				code = http.StatusServiceUnavailable
				status = "unhealthy"
				components[check.Name] = err.Error()
				continue
			}
			components[check.Name] = "ok"
		}

		c.JSON(code, gin.H{
			"status":     status,
			"service":    "vidshare-api",
			"components": components,
		})
	}
}
