package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/vidshare/internal/api/dto"
	"github.com/cuongbtq/vidshare/internal/auth"
	"github.com/cuongbtq/vidshare/internal/domain"
	"github.com/cuongbtq/vidshare/internal/store"
	"github.com/gin-gonic/gin"
)

// UpdateVideo handles PATCH /api/v1/videos/:video_id
// Edits title and description
func (h *VideoHandler) UpdateVideo(c *gin.Context) {
	var req dto.UpdateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid update request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	video, ok := h.loadManaged(c)
	if !ok {
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title cannot be empty"})
			return
		}
		video.Title = title
	}
	if req.Description != nil {
		video.Description = strings.TrimSpace(*req.Description)
	}

	if !h.updateDetails(c, video) {
		return
	}

	h.logger.Info("Video updated", slog.String("video_id", video.ID), slog.String("title", video.Title))
	c.JSON(http.StatusOK, dto.VideoResponse{Video: dto.NewVideoDTO(video)})
}

// ShareVideo handles PATCH /api/v1/videos/:video_id/share
// Makes the video visible to the whole organization, or private again
func (h *VideoHandler) ShareVideo(c *gin.Context) {
	var req dto.ShareVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_shared must be a boolean"})
		return
	}

	video, ok := h.loadManaged(c)
	if !ok {
		return
	}

	video.IsShared = *req.IsShared
	if !h.updateDetails(c, video) {
		return
	}

	h.logger.Info("Video share status updated",
		slog.String("video_id", video.ID),
		slog.Bool("is_shared", video.IsShared),
	)
	c.JSON(http.StatusOK, dto.VideoResponse{Video: dto.NewVideoDTO(video)})
}

// AssignViewer handles PATCH /api/v1/videos/:video_id/assign
// Grants one organization member access by email. Assigning twice is a no-op.
func (h *VideoHandler) AssignViewer(c *gin.Context) {
	var req dto.AssignViewerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Valid email is required"})
		return
	}

	email, err := domain.NormalizeViewer(req.Email)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Valid email is required"})
		return
	}

	video, ok := h.loadManaged(c)
	if !ok {
		return
	}

	viewers, added := video.AllowedViewers.Add(email)
	if added {
		video.AllowedViewers = viewers
		if !h.updateDetails(c, video) {
			return
		}
		h.logger.Info("Viewer assigned", slog.String("video_id", video.ID), slog.String("viewer", email))
	}

	c.JSON(http.StatusOK, dto.VideoResponse{Video: dto.NewVideoDTO(video)})
}

// ListSharedVideos handles GET /api/v1/shared-videos
// Lists organization videos that are shared or assigned to the caller
func (h *VideoHandler) ListSharedVideos(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req dto.ListVideosRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	h.listPage(c, req, store.VideoFilter{
		Shared: &store.SharedFilter{
			OrganizationID: identity.OrgID,
			Viewer:         identity.Email,
		},
	})
}

// DeleteVideo handles DELETE /api/v1/videos/:video_id
// Stops any run, then removes the record and its files
func (h *VideoHandler) DeleteVideo(c *gin.Context) {
	video, ok := h.loadManaged(c)
	if !ok {
		return
	}

	if !video.Status.IsTerminal() && h.dispatcher.Cancel(video.ID) {
		h.logger.Info("Canceled run of deleted video", slog.String("video_id", video.ID))
	}

	if err := h.store.Delete(c.Request.Context(), video.ID); err != nil {
		if errors.Is(err, domain.ErrVideoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
			return
		}
		h.logger.Error("Failed to delete video", slog.String("video_id", video.ID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete video"})
		return
	}

	h.removeFiles(video)

	h.logger.Info("Video deleted", slog.String("video_id", video.ID), slog.String("title", video.Title))
	c.Status(http.StatusNoContent)
}

// loadManaged loads a video the caller may change, writing the error response itself
func (h *VideoHandler) loadManaged(c *gin.Context) (*domain.Video, bool) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}

	video, ok := h.loadVideo(c)
	if !ok {
		return nil, false
	}

	if !canManage(identity, video) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized"})
		return nil, false
	}
	return video, true
}

func (h *VideoHandler) updateDetails(c *gin.Context, video *domain.Video) bool {
	if err := h.store.UpdateDetails(c.Request.Context(), video); err != nil {
		if errors.Is(err, domain.ErrVideoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
			return false
		}
		h.logger.Error("Failed to update video", slog.String("video_id", video.ID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update video"})
		return false
	}
	return true
}
