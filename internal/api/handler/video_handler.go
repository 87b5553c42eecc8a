package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/vidshare/internal/api/dto"
	"github.com/cuongbtq/vidshare/internal/auth"
	"github.com/cuongbtq/vidshare/internal/domain"
	"github.com/cuongbtq/vidshare/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// multipartOverhead leaves room for form fields and boundaries around the file
	multipartOverhead = 1 << 20

	failSaveTimeout = 5 * time.Second
)

// UploadVideo handles POST /api/v1/videos
// Stores the file, records a pending video and dispatches exactly one run
func (h *VideoHandler) UploadVideo(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)
	}

	header, err := c.FormFile("video")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "video file is too large"})
			return
		}
		h.logger.Warn("Missing video file", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "video file is required"})
		return
	}

	if h.maxUploadSize > 0 && header.Size > h.maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "video file is too large"})
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "video/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only video files are allowed"})
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	videoID := uuid.NewString()
	filename := videoID + strings.ToLower(filepath.Ext(header.Filename))
	path := filepath.Join(h.uploadDir, filename)

	if err := h.saveFile(c, header, path); err != nil {
		h.logger.Error("Failed to store upload", slog.String("video_id", videoID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store video"})
		return
	}

	video := &domain.Video{
		ID:             videoID,
		Title:          title,
		Description:    strings.TrimSpace(c.PostForm("description")),
		Filename:       filename,
		OriginalName:   header.Filename,
		Path:           path,
		Size:           header.Size,
		MimeType:       mimeType,
		OwnerID:        identity.UserID,
		OrganizationID: identity.OrgID,
		Status:         domain.StatusPending,
	}

	ctx := c.Request.Context()
	if err := h.store.Create(ctx, video); err != nil {
		h.logger.Error("Failed to create video", slog.String("video_id", videoID), slog.Any("error", err))
		_ = os.Remove(path)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create video"})
		return
	}

	if err := h.dispatcher.Dispatch(ctx, videoID); err != nil {
		h.logger.Error("Failed to dispatch video", slog.String("video_id", videoID), slog.Any("error", err))
		h.markFailed(ctx, video)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "processing is unavailable, try again later"})
		return
	}

	h.logger.Info("Video uploaded",
		slog.String("video_id", videoID),
		slog.String("owner_id", identity.UserID),
		slog.Int64("size", header.Size),
	)

	c.JSON(http.StatusCreated, dto.VideoResponse{Video: dto.NewVideoDTO(video)})
}

func (h *VideoHandler) saveFile(c *gin.Context, header *multipart.FileHeader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return c.SaveUploadedFile(header, path)
}

// markFailed records an upload that could not be handed to the worker, so it
// does not sit in pending forever. The stored file is dropped with it.
func (h *VideoHandler) markFailed(ctx context.Context, video *domain.Video) {
	if err := video.Transition(domain.StatusFailed); err != nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failSaveTimeout)
	defer cancel()

	if err := h.store.Save(saveCtx, video); err != nil {
		h.logger.Error("Failed to mark video as failed",
			slog.String("video_id", video.ID),
			slog.Any("error", err),
		)
	}

	h.removeFiles(video)
}

// removeFiles deletes the current file of a video and any upload left under
// the upload dir
func (h *VideoHandler) removeFiles(video *domain.Video) {
	paths := []string{video.Path}
	if uploads, err := filepath.Glob(filepath.Join(h.uploadDir, video.ID+".*")); err == nil {
		paths = append(paths, uploads...)
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("Failed to remove video file",
				slog.String("video_id", video.ID),
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
	}
}

// GetVideo handles GET /api/v1/videos/:video_id
// Visible to the owner, and within the organization when shared or assigned
func (h *VideoHandler) GetVideo(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	video, ok := h.loadVideo(c)
	if !ok {
		return
	}

	if !canView(identity, video) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	c.JSON(http.StatusOK, dto.VideoResponse{Video: dto.NewVideoDTO(video)})
}

// ListVideos handles GET /api/v1/videos
// Lists the caller's videos newest first with cursor pagination
func (h *VideoHandler) ListVideos(c *gin.Context) {
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

	var status domain.Status
	if req.Status != "" {
		parsed, err := domain.ParseStatus(req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
			return
		}
		status = parsed
	}

	h.listPage(c, req, store.VideoFilter{
		OwnerID: identity.UserID,
		Status:  status,
	})
}

// listPage decodes the cursor, runs the filter and writes one page
func (h *VideoHandler) listPage(c *gin.Context, req dto.ListVideosRequest, filter store.VideoFilter) {
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeVideoCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}

	filter.PageSize = req.PageSize
	filter.Cursor = cursor

	videos, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list videos", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list videos"})
		return
	}

	hasMore := len(videos) > req.PageSize
	if hasMore {
		videos = videos[:req.PageSize]
	}

	response := dto.ListVideosResponse{Videos: make([]dto.VideoDTO, len(videos))}
	for i := range videos {
		response.Videos[i] = dto.NewVideoDTO(&videos[i])
	}

	if hasMore {
		last := videos[len(videos)-1]
		response.NextCursor = EncodeVideoCursor(&store.VideoCursor{
			CreatedAt: last.CreatedAt,
			VideoID:   last.ID,
		})
	}

	c.JSON(http.StatusOK, response)
}

// CancelVideo handles POST /api/v1/videos/:video_id/cancel
// Aborts the in-flight run; the pipeline records the video as failed
func (h *VideoHandler) CancelVideo(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	video, ok := h.loadVideo(c)
	if !ok {
		return
	}

	if video.OwnerID != identity.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the owner can cancel processing"})
		return
	}

	if video.Status.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "video is no longer processing",
			"status": video.Status,
		})
		return
	}

	if !h.dispatcher.Cancel(video.ID) {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "video is not being processed",
			"status": video.Status,
		})
		return
	}

	h.logger.Info("Video processing canceled", slog.String("video_id", video.ID))
	c.JSON(http.StatusAccepted, gin.H{
		"video_id": video.ID,
		"message":  "cancellation requested",
	})
}

// loadVideo validates the path id and loads the record, writing the error response itself
func (h *VideoHandler) loadVideo(c *gin.Context) (*domain.Video, bool) {
	videoID := c.Param("video_id")
	if _, err := uuid.Parse(videoID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "video_id must be a valid UUID"})
		return nil, false
	}

	video, err := h.store.Load(c.Request.Context(), videoID)
	if err != nil {
		if errors.Is(err, domain.ErrVideoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
			return nil, false
		}
		h.logger.Error("Failed to get video", slog.String("video_id", videoID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get video"})
		return nil, false
	}

	return video, true
}

func canView(identity auth.Identity, video *domain.Video) bool {
	if canManage(identity, video) {
		return true
	}
	return video.VisibleTo(identity.OrgID, identity.Email)
}

// canManage allows the owner and admins of the video's organization
func canManage(identity auth.Identity, video *domain.Video) bool {
	if video.OwnerID == identity.UserID {
		return true
	}
	return identity.Role == auth.RoleAdmin && identity.OrgID != "" && video.SameOrganization(identity.OrgID)
}
