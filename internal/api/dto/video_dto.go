package dto

import (
	"time"

	"github.com/cuongbtq/vidshare/internal/domain"
)

type ListVideosRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// UpdateVideoRequest edits the metadata; absent fields are left unchanged
type UpdateVideoRequest struct {
	Title       *string `json:"title" binding:"omitempty,max=200"`
	Description *string `json:"description" binding:"omitempty,max=2000"`
}

type ShareVideoRequest struct {
	IsShared *bool `json:"is_shared" binding:"required"`
}

type AssignViewerRequest struct {
	Email string `json:"email" binding:"required"`
}

type ListVideosResponse struct {
	Videos     []VideoDTO `json:"videos"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type VideoResponse struct {
	Video VideoDTO `json:"video"`
}

type VideoDTO struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Filename       string   `json:"filename"`
	OriginalName   string   `json:"original_name"`
	Size           int64    `json:"size"`
	MimeType       string   `json:"mime_type"`
	OwnerID        string   `json:"owner_id"`
	OrganizationID string   `json:"organization_id,omitempty"`
	Status         string   `json:"status"`
	Sensitivity    string   `json:"sensitivity"`
	IsShared       bool     `json:"is_shared"`
	AllowedViewers []string `json:"allowed_viewers"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

// NewVideoDTO converts a stored video; the storage path never leaves the server
func NewVideoDTO(v *domain.Video) VideoDTO {
	viewers := []string(v.AllowedViewers)
	if viewers == nil {
		viewers = []string{}
	}

	return VideoDTO{
		ID:             v.ID,
		Title:          v.Title,
		Description:    v.Description,
		Filename:       v.Filename,
		OriginalName:   v.OriginalName,
		Size:           v.Size,
		MimeType:       v.MimeType,
		OwnerID:        v.OwnerID,
		OrganizationID: v.OrganizationID,
		Status:         v.Status.String(),
		Sensitivity:    string(v.Sensitivity),
		IsShared:       v.IsShared,
		AllowedViewers: viewers,
		CreatedAt:      v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      v.UpdatedAt.Format(time.RFC3339),
	}
}
