package domain

import (
	"fmt"
	"time"
)

// Video is one uploaded asset and its processing record.
type Video struct {
	ID             string      `db:"id" bson:"_id" json:"id"`
	Title          string      `db:"title" bson:"title" json:"title"`
	Description    string      `db:"description" bson:"description" json:"description"`
	Filename       string      `db:"filename" bson:"filename" json:"filename"`
	OriginalName   string      `db:"original_name" bson:"originalName" json:"original_name"`
	Path           string      `db:"path" bson:"path" json:"-"`
	Size           int64       `db:"size" bson:"size" json:"size"`
	MimeType       string      `db:"mime_type" bson:"mimeType" json:"mime_type"`
	OwnerID        string      `db:"owner_id" bson:"uploadedBy" json:"owner_id"`
	OrganizationID string      `db:"organization_id" bson:"organizationId" json:"organization_id"`
	Status         Status      `db:"status" bson:"status" json:"status"`
	Sensitivity    Sensitivity `db:"sensitivity" bson:"sensitivity" json:"sensitivity"`
	IsShared       bool        `db:"is_shared" bson:"isShared" json:"is_shared"`
	AllowedViewers Viewers     `db:"allowed_viewers" bson:"allowedViewers" json:"allowed_viewers"`
	CreatedAt      time.Time   `db:"created_at" bson:"createdAt" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" bson:"updatedAt" json:"updated_at"`
}

// SameOrganization reports whether the caller's organization owns the video.
// Videos and callers without an organization only match each other.
func (v *Video) SameOrganization(orgID string) bool {
	return v.OrganizationID == orgID
}

// VisibleTo reports whether a caller other than the owner may see the video:
// it must be in their organization and either shared or assigned to them.
func (v *Video) VisibleTo(orgID, email string) bool {
	if !v.SameOrganization(orgID) {
		return false
	}
	return v.IsShared || v.AllowedViewers.Contains(email)
}

// Transition moves the video to the given status if the state machine allows it.
func (v *Video) Transition(to Status) error {
	if !CanTransition(v.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, v.Status, to)
	}
	v.Status = to
	return nil
}
