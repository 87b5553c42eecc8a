// Package store persists video records. Every backend refuses to overwrite a
// record whose stored status is already terminal.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cuongbtq/vidshare/internal/domain"
)

// ErrDuplicateVideo is returned by Create when the id already exists
var ErrDuplicateVideo = errors.New("video already exists")

// VideoStore is the full record store used by the API and the worker
type VideoStore interface {
	Create(ctx context.Context, video *domain.Video) error
	Load(ctx context.Context, id string) (*domain.Video, error)
	Save(ctx context.Context, video *domain.Video) error
	UpdateDetails(ctx context.Context, video *domain.Video) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter VideoFilter) ([]domain.Video, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Video, error)
}

// VideoFilter narrows List. Results are ordered newest first and, when
// PageSize is set, hold up to PageSize+1 rows so callers can detect a next page.
type VideoFilter struct {
	OwnerID        string
	OrganizationID string
	Status         domain.Status
	PageSize       int
	Cursor         *VideoCursor

	// Shared, when set, keeps only videos another user may see
	Shared *SharedFilter
}

// SharedFilter matches videos of one organization that are shared or assigned
// to Viewer. OrganizationID is compared exactly, even when empty.
type SharedFilter struct {
	OrganizationID string
	Viewer         string
}

// VideoCursor is the keyset position of the last row of a page
type VideoCursor struct {
	CreatedAt time.Time
	VideoID   string
}

// prepareCreate fills the timestamps and defaults of a new record
func prepareCreate(video *domain.Video) {
	// document stores keep millisecond precision; keyset cursors must round-trip
	if video.CreatedAt.IsZero() {
		video.CreatedAt = time.Now().UTC()
	}
	video.CreatedAt = video.CreatedAt.Truncate(time.Millisecond)
	video.UpdatedAt = video.CreatedAt
	if video.Status == "" {
		video.Status = domain.StatusPending
	}
	if video.Sensitivity == "" {
		video.Sensitivity = domain.SensitivityUnknown
	}
}

// terminalStatuses lists the statuses a stored record can never leave
var terminalStatuses = []string{
	string(domain.StatusReady),
	string(domain.StatusFailed),
}
