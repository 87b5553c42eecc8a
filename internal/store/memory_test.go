package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/vidshare/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVideo(id, owner string, createdAt time.Time) *domain.Video {
	return &domain.Video{
		ID:        id,
		Title:     "clip " + id,
		Filename:  id + ".mp4",
		Path:      "/uploads/" + id + ".mp4",
		OwnerID:   owner,
		CreatedAt: createdAt,
	}
}

func TestMemory_CreateAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	video := newVideo("v1", "u1", time.Time{})
	require.NoError(t, s.Create(ctx, video))

	assert.Equal(t, domain.StatusPending, video.Status)
	assert.Equal(t, domain.SensitivityUnknown, video.Sensitivity)
	assert.False(t, video.CreatedAt.IsZero())

	loaded, err := s.Load(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "u1", loaded.OwnerID)

	// the returned record is a copy
	loaded.Status = domain.StatusReady
	again, err := s.Load(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, again.Status)

	err = s.Create(ctx, newVideo("v1", "u1", time.Time{}))
	assert.ErrorIs(t, err, ErrDuplicateVideo)
}

func TestMemory_LoadNotFound(t *testing.T) {
	_, err := NewMemory().Load(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)
}

func TestMemory_Save(t *testing.T) {
	tests := []struct {
		name    string
		path    []domain.Status
		wantErr error
	}{
		{
			name: "forward path to ready",
			path: []domain.Status{domain.StatusAnalyzing, domain.StatusProcessing, domain.StatusReady},
		},
		{
			name: "failure from processing",
			path: []domain.Status{domain.StatusAnalyzing, domain.StatusProcessing, domain.StatusFailed},
		},
		{
			name:    "backwards move is refused",
			path:    []domain.Status{domain.StatusProcessing, domain.StatusAnalyzing},
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "terminal record is never overwritten",
			path:    []domain.Status{domain.StatusReady, domain.StatusFailed},
			wantErr: domain.ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewMemory()
			require.NoError(t, s.Create(ctx, newVideo("v1", "u1", time.Time{})))

			var err error
			for _, status := range tt.path {
				video, loadErr := s.Load(ctx, "v1")
				require.NoError(t, loadErr)
				video.Status = status
				if err = s.Save(ctx, video); err != nil {
					break
				}
			}

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, append([]domain.Status{domain.StatusPending}, tt.path...), s.History("v1"))
			assert.Equal(t, len(tt.path), s.Saves())
		})
	}
}

func TestMemory_SaveOnlyWritesMutableFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Create(ctx, newVideo("v1", "u1", time.Time{})))

	video, err := s.Load(ctx, "v1")
	require.NoError(t, err)
	video.Status = domain.StatusAnalyzing
	video.Path = "/processed/v1.mp4"
	video.Title = "renamed"
	video.Sensitivity = domain.SensitivityFlagged
	require.NoError(t, s.Save(ctx, video))

	stored, err := s.Load(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "/processed/v1.mp4", stored.Path)
	assert.Equal(t, "clip v1", stored.Title)
	assert.Equal(t, domain.SensitivityUnknown, stored.Sensitivity)
}

func TestMemory_SaveHookAndMissing(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Create(ctx, newVideo("v1", "u1", time.Time{})))

	boom := errors.New("disk full")
	s.SaveHook = func(*domain.Video) error { return boom }

	video, err := s.Load(ctx, "v1")
	require.NoError(t, err)
	video.Status = domain.StatusAnalyzing
	assert.ErrorIs(t, s.Save(ctx, video), boom)
	assert.Equal(t, 0, s.Saves())

	err = s.Save(ctx, &domain.Video{ID: "missing", Status: domain.StatusFailed})
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)
}

func TestMemory_ListPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Create(ctx, newVideo(id, "u1", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, s.Create(ctx, newVideo("other", "u2", base)))

	page, err := s.List(ctx, VideoFilter{OwnerID: "u1", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3, "one extra row signals a next page")
	assert.Equal(t, "e", page[0].ID)
	assert.Equal(t, "d", page[1].ID)

	last := page[1]
	page, err = s.List(ctx, VideoFilter{
		OwnerID:  "u1",
		PageSize: 2,
		Cursor:   &VideoCursor{CreatedAt: last.CreatedAt, VideoID: last.ID},
	})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "c", page[0].ID)

	page, err = s.List(ctx, VideoFilter{OwnerID: "u1", Status: domain.StatusReady})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemory_ListByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, newVideo("late", "u1", base.Add(time.Hour))))
	require.NoError(t, s.Create(ctx, newVideo("early", "u1", base)))
	require.NoError(t, s.Create(ctx, newVideo("done", "u1", base)))

	done, err := s.Load(ctx, "done")
	require.NoError(t, err)
	done.Status = domain.StatusReady
	require.NoError(t, s.Save(ctx, done))

	pending, err := s.ListByStatus(ctx, domain.StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "early", pending[0].ID)
	assert.Equal(t, "late", pending[1].ID)

	pending, err = s.ListByStatus(ctx, domain.StatusPending, 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestMemory_UpdateDetails(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	video := newVideo("v1", "u1", time.Time{})
	require.NoError(t, s.Create(ctx, video))

	// a run moves the status while the owner edits the record
	running, err := s.Load(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, running.Transition(domain.StatusAnalyzing))
	require.NoError(t, s.Save(ctx, running))

	edit := *video
	edit.Title = "renamed"
	edit.Description = "new description"
	edit.IsShared = true
	edit.AllowedViewers = domain.Viewers{"ana@example.com"}
	edit.Status = domain.StatusPending
	require.NoError(t, s.UpdateDetails(ctx, &edit))

	loaded, err := s.Load(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", loaded.Title)
	assert.Equal(t, "new description", loaded.Description)
	assert.True(t, loaded.IsShared)
	assert.Equal(t, domain.Viewers{"ana@example.com"}, loaded.AllowedViewers)
	assert.Equal(t, domain.StatusAnalyzing, loaded.Status, "details never touch the status")

	missing := newVideo("missing", "u1", time.Time{})
	assert.ErrorIs(t, s.UpdateDetails(ctx, missing), domain.ErrVideoNotFound)
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	video := newVideo("v1", "u1", time.Time{})
	require.NoError(t, s.Create(ctx, video))
	require.NoError(t, s.Delete(ctx, "v1"))

	_, err := s.Load(ctx, "v1")
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "v1"), domain.ErrVideoNotFound)

	// a run that outlives the record cannot recreate it
	video.Status = domain.StatusAnalyzing
	assert.ErrorIs(t, s.Save(ctx, video), domain.ErrVideoNotFound)
}

func TestMemory_ListShared(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	videos := []*domain.Video{
		newVideo("shared", "u1", base),
		newVideo("assigned", "u1", base.Add(time.Minute)),
		newVideo("private", "u1", base.Add(2*time.Minute)),
		newVideo("other-org", "u3", base.Add(3*time.Minute)),
		newVideo("no-org", "u4", base.Add(4*time.Minute)),
	}
	videos[0].IsShared = true
	videos[1].AllowedViewers = domain.Viewers{"ana@example.com"}
	videos[3].IsShared = true
	videos[4].IsShared = true
	for i, v := range videos[:4] {
		v.OrganizationID = "org-1"
		if i == 3 {
			v.OrganizationID = "org-2"
		}
	}
	for _, v := range videos {
		require.NoError(t, s.Create(ctx, v))
	}

	list := func(org, viewer string) []string {
		got, err := s.List(ctx, VideoFilter{Shared: &SharedFilter{OrganizationID: org, Viewer: viewer}})
		require.NoError(t, err)
		ids := make([]string, len(got))
		for i, v := range got {
			ids[i] = v.ID
		}
		return ids
	}

	assert.Equal(t, []string{"assigned", "shared"}, list("org-1", "Ana@Example.com"))
	assert.Equal(t, []string{"shared"}, list("org-1", "bo@example.com"))
	assert.Equal(t, []string{"other-org"}, list("org-2", "ana@example.com"))
	assert.Equal(t, []string{"no-org"}, list("", ""))
}
