package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/vidshare/internal/domain"
)

// Memory is a mutex-guarded in-process store for tests and local runs.
// It enforces the full transition table on Save and records every saved status.
type Memory struct {
	mu      sync.RWMutex
	videos  map[string]domain.Video
	history map[string][]domain.Status
	saves   int

	// SaveHook, when set, runs before each Save; a non-nil error aborts it
	SaveHook func(video *domain.Video) error
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		videos:  make(map[string]domain.Video),
		history: make(map[string][]domain.Status),
	}
}

func (s *Memory) Create(ctx context.Context, video *domain.Video) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prepareCreate(video)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.videos[video.ID]; ok {
		return ErrDuplicateVideo
	}
	stored := *video
	stored.AllowedViewers = slices.Clone(video.AllowedViewers)
	s.videos[video.ID] = stored
	s.history[video.ID] = []domain.Status{video.Status}
	return nil
}

func (s *Memory) Load(ctx context.Context, id string) (*domain.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	video, ok := s.videos[id]
	if !ok {
		return nil, domain.ErrVideoNotFound
	}
	video.AllowedViewers = slices.Clone(video.AllowedViewers)
	return &video, nil
}

func (s *Memory) Save(ctx context.Context, video *domain.Video) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.videos[video.ID]
	if !ok {
		return domain.ErrVideoNotFound
	}

	if stored.Status.IsTerminal() ||
		(video.Status != stored.Status && !domain.CanTransition(stored.Status, video.Status)) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, stored.Status, video.Status)
	}

	if s.SaveHook != nil {
		if err := s.SaveHook(video); err != nil {
			return err
		}
	}

	video.UpdatedAt = time.Now().UTC()
	stored.Status = video.Status
	stored.Path = video.Path
	stored.Filename = video.Filename
	stored.UpdatedAt = video.UpdatedAt

	s.videos[video.ID] = stored
	s.history[video.ID] = append(s.history[video.ID], video.Status)
	s.saves++
	return nil
}

// UpdateDetails stores the editable metadata and sharing settings. Status is
// left to Save so it never races a run.
func (s *Memory) UpdateDetails(ctx context.Context, video *domain.Video) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.videos[video.ID]
	if !ok {
		return domain.ErrVideoNotFound
	}

	video.UpdatedAt = time.Now().UTC()
	stored.Title = video.Title
	stored.Description = video.Description
	stored.IsShared = video.IsShared
	stored.AllowedViewers = slices.Clone(video.AllowedViewers)
	stored.UpdatedAt = video.UpdatedAt

	s.videos[video.ID] = stored
	return nil
}

func (s *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.videos[id]; !ok {
		return domain.ErrVideoNotFound
	}
	delete(s.videos, id)
	return nil
}

func (s *Memory) List(ctx context.Context, filter VideoFilter) ([]domain.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	videos := make([]domain.Video, 0, len(s.videos))
	for _, v := range s.videos {
		if filter.OwnerID != "" && v.OwnerID != filter.OwnerID {
			continue
		}
		if filter.OrganizationID != "" && v.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if sh := filter.Shared; sh != nil && !v.VisibleTo(sh.OrganizationID, sh.Viewer) {
			continue
		}
		if c := filter.Cursor; c != nil {
			if v.CreatedAt.After(c.CreatedAt) || (v.CreatedAt.Equal(c.CreatedAt) && v.ID >= c.VideoID) {
				continue
			}
		}
		videos = append(videos, v)
	}
	s.mu.RUnlock()

	sort.Slice(videos, func(i, j int) bool {
		if !videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].CreatedAt.After(videos[j].CreatedAt)
		}
		return videos[i].ID > videos[j].ID
	})

	if filter.PageSize > 0 && len(videos) > filter.PageSize+1 {
		videos = videos[:filter.PageSize+1]
	}
	return videos, nil
}

func (s *Memory) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var videos []domain.Video
	for _, v := range s.videos {
		if v.Status == status {
			videos = append(videos, v)
		}
	}
	s.mu.RUnlock()

	sort.Slice(videos, func(i, j int) bool {
		if !videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].CreatedAt.Before(videos[j].CreatedAt)
		}
		return videos[i].ID < videos[j].ID
	})

	if limit > 0 && len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

// History returns every status persisted for a video, starting with the created one
func (s *Memory) History(id string) []domain.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.Status(nil), s.history[id]...)
}

// Saves returns the number of successful Save calls
func (s *Memory) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
