package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/vidshare/internal/domain"
	"github.com/cuongbtq/vidshare/shared/postgresql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const videoColumns = `
	id, title, description, filename, original_name, path, size, mime_type,
	owner_id, organization_id, status, sensitivity, is_shared, allowed_viewers,
	created_at, updated_at`

// Postgres stores videos in the videos table
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres creates a store on top of a connected client
func NewPostgres(pg *postgresql.Client) *Postgres {
	return &Postgres{db: pg.GetDB()}
}

func (s *Postgres) Create(ctx context.Context, video *domain.Video) error {
	prepareCreate(video)

	query := `
		INSERT INTO videos (` + videoColumns + `)
		VALUES (
			:id, :title, :description, :filename, :original_name, :path, :size, :mime_type,
			:owner_id, :organization_id, :status, :sensitivity, :is_shared, :allowed_viewers,
			:created_at, :updated_at
		)
	`

	if _, err := s.db.NamedExecContext(ctx, query, video); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateVideo
		}
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

func (s *Postgres) Load(ctx context.Context, id string) (*domain.Video, error) {
	// ids are UUID typed; anything else can never match
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrVideoNotFound
	}

	var video domain.Video
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	if err := s.db.GetContext(ctx, &video, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrVideoNotFound
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return &video, nil
}

func (s *Postgres) Save(ctx context.Context, video *domain.Video) error {
	updatedAt := time.Now().UTC()

	query := `
		UPDATE videos
		SET status = $1,
		    path = $2,
		    filename = $3,
		    updated_at = $4
		WHERE id = $5
		  AND status <> ALL($6)
	`

	result, err := s.db.ExecContext(ctx, query,
		video.Status,
		video.Path,
		video.Filename,
		updatedAt,
		video.ID,
		pq.Array(terminalStatuses),
	)
	if err != nil {
		return fmt.Errorf("failed to save video: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		var stored domain.Status
		err := s.db.GetContext(ctx, &stored, `SELECT status FROM videos WHERE id = $1`, video.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrVideoNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check video status: %w", err)
		}
		return fmt.Errorf("%w: stored status %s is terminal", domain.ErrInvalidTransition, stored)
	}

	video.UpdatedAt = updatedAt
	return nil
}

// UpdateDetails stores the editable metadata and sharing settings. Status is
// left to Save so it never races a run.
func (s *Postgres) UpdateDetails(ctx context.Context, video *domain.Video) error {
	updatedAt := time.Now().UTC()

	query := `
		UPDATE videos
		SET title = $1,
		    description = $2,
		    is_shared = $3,
		    allowed_viewers = $4,
		    updated_at = $5
		WHERE id = $6
	`

	result, err := s.db.ExecContext(ctx, query,
		video.Title,
		video.Description,
		video.IsShared,
		video.AllowedViewers,
		updatedAt,
		video.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update video: %w", err)
	}

	if err := requireRow(result); err != nil {
		return err
	}

	video.UpdatedAt = updatedAt
	return nil
}

func (s *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrVideoNotFound
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}

	return requireRow(result)
}

// requireRow maps an update that touched nothing to ErrVideoNotFound
func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrVideoNotFound
	}
	return nil
}

func (s *Postgres) List(ctx context.Context, filter VideoFilter) ([]domain.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.OwnerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}

	if filter.OrganizationID != "" {
		query += fmt.Sprintf(" AND organization_id = $%d", argIdx)
		args = append(args, filter.OrganizationID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if sh := filter.Shared; sh != nil {
		query += fmt.Sprintf(" AND organization_id = $%d AND (is_shared OR $%d = ANY(allowed_viewers))", argIdx, argIdx+1)
		args = append(args, sh.OrganizationID, strings.ToLower(strings.TrimSpace(sh.Viewer)))
		argIdx += 2
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.VideoID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.PageSize > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.PageSize+1)
	}

	var videos []domain.Video
	if err := s.db.SelectContext(ctx, &videos, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}

	return videos, nil
}

func (s *Postgres) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE status = $1 ORDER BY created_at ASC, id ASC`
	args := []interface{}{status}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	var videos []domain.Video
	if err := s.db.SelectContext(ctx, &videos, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list videos by status: %w", err)
	}

	return videos, nil
}
