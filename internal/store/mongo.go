package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/vidshare/internal/domain"
	"github.com/cuongbtq/vidshare/shared/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo stores videos as documents keyed by _id
type Mongo struct {
	collection *mongo.Collection
}

// NewMongo creates a store on the named collection
func NewMongo(client *mongodb.Client, collection string) *Mongo {
	return &Mongo{collection: client.Collection(collection)}
}

// Indexes are the indexes List and ListByStatus rely on
func (s *Mongo) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "uploadedBy", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "organizationId", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
	}
}

func (s *Mongo) Create(ctx context.Context, video *domain.Video) error {
	prepareCreate(video)

	if _, err := s.collection.InsertOne(ctx, video); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateVideo
		}
		return fmt.Errorf("failed to create video: %w", err)
	}
	return nil
}

func (s *Mongo) Load(ctx context.Context, id string) (*domain.Video, error) {
	var video domain.Video

	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&video)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrVideoNotFound
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return &video, nil
}

func (s *Mongo) Save(ctx context.Context, video *domain.Video) error {
	updatedAt := time.Now().UTC()

	filter := bson.M{
		"_id":    video.ID,
		"status": bson.M{"$nin": terminalStatuses},
	}
	update := bson.M{"$set": bson.M{
		"status":    video.Status,
		"path":      video.Path,
		"filename":  video.Filename,
		"updatedAt": updatedAt,
	}}

	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to save video: %w", err)
	}

	if result.MatchedCount == 0 {
		count, err := s.collection.CountDocuments(ctx, bson.M{"_id": video.ID})
		if err != nil {
			return fmt.Errorf("failed to check video status: %w", err)
		}
		if count == 0 {
			return domain.ErrVideoNotFound
		}
		return fmt.Errorf("%w: stored status is terminal", domain.ErrInvalidTransition)
	}

	video.UpdatedAt = updatedAt
	return nil
}

// UpdateDetails stores the editable metadata and sharing settings. Status is
// left to Save so it never races a run.
func (s *Mongo) UpdateDetails(ctx context.Context, video *domain.Video) error {
	updatedAt := time.Now().UTC()

	viewers := video.AllowedViewers
	if viewers == nil {
		viewers = domain.Viewers{}
	}

	update := bson.M{"$set": bson.M{
		"title":          video.Title,
		"description":    video.Description,
		"isShared":       video.IsShared,
		"allowedViewers": viewers,
		"updatedAt":      updatedAt,
	}}

	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": video.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update video: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrVideoNotFound
	}

	video.UpdatedAt = updatedAt
	return nil
}

func (s *Mongo) Delete(ctx context.Context, id string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrVideoNotFound
	}
	return nil
}

func (s *Mongo) List(ctx context.Context, filter VideoFilter) ([]domain.Video, error) {
	query := bson.M{}

	if filter.OwnerID != "" {
		query["uploadedBy"] = filter.OwnerID
	}
	if filter.OrganizationID != "" {
		query["organizationId"] = filter.OrganizationID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}

	var clauses bson.A
	if sh := filter.Shared; sh != nil {
		query["organizationId"] = sh.OrganizationID
		clauses = append(clauses, bson.M{"$or": bson.A{
			bson.M{"isShared": true},
			bson.M{"allowedViewers": strings.ToLower(strings.TrimSpace(sh.Viewer))},
		}})
	}
	if filter.Cursor != nil {
		clauses = append(clauses, bson.M{"$or": bson.A{
			bson.M{"createdAt": bson.M{"$lt": filter.Cursor.CreatedAt}},
			bson.M{"createdAt": filter.Cursor.CreatedAt, "_id": bson.M{"$lt": filter.Cursor.VideoID}},
		}})
	}
	if len(clauses) > 0 {
		query["$and"] = clauses
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if filter.PageSize > 0 {
		opts.SetLimit(int64(filter.PageSize + 1))
	}

	return s.find(ctx, query, opts)
}

func (s *Mongo) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Video, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	return s.find(ctx, bson.M{"status": status}, opts)
}

func (s *Mongo) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]domain.Video, error) {
	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer cursor.Close(ctx)

	var videos []domain.Video
	if err := cursor.All(ctx, &videos); err != nil {
		return nil, fmt.Errorf("failed to decode videos: %w", err)
	}

	return videos, nil
}
