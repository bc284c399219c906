package repository

import (
	"context"
	"fmt"
	"time"

	"access_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// AuditRepository is append-only: entries are inserted and queried,
// never updated or deleted.
type AuditRepository struct {
	collection *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) *AuditRepository {
	return &AuditRepository{
		collection: db.Collection("AuditEntry"),
	}
}

func (r *AuditRepository) CreateIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	return err
}

func (r *AuditRepository) Record(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID.IsZero() {
		entry.ID = bson.NewObjectID()
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}

	_, err := r.collection.InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) Query(ctx context.Context, query *models.AuditQuery) ([]*models.AuditEntry, error) {
	filter := bson.M{}
	if query.UserID != "" {
		filter["userId"] = query.UserID
	}
	if query.ResourceType != "" {
		filter["resourceType"] = query.ResourceType
	}
	if query.ResourceID != "" {
		filter["resourceId"] = query.ResourceID
	}
	if query.Action != "" {
		filter["action"] = query.Action
	}
	if query.Granted != nil {
		filter["granted"] = *query.Granted
	}
	if query.From > 0 || query.To > 0 {
		createdAt := bson.M{}
		if query.From > 0 {
			createdAt["$gte"] = query.From
		}
		if query.To > 0 {
			createdAt["$lte"] = query.To
		}
		filter["createdAt"] = createdAt
	}

	opts := mongoFindOpts(query.Page, query.Limit)
	opts.SetSort(bson.M{"createdAt": -1})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*models.AuditEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
