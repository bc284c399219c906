package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"access_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// GrantRepository stores the access grant ledger. Rows are unique on
// (userId, resourceType, resourceId); granting again updates the row in
// place, and revoking marks it instead of deleting it.
type GrantRepository struct {
	collection *mongo.Collection
}

func NewGrantRepository(db *mongo.Database) *GrantRepository {
	return &GrantRepository{
		collection: db.Collection("AccessGrant"),
	}
}

func (r *GrantRepository) CreateIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "userId", Value: 1},
			{Key: "resourceType", Value: 1},
			{Key: "resourceId", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Upsert writes the grant under its unique key. A re-grant reactivates a
// revoked row: revokedAt is cleared and the new level/method/expiry win.
func (r *GrantRepository) Upsert(ctx context.Context, grant *models.AccessGrant) (*models.AccessGrant, error) {
	if grant.GrantedAt == 0 {
		grant.GrantedAt = time.Now().Unix()
	}

	filter := bson.M{
		"userId":       grant.UserID,
		"resourceType": grant.ResourceType,
		"resourceId":   grant.ResourceID,
	}
	update := bson.M{
		"$set": bson.M{
			"level":     grant.Level,
			"method":    grant.Method,
			"grantedAt": grant.GrantedAt,
			"expiresAt": grant.ExpiresAt,
			"revokedAt": int64(0),
		},
		"$setOnInsert": bson.M{
			"userId":       grant.UserID,
			"resourceType": grant.ResourceType,
			"resourceId":   grant.ResourceID,
		},
	}

	opts := options.UpdateOne().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert access grant: %w", err)
	}

	return r.Find(ctx, grant.UserID, grant.ResourceType, grant.ResourceID)
}

func (r *GrantRepository) Find(ctx context.Context, userID, resourceType, resourceID string) (*models.AccessGrant, error) {
	filter := bson.M{
		"userId":       userID,
		"resourceType": resourceType,
		"resourceId":   resourceID,
	}

	var grant models.AccessGrant
	err := r.collection.FindOne(ctx, filter).Decode(&grant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &grant, nil
}

// Revoke marks the row revoked. Missing rows are not an error; revoking
// twice is a no-op.
func (r *GrantRepository) Revoke(ctx context.Context, userID, resourceType, resourceID string, at int64) error {
	filter := bson.M{
		"userId":       userID,
		"resourceType": resourceType,
		"resourceId":   resourceID,
		"revokedAt":    int64(0),
	}
	_, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"revokedAt": at}})
	if err != nil {
		return fmt.Errorf("failed to revoke access grant: %w", err)
	}
	return nil
}

// FindActiveByUser lists the user's grants for a resource type that are
// neither revoked nor past expiry at read time.
func (r *GrantRepository) FindActiveByUser(ctx context.Context, userID, resourceType string, page, limit int) ([]*models.AccessGrant, error) {
	currentTime := time.Now().Unix()
	filter := bson.M{
		"userId":       userID,
		"resourceType": resourceType,
		"revokedAt":    int64(0),
		"$or": []bson.M{
			{"expiresAt": int64(0)},
			{"expiresAt": bson.M{"$gt": currentTime}},
		},
	}

	opts := mongoFindOpts(page, limit)
	opts.SetSort(bson.M{"grantedAt": -1})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var grants []*models.AccessGrant
	if err = cursor.All(ctx, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// RevokeByResource revokes every live grant on a resource, regardless of
// method. Used when the content service deletes the resource.
func (r *GrantRepository) RevokeByResource(ctx context.Context, resourceType, resourceID string, at int64) (int64, error) {
	filter := bson.M{
		"resourceType": resourceType,
		"resourceId":   resourceID,
		"revokedAt":    int64(0),
	}
	result, err := r.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"revokedAt": at}})
	if err != nil {
		return 0, fmt.Errorf("failed to revoke grants on %s/%s: %w", resourceType, resourceID, err)
	}
	return result.ModifiedCount, nil
}

// RevokeByMethod revokes every live grant of the given method. Used by
// the reconciliation pass before regenerating agreement grants.
func (r *GrantRepository) RevokeByMethod(ctx context.Context, method models.GrantMethod, at int64) (int64, error) {
	filter := bson.M{"method": method, "revokedAt": int64(0)}
	result, err := r.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"revokedAt": at}})
	if err != nil {
		return 0, fmt.Errorf("failed to revoke %s grants: %w", method, err)
	}
	return result.ModifiedCount, nil
}
