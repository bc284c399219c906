package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"access_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type UserRoleRepository struct {
	collection *mongo.Collection
}

func NewUserRoleRepository(db *mongo.Database) *UserRoleRepository {
	return &UserRoleRepository{
		collection: db.Collection("UserRole"),
	}
}

func (r *UserRoleRepository) CreateIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "isActive", Value: 1}},
	})
	return err
}

func (r *UserRoleRepository) Create(ctx context.Context, userRole *models.UserRole) (*models.UserRole, error) {
	if userRole.ID.IsZero() {
		userRole.ID = bson.NewObjectID()
	}
	if userRole.GrantedAt == 0 {
		userRole.GrantedAt = time.Now().Unix()
	}
	userRole.IsActive = true

	_, err := r.collection.InsertOne(ctx, userRole)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user role: %w", err)
	}
	return userRole, nil
}

// FindActive returns the active, unexpired assignment of the given role
// to the given user, or models.ErrNotFound.
func (r *UserRoleRepository) FindActive(ctx context.Context, userID string, roleID bson.ObjectID) (*models.UserRole, error) {
	currentTime := time.Now().Unix()
	filter := bson.M{
		"userId":   userID,
		"roleId":   roleID,
		"isActive": true,
		"$or": []bson.M{
			{"expiresAt": bson.M{"$exists": false}},
			{"expiresAt": 0},
			{"expiresAt": bson.M{"$gt": currentTime}},
		},
	}

	var userRole models.UserRole
	err := r.collection.FindOne(ctx, filter).Decode(&userRole)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &userRole, nil
}

// FindActiveByUser lists the user's effective role assignments. Expired
// rows are deactivated on the way through; they stay in the collection
// for audit.
func (r *UserRoleRepository) FindActiveByUser(ctx context.Context, userID string) ([]*models.UserRole, error) {
	currentTime := time.Now().Unix()

	expiredFilter := bson.M{
		"userId":    userID,
		"isActive":  true,
		"expiresAt": bson.M{"$gt": 0, "$lte": currentTime},
	}
	_, err := r.collection.UpdateMany(ctx, expiredFilter, bson.M{"$set": bson.M{"isActive": false}})
	if err != nil {
		return nil, fmt.Errorf("error deactivating expired roles: %w", err)
	}

	cursor, err := r.collection.Find(ctx, bson.M{"userId": userID, "isActive": true})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var userRoles []*models.UserRole
	if err = cursor.All(ctx, &userRoles); err != nil {
		return nil, err
	}
	return userRoles, nil
}

func (r *UserRoleRepository) FindUsersWithRole(ctx context.Context, roleID bson.ObjectID, page, limit int) ([]string, error) {
	filter := bson.M{"roleId": roleID, "isActive": true}

	opts := mongoFindOpts(page, limit)
	opts.SetProjection(bson.M{"userId": 1, "_id": 0})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []struct {
		UserID string `bson:"userId"`
	}
	if err = cursor.All(ctx, &results); err != nil {
		return nil, err
	}

	userIDs := make([]string, len(results))
	for i, result := range results {
		userIDs[i] = result.UserID
	}
	return userIDs, nil
}

func (r *UserRoleRepository) Deactivate(ctx context.Context, id bson.ObjectID) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"isActive": false}})
	if err != nil {
		return fmt.Errorf("failed to deactivate user role: %w", err)
	}
	return nil
}

func (r *UserRoleRepository) DeactivateByUserAndRole(ctx context.Context, userID string, roleID bson.ObjectID) error {
	filter := bson.M{"userId": userID, "roleId": roleID, "isActive": true}
	_, err := r.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"isActive": false}})
	if err != nil {
		return fmt.Errorf("failed to deactivate user role: %w", err)
	}
	return nil
}
