package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"
	"sync"
	"time"

	"access_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type RoleRepository struct {
	collection *mongo.Collection
	mu         sync.Mutex
	byName     map[string]*models.Role
}

func NewRoleRepository(db *mongo.Database) *RoleRepository {
	return &RoleRepository{
		collection: db.Collection("Role"),
		byName:     make(map[string]*models.Role),
	}
}

func (r *RoleRepository) CreateIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *RoleRepository) Create(ctx context.Context, role *models.Role) (*models.Role, error) {
	existing, err := r.FindByName(ctx, role.Name)
	if err != nil && !errors.Is(err, models.ErrRoleNotFound) {
		return nil, fmt.Errorf("error checking existing role: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("role with name '%s' already exists", role.Name)
	}

	if role.ID.IsZero() {
		role.ID = bson.NewObjectID()
	}

	currentTime := time.Now().Unix()
	if role.CreatedAt == 0 {
		role.CreatedAt = currentTime
	}
	role.UpdatedAt = currentTime

	_, err = r.collection.InsertOne(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("failed to insert role: %w", err)
	}

	r.mu.Lock()
	r.byName[role.Name] = role
	r.mu.Unlock()

	return role, nil
}

// Ensure inserts the role when missing and returns the stored row either
// way. Seeded system roles keep whatever permission edits an operator
// made; seeding never overwrites an existing role.
func (r *RoleRepository) Ensure(ctx context.Context, role *models.Role) (*models.Role, error) {
	existing, err := r.FindByName(ctx, role.Name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrRoleNotFound) {
		return nil, err
	}
	return r.Create(ctx, role)
}

func (r *RoleRepository) Update(ctx context.Context, role *models.Role) error {
	role.UpdatedAt = time.Now().Unix()

	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": role.ID}, bson.M{"$set": role})
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	r.mu.Lock()
	r.byName[role.Name] = role
	r.mu.Unlock()

	return nil
}

func (r *RoleRepository) FindByID(ctx context.Context, id bson.ObjectID) (*models.Role, error) {
	var role models.Role
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&role)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrRoleNotFound
		}
		return nil, err
	}
	return &role, nil
}

func (r *RoleRepository) FindByName(ctx context.Context, name string) (*models.Role, error) {
	r.mu.Lock()
	if role, ok := r.byName[name]; ok {
		r.mu.Unlock()
		return role, nil
	}
	r.mu.Unlock()

	var role models.Role
	err := r.collection.FindOne(ctx, bson.M{"name": name}).Decode(&role)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrRoleNotFound
		}
		return nil, err
	}

	r.mu.Lock()
	r.byName[role.Name] = &role
	r.mu.Unlock()

	return &role, nil
}

func (r *RoleRepository) FindAll(ctx context.Context) ([]*models.Role, error) {
	opts := options.Find().SetSort(bson.M{"name": 1})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var roles []*models.Role
	if err = cursor.All(ctx, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// CollectRoles reloads the in-memory role cache from Mongo.
func (r *RoleRepository) CollectRoles(ctx context.Context) error {
	roles, err := r.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("error collecting roles: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for k := range r.byName {
		delete(r.byName, k)
	}
	for _, role := range roles {
		r.byName[role.Name] = role
	}

	log.Printf("Loaded %d roles into cache", len(roles))
	return nil
}

func (r *RoleRepository) AvailableRoles() map[string]*models.Role {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[string]*models.Role, len(r.byName))
	maps.Copy(result, r.byName)
	return result
}
