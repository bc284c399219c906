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

// PermissionRepository persists the permission catalog and keeps an
// in-memory copy so authorize calls never hit Mongo for a key lookup.
type PermissionRepository struct {
	collection *mongo.Collection
	mu         sync.Mutex
	catalog    map[string]*models.Permission
}

func NewPermissionRepository(db *mongo.Database) *PermissionRepository {
	return &PermissionRepository{
		collection: db.Collection("Permission"),
		catalog:    make(map[string]*models.Permission),
	}
}

func (r *PermissionRepository) CreateIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *PermissionRepository) New(ctx context.Context, p *models.Permission) (*models.Permission, error) {
	if p.ID.IsZero() {
		p.ID = bson.NewObjectID()
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}

	_, err := r.collection.InsertOne(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to insert permission: %w", err)
	}

	r.mu.Lock()
	r.catalog[p.Key] = p
	r.mu.Unlock()

	return p, nil
}

// Ensure inserts the permission if its key is not registered yet.
func (r *PermissionRepository) Ensure(ctx context.Context, p *models.Permission) error {
	var existing models.Permission
	err := r.collection.FindOne(ctx, bson.M{"key": p.Key}).Decode(&existing)
	if err == nil {
		r.mu.Lock()
		r.catalog[existing.Key] = &existing
		r.mu.Unlock()
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("error checking existing permission: %w", err)
	}

	_, err = r.New(ctx, p)
	return err
}

func (r *PermissionRepository) FindByKey(ctx context.Context, key string) (*models.Permission, error) {
	r.mu.Lock()
	if p, ok := r.catalog[key]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	var p models.Permission
	err := r.collection.FindOne(ctx, bson.M{"key": key}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	r.mu.Lock()
	r.catalog[p.Key] = &p
	r.mu.Unlock()

	return &p, nil
}

func (r *PermissionRepository) FindAll(ctx context.Context) ([]*models.Permission, error) {
	opts := options.Find().SetSort(bson.M{"key": 1})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var permissions []*models.Permission
	if err = cursor.All(ctx, &permissions); err != nil {
		return nil, err
	}
	return permissions, nil
}

// CollectPermissions reloads the in-memory catalog from Mongo.
func (r *PermissionRepository) CollectPermissions(ctx context.Context) error {
	permissions, err := r.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("error collecting permissions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for k := range r.catalog {
		delete(r.catalog, k)
	}
	for _, p := range permissions {
		r.catalog[p.Key] = p
	}

	log.Printf("Loaded %d permissions into catalog cache", len(permissions))
	return nil
}

// Known reports whether a permission key is registered, consulting only
// the in-memory catalog.
func (r *PermissionRepository) Known(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.catalog[key]
	return ok
}

func (r *PermissionRepository) Catalog() map[string]*models.Permission {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[string]*models.Permission, len(r.catalog))
	maps.Copy(result, r.catalog)
	return result
}
