package service

import (
	"context"

	"access_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Store interfaces consumed by the services. The Mongo repositories in
// internal/repository satisfy them; tests substitute in-memory fakes.

type RoleStore interface {
	FindByID(ctx context.Context, id bson.ObjectID) (*models.Role, error)
	FindByName(ctx context.Context, name string) (*models.Role, error)
	FindAll(ctx context.Context) ([]*models.Role, error)
	Ensure(ctx context.Context, role *models.Role) (*models.Role, error)
}

type UserRoleStore interface {
	Create(ctx context.Context, userRole *models.UserRole) (*models.UserRole, error)
	FindActive(ctx context.Context, userID string, roleID bson.ObjectID) (*models.UserRole, error)
	FindActiveByUser(ctx context.Context, userID string) ([]*models.UserRole, error)
	DeactivateByUserAndRole(ctx context.Context, userID string, roleID bson.ObjectID) error
}

type PermissionStore interface {
	Ensure(ctx context.Context, p *models.Permission) error
	FindAll(ctx context.Context) ([]*models.Permission, error)
	CollectPermissions(ctx context.Context) error
	Known(key string) bool
}

type GrantStore interface {
	Upsert(ctx context.Context, grant *models.AccessGrant) (*models.AccessGrant, error)
	Find(ctx context.Context, userID, resourceType, resourceID string) (*models.AccessGrant, error)
	FindActiveByUser(ctx context.Context, userID, resourceType string, page, limit int) ([]*models.AccessGrant, error)
	Revoke(ctx context.Context, userID, resourceType, resourceID string, at int64) error
	RevokeByMethod(ctx context.Context, method models.GrantMethod, at int64) (int64, error)
	RevokeByResource(ctx context.Context, resourceType, resourceID string, at int64) (int64, error)
}

type AgreementStore interface {
	New(ctx context.Context, request *models.AgreementRequest) (*models.AgreementRequest, error)
	FindByID(ctx context.Context, id bson.ObjectID) (*models.AgreementRequest, error)
	FindActive(ctx context.Context, resourceID, requesterID string) (*models.AgreementRequest, error)
	FindActiveByResource(ctx context.Context, resourceID string) ([]*models.AgreementRequest, error)
	FindByStatus(ctx context.Context, status models.AgreementStatus) ([]*models.AgreementRequest, error)
	FindByRequester(ctx context.Context, requesterID string, page, limit int) ([]*models.AgreementRequest, error)
	FindByOwner(ctx context.Context, ownerID string, page, limit int) ([]*models.AgreementRequest, error)
	UpdateStatus(ctx context.Context, id bson.ObjectID, from, to models.AgreementStatus, fields map[string]any) (bool, error)
}

type AuditStore interface {
	Record(ctx context.Context, entry *models.AuditEntry) error
	Query(ctx context.Context, query *models.AuditQuery) ([]*models.AuditEntry, error)
}

// PermissionCache is the optional Redis-backed cache for effective
// permission sets. A nil cache is valid and means every lookup goes to
// the stores.
type PermissionCache interface {
	GetPermissions(ctx context.Context, userID string) ([]string, bool)
	SetPermissions(ctx context.Context, userID string, permissions []string) error
	InvalidatePermissions(ctx context.Context, userID string) error
}
