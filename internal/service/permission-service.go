package service

import (
	"context"
	"fmt"
	"log"

	"access_service/internal/models"
)

type PermissionService struct {
	permissionRepo PermissionStore
}

func NewPermissionService(permissionRepo PermissionStore) *PermissionService {
	return &PermissionService{
		permissionRepo: permissionRepo,
	}
}

// SeedCatalog registers the default permission catalog and loads it into
// the in-memory cache. Called once on startup.
func (s *PermissionService) SeedCatalog(ctx context.Context) error {
	for _, p := range models.DefaultPermissions() {
		permission := p
		if err := s.permissionRepo.Ensure(ctx, &permission); err != nil {
			return fmt.Errorf("error seeding permission %s: %w", permission.Key, err)
		}
	}

	if err := s.permissionRepo.CollectPermissions(ctx); err != nil {
		return err
	}

	log.Println("Permission catalog seeded")
	return nil
}

// Known reports whether the key is a registered permission. Callers that
// pass an unknown key have a bug; the decision engine surfaces that as
// models.ErrUnknownPermission rather than a denial.
func (s *PermissionService) Known(key string) bool {
	return s.permissionRepo.Known(key)
}

func (s *PermissionService) GetAllPermissions(ctx context.Context) ([]*models.Permission, error) {
	return s.permissionRepo.FindAll(ctx)
}
