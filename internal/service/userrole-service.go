package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"access_service/internal/models"
)

type UserRoleService struct {
	userRoleRepo UserRoleStore
	roleRepo     RoleStore
	cache        PermissionCache
}

func NewUserRoleService(userRoleRepo UserRoleStore, roleRepo RoleStore, cache PermissionCache) *UserRoleService {
	return &UserRoleService{
		userRoleRepo: userRoleRepo,
		roleRepo:     roleRepo,
		cache:        cache,
	}
}

// AssignRole gives the user the named role. Assigning a role the user
// already actively holds is an idempotent no-op returning the existing
// assignment. An unregistered role name is a programming error
// (models.ErrRoleNotFound), not a denial.
func (s *UserRoleService) AssignRole(ctx context.Context, userID, roleName, grantedBy string, expiresAt int64) (*models.UserRole, error) {
	if userID == "" {
		return nil, models.NewValidationError("user id is required")
	}

	role, err := s.roleRepo.FindByName(ctx, roleName)
	if err != nil {
		return nil, err
	}

	existing, err := s.userRoleRepo.FindActive(ctx, userID, role.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("error checking existing assignment: %w", err)
	}

	userRole := &models.UserRole{
		UserID:    userID,
		RoleID:    role.ID,
		RoleName:  role.Name,
		GrantedBy: grantedBy,
		GrantedAt: time.Now().Unix(),
		ExpiresAt: expiresAt,
		IsActive:  true,
	}

	created, err := s.userRoleRepo.Create(ctx, userRole)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	return created, nil
}

// RevokeRole deactivates every active assignment of the role to the user.
func (s *UserRoleService) RevokeRole(ctx context.Context, userID, roleName string) error {
	role, err := s.roleRepo.FindByName(ctx, roleName)
	if err != nil {
		return err
	}

	if err := s.userRoleRepo.DeactivateByUserAndRole(ctx, userID, role.ID); err != nil {
		return err
	}

	s.invalidate(ctx, userID)
	return nil
}

// EffectiveRoles lists the user's active, unexpired role assignments.
func (s *UserRoleService) EffectiveRoles(ctx context.Context, userID string) ([]*models.UserRole, error) {
	return s.userRoleRepo.FindActiveByUser(ctx, userID)
}

// HasAnyRole reports whether the user's effective roles intersect the
// given names.
func (s *UserRoleService) HasAnyRole(ctx context.Context, userID string, names ...string) (bool, error) {
	userRoles, err := s.userRoleRepo.FindActiveByUser(ctx, userID)
	if err != nil {
		return false, err
	}

	for _, ur := range userRoles {
		for _, name := range names {
			if ur.RoleName == name {
				return true, nil
			}
		}
	}
	return false, nil
}

// EffectivePermissions resolves the union of permissions granted by the
// user's effective roles. Served from the Redis cache when possible; the
// cache is invalidated on every role mutation and is never required for
// correctness.
func (s *UserRoleService) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	if s.cache != nil {
		if permissions, ok := s.cache.GetPermissions(ctx, userID); ok {
			return permissions, nil
		}
	}

	userRoles, err := s.userRoleRepo.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	permissionSet := make(map[string]bool)
	for _, userRole := range userRoles {
		role, err := s.roleRepo.FindByID(ctx, userRole.RoleID)
		if err != nil {
			log.Printf("Skipping role %s for user %s: %v", userRole.RoleID.Hex(), userID, err)
			continue
		}
		for _, p := range role.Permissions {
			permissionSet[p] = true
		}
	}

	permissions := make([]string, 0, len(permissionSet))
	for p := range permissionSet {
		permissions = append(permissions, p)
	}

	if s.cache != nil {
		if err := s.cache.SetPermissions(ctx, userID, permissions); err != nil {
			log.Printf("Failed to cache permission set for user %s: %v", userID, err)
		}
	}

	return permissions, nil
}

func (s *UserRoleService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePermissions(ctx, userID); err != nil {
		log.Printf("Failed to invalidate permission cache for user %s: %v", userID, err)
	}
}
