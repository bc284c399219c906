package service

import (
	"context"
	"fmt"
	"log"

	"access_service/internal/models"
)

type RoleService struct {
	roleRepo RoleStore
}

func NewRoleService(roleRepo RoleStore) *RoleService {
	return &RoleService{
		roleRepo: roleRepo,
	}
}

// SeedRoles registers the system roles with their permission sets.
// Existing roles are left untouched.
func (s *RoleService) SeedRoles(ctx context.Context) error {
	for _, r := range models.DefaultRoles() {
		role := r
		if _, err := s.roleRepo.Ensure(ctx, &role); err != nil {
			return fmt.Errorf("error seeding role %s: %w", role.Name, err)
		}
	}

	log.Println("System roles seeded")
	return nil
}

func (s *RoleService) GetRole(ctx context.Context, name string) (*models.Role, error) {
	return s.roleRepo.FindByName(ctx, name)
}

func (s *RoleService) GetAllRoles(ctx context.Context) ([]*models.Role, error) {
	return s.roleRepo.FindAll(ctx)
}
