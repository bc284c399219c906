package handlers

import (
	"context"
	"log"
	"time"

	"access_service/internal/identity"
	"access_service/internal/models"
	"access_service/internal/service"

	"github.com/gofiber/fiber/v3"
)

type RoleHandler struct {
	roleService      *service.RoleService
	userRoleService  *service.UserRoleService
	authorizeService *service.AuthorizeService
	resolver         *identity.Resolver
}

func NewRoleHandler(roleService *service.RoleService, userRoleService *service.UserRoleService, authorizeService *service.AuthorizeService, resolver *identity.Resolver) *RoleHandler {
	return &RoleHandler{
		roleService:      roleService,
		userRoleService:  userRoleService,
		authorizeService: authorizeService,
		resolver:         resolver,
	}
}

func (h *RoleHandler) RegisterRoutes(app *fiber.App) {
	roleGroup := app.Group("/protected/access/roles")

	roleGroup.Get("/", h.GetAllRoles)
	roleGroup.Get("/me", h.GetMyRoles)

	userRoleGroup := app.Group("/protected/access/user-roles")
	userRoleGroup.Post("/", h.AssignRoleToUser)
	userRoleGroup.Delete("/", h.RemoveRoleFromUser)
	userRoleGroup.Get("/users/:userId", h.GetUserRoles)
}

func (h *RoleHandler) GetAllRoles(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	roles, err := h.roleService.GetAllRoles(ctx)
	if err != nil {
		log.Printf("Failed to list roles: %v", err)
		return failWith(c, err, "Failed to list roles")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{
			"roles": roles,
		},
	})
}

func (h *RoleHandler) GetMyRoles(c fiber.Ctx) error {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	roles, err := h.userRoleService.EffectiveRoles(ctx, caller.UserID)
	if err != nil {
		log.Printf("Failed to list roles for user %s: %v", caller.UserID, err)
		return failWith(c, err, "Failed to list roles")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{
			"roles": roles,
		},
	})
}

func (h *RoleHandler) AssignRoleToUser(c fiber.Ctx) error {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	var request struct {
		UserID        string `json:"userId"`
		RoleName      string `json:"roleName"`
		ExpiresInDays int    `json:"expiresInDays"`
	}

	if err := c.Bind().Body(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if request.UserID == "" || request.RoleName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID and role name are required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	decision, err := h.authorizeService.Authorize(ctx, caller.UserID, models.PermRoleAssign, nil)
	if err != nil {
		return failWith(c, err, "Failed to evaluate authorization")
	}
	if !decision.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": decision.Message,
		})
	}

	var expiresAt int64
	if request.ExpiresInDays > 0 {
		expiresAt = time.Now().AddDate(0, 0, request.ExpiresInDays).Unix()
	}

	userRole, err := h.userRoleService.AssignRole(ctx, request.UserID, request.RoleName, caller.UserID, expiresAt)
	if err != nil {
		log.Printf("Failed to assign role %s to user %s: %v", request.RoleName, request.UserID, err)
		return failWith(c, err, "Failed to assign role")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Role assigned successfully",
		"data": fiber.Map{
			"userRole": userRole,
		},
	})
}

func (h *RoleHandler) RemoveRoleFromUser(c fiber.Ctx) error {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	var request struct {
		UserID   string `json:"userId"`
		RoleName string `json:"roleName"`
	}

	if err := c.Bind().Body(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if request.UserID == "" || request.RoleName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID and role name are required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	decision, err := h.authorizeService.Authorize(ctx, caller.UserID, models.PermRoleRevoke, nil)
	if err != nil {
		return failWith(c, err, "Failed to evaluate authorization")
	}
	if !decision.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": decision.Message,
		})
	}

	if err := h.userRoleService.RevokeRole(ctx, request.UserID, request.RoleName); err != nil {
		log.Printf("Failed to revoke role %s from user %s: %v", request.RoleName, request.UserID, err)
		return failWith(c, err, "Failed to revoke role")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Role revoked successfully",
	})
}

func (h *RoleHandler) GetUserRoles(c fiber.Ctx) error {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	userID := c.Params("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Reading another user's roles is an admin view.
	if userID != caller.UserID {
		decision, err := h.authorizeService.Authorize(ctx, caller.UserID, models.PermRoleAssign, nil)
		if err != nil {
			return failWith(c, err, "Failed to evaluate authorization")
		}
		if !decision.Allowed {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": decision.Message,
			})
		}
	}

	roles, err := h.userRoleService.EffectiveRoles(ctx, userID)
	if err != nil {
		log.Printf("Failed to list roles for user %s: %v", userID, err)
		return failWith(c, err, "Failed to list roles")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{
			"roles": roles,
		},
	})
}
