package handlers

import (
	"context"
	"log"
	"time"

	"access_service/internal/service"

	"github.com/gofiber/fiber/v3"
)

type PermissionHandler struct {
	permissionService *service.PermissionService
}

func NewPermissionHandler(permissionService *service.PermissionService) *PermissionHandler {
	return &PermissionHandler{
		permissionService: permissionService,
	}
}

func (h *PermissionHandler) RegisterRoutes(app *fiber.App) {
	permissionGroup := app.Group("/protected/access/permissions")

	permissionGroup.Get("/", h.GetAllPermissions)
}

func (h *PermissionHandler) GetAllPermissions(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	permissions, err := h.permissionService.GetAllPermissions(ctx)
	if err != nil {
		log.Printf("Failed to list permissions: %v", err)
		return failWith(c, err, "Failed to list permissions")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{
			"permissions": permissions,
			"count":       len(permissions),
		},
	})
}
