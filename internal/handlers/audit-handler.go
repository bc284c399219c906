package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"access_service/internal/identity"
	"access_service/internal/models"
	"access_service/internal/service"

	"github.com/gofiber/fiber/v3"
)

type AuditHandler struct {
	auditService     *service.AuditService
	authorizeService *service.AuthorizeService
	resolver         *identity.Resolver
}

func NewAuditHandler(auditService *service.AuditService, authorizeService *service.AuthorizeService, resolver *identity.Resolver) *AuditHandler {
	return &AuditHandler{
		auditService:     auditService,
		authorizeService: authorizeService,
		resolver:         resolver,
	}
}

func (h *AuditHandler) RegisterRoutes(app *fiber.App) {
	auditGroup := app.Group("/protected/access/audit")

	auditGroup.Get("/", h.QueryAudit)
}

func (h *AuditHandler) QueryAudit(c fiber.Ctx) error {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	decision, err := h.authorizeService.Authorize(ctx, caller.UserID, models.PermAuditRead, nil)
	if err != nil {
		return failWith(c, err, "Failed to evaluate authorization")
	}
	if !decision.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": decision.Message,
		})
	}

	page, limit := pagination(c)

	query := &models.AuditQuery{
		UserID:       c.Query("userId"),
		ResourceType: c.Query("resourceType"),
		ResourceID:   c.Query("resourceId"),
		Action:       c.Query("action"),
		Page:         page,
		Limit:        limit,
	}

	if granted := c.Query("granted"); granted != "" {
		value := granted == "true"
		query.Granted = &value
	}
	if from, err := strconv.ParseInt(c.Query("from", "0"), 10, 64); err == nil {
		query.From = from
	}
	if to, err := strconv.ParseInt(c.Query("to", "0"), 10, 64); err == nil {
		query.To = to
	}

	entries, err := h.auditService.Query(ctx, query)
	if err != nil {
		log.Printf("Audit query failed: %v", err)
		return failWith(c, err, "Failed to query audit log")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{
			"entries": entries,
			"count":   len(entries),
			"page":    page,
		},
	})
}
