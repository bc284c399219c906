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

type GrantHandler struct {
	grantService     *service.GrantService
	authorizeService *service.AuthorizeService
	agreementStore   service.AgreementStore
	agreementTTL     time.Duration
	resolver         *identity.Resolver
}

func NewGrantHandler(grantService *service.GrantService, authorizeService *service.AuthorizeService, agreementStore service.AgreementStore, agreementTTL time.Duration, resolver *identity.Resolver) *GrantHandler {
	return &GrantHandler{
		grantService:     grantService,
		authorizeService: authorizeService,
		agreementStore:   agreementStore,
		agreementTTL:     agreementTTL,
		resolver:         resolver,
	}
}

func (h *GrantHandler) RegisterRoutes(app *fiber.App) {
	grantGroup := app.Group("/protected/access/grants")

	grantGroup.Post("/", h.IssueGrant)
	grantGroup.Delete("/", h.RevokeGrant)
	grantGroup.Get("/me", h.ListMyGrants)
	grantGroup.Post("/rebuild", h.RebuildGrants)
}

type issueGrantRequest struct {
	UserID    string             `json:"userId"`
	Resource  models.Resource    `json:"resource"`
	Level     models.AccessLevel `json:"level"`
	Method    models.GrantMethod `json:"method"`
	ExpiresAt int64              `json:"expiresAt"`
}

// IssueGrant writes a team or public grant. Agreement grants are owned by
// the NDA lifecycle and cannot be issued here.
func (h *GrantHandler) IssueGrant(c fiber.Ctx) error {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	var req issueGrantRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Method == models.GrantMethodAgreement {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Agreement grants are issued by the signing flow only",
		})
	}

	permission := models.PermGrantTeam
	if req.Method == models.GrantMethodPublic {
		permission = models.PermGrantPublic
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	decision, err := h.authorizeService.Authorize(ctx, caller.UserID, permission, &req.Resource)
	if err != nil {
		return failWith(c, err, "Failed to evaluate authorization")
	}
	if !decision.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": decision.Message,
		})
	}

	// Team grants are issued by the resource owner for their collaborators.
	if req.Method == models.GrantMethodTeam && req.Resource.OwnerID != caller.UserID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Only the resource owner may grant team access",
		})
	}

	grant, err := h.grantService.Grant(ctx, req.UserID, req.Resource.Type, req.Resource.ID, req.Level, req.Method, req.ExpiresAt)
	if err != nil {
		log.Printf("Failed to issue grant for user %s on %s/%s: %v", req.UserID, req.Resource.Type, req.Resource.ID, err)
		return failWith(c, err, "Failed to issue grant")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Grant issued successfully",
		"data": fiber.Map{
			"grant": grant,
		},
	})
}

type revokeGrantRequest struct {
	UserID   string          `json:"userId"`
	Resource models.Resource `json:"resource"`
}

func (h *GrantHandler) RevokeGrant(c fiber.Ctx) error {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	var req revokeGrantRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" || req.Resource.Type == "" || req.Resource.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User id, resource type and resource id are required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	decision, err := h.authorizeService.Authorize(ctx, caller.UserID, models.PermGrantTeam, &req.Resource)
	if err != nil {
		return failWith(c, err, "Failed to evaluate authorization")
	}
	if !decision.Allowed || req.Resource.OwnerID != caller.UserID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Only the resource owner may revoke grants",
		})
	}

	if err := h.grantService.Revoke(ctx, req.UserID, req.Resource.Type, req.Resource.ID); err != nil {
		log.Printf("Failed to revoke grant for user %s on %s/%s: %v", req.UserID, req.Resource.Type, req.Resource.ID, err)
		return failWith(c, err, "Failed to revoke grant")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Grant revoked successfully",
	})
}

func (h *GrantHandler) ListMyGrants(c fiber.Ctx) error {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	resourceType := c.Query("resourceType", models.ResourceTypePitch)
	page, limit := pagination(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grants, err := h.grantService.ListAccessible(ctx, caller.UserID, resourceType, page, limit)
	if err != nil {
		log.Printf("Failed to list grants for user %s: %v", caller.UserID, err)
		return failWith(c, err, "Failed to list grants")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{
			"grants": grants,
			"count":  len(grants),
			"page":   page,
		},
	})
}

// RebuildGrants regenerates every agreement grant from the signed
// agreements. Admin only; run after a suspected partial write.
func (h *GrantHandler) RebuildGrants(c fiber.Ctx) error {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	decision, err := h.authorizeService.Authorize(ctx, caller.UserID, models.PermGrantRebuild, nil)
	if err != nil {
		return failWith(c, err, "Failed to evaluate authorization")
	}
	if !decision.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": decision.Message,
		})
	}

	rebuilt, err := h.grantService.RebuildFromAgreements(ctx, h.agreementStore, h.agreementTTL)
	if err != nil {
		log.Printf("Grant rebuild failed: %v", err)
		return failWith(c, err, "Failed to rebuild grants")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Grants rebuilt successfully",
		"data": fiber.Map{
			"rebuilt": rebuilt,
		},
	})
}
