package handlers

import (
	"context"
	"log"
	"time"

	"access_service/internal/identity"
	"access_service/internal/models"
	"access_service/internal/service"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter for authorize decisions
	authorizeDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_authorize_decisions_total",
			Help: "Total number of authorize decisions",
		},
		[]string{"outcome", "reason"}, // outcome: allowed/denied, reason: denial reason code or none
	)

	// Histogram for authorize duration
	authorizeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "access_authorize_duration_seconds",
			Help:    "Time spent evaluating authorize requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// Counter for agreement lifecycle transitions
	agreementTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_agreement_transitions_total",
			Help: "Total number of agreement state transitions",
		},
		[]string{"transition"},
	)
)

type AuthorizeHandler struct {
	authorizeService *service.AuthorizeService
	resolver         *identity.Resolver
}

func NewAuthorizeHandler(authorizeService *service.AuthorizeService, resolver *identity.Resolver) *AuthorizeHandler {
	return &AuthorizeHandler{
		authorizeService: authorizeService,
		resolver:         resolver,
	}
}

func (h *AuthorizeHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	accessGroup := app.Group("/protected/access")

	accessGroup.Post("/authorize", h.Authorize)
	accessGroup.Get("/permissions/me", h.MyPermissions)
}

type authorizeRequest struct {
	Permission string           `json:"permission"`
	Resource   *models.Resource `json:"resource"`
}

func (h *AuthorizeHandler) Authorize(c fiber.Ctx) error {
	start := time.Now()

	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	var req authorizeRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Permission == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Permission key is required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	decision, err := h.authorizeService.Authorize(ctx, caller.UserID, req.Permission, req.Resource)
	if err != nil {
		authorizeDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		authorizeDecisions.WithLabelValues("error", "none").Inc()
		log.Printf("Authorize failed for user %s permission %s: %v", caller.UserID, req.Permission, err)
		return failWith(c, err, "Failed to evaluate authorization")
	}

	if decision.Allowed {
		authorizeDuration.WithLabelValues("allowed").Observe(time.Since(start).Seconds())
		authorizeDecisions.WithLabelValues("allowed", "none").Inc()
	} else {
		authorizeDuration.WithLabelValues("denied").Observe(time.Since(start).Seconds())
		authorizeDecisions.WithLabelValues("denied", string(decision.Reason)).Inc()
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{
			"decision": decision,
		},
	})
}

func (h *AuthorizeHandler) MyPermissions(c fiber.Ctx) error {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	permissions, err := h.authorizeService.EffectivePermissions(ctx, caller.UserID)
	if err != nil {
		log.Printf("Failed to resolve permissions for user %s: %v", caller.UserID, err)
		return failWith(c, err, "Failed to resolve permissions")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{
			"permissions": permissions,
			"count":       len(permissions),
		},
	})
}

func (h *AuthorizeHandler) HealthCheck(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).SendString("Access Service is healthy")
}
