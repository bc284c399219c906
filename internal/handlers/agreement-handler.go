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
	"go.mongodb.org/mongo-driver/v2/bson"
)

type AgreementHandler struct {
	agreementService *service.AgreementService
	resolver         *identity.Resolver
}

func NewAgreementHandler(agreementService *service.AgreementService, resolver *identity.Resolver) *AgreementHandler {
	return &AgreementHandler{
		agreementService: agreementService,
		resolver:         resolver,
	}
}

func (h *AgreementHandler) RegisterRoutes(app *fiber.App) {
	agreementGroup := app.Group("/protected/access/agreements")

	agreementGroup.Post("/", h.RequestAgreement)
	agreementGroup.Get("/requested", h.ListRequested)
	agreementGroup.Get("/owned", h.ListOwned)
	agreementGroup.Get("/:id", h.GetAgreement)
	agreementGroup.Patch("/:id/approve", h.ApproveAgreement)
	agreementGroup.Patch("/:id/reject", h.RejectAgreement)
	agreementGroup.Patch("/:id/sign", h.SignAgreement)
	agreementGroup.Patch("/:id/revoke", h.RevokeAgreement)
}

func (h *AgreementHandler) RequestAgreement(c fiber.Ctx) error {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	var req struct {
		Resource models.Resource `json:"resource"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Resource.Type == "" || req.Resource.ID == "" || req.Resource.OwnerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Resource type, id and owner are required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	request, err := h.agreementService.Request(ctx, caller.UserID, req.Resource)
	if err != nil {
		return failWith(c, err, "Failed to create agreement request")
	}

	agreementTransitions.WithLabelValues("requested").Inc()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Agreement requested successfully",
		"data": fiber.Map{
			"agreement": request,
		},
	})
}

func (h *AgreementHandler) ApproveAgreement(c fiber.Ctx) error {
	caller, requestID, err := h.callerAndID(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	request, err := h.agreementService.Approve(ctx, caller.UserID, requestID)
	if err != nil {
		log.Printf("Failed to approve agreement %s: %v", requestID.Hex(), err)
		return failWith(c, err, "Failed to approve agreement")
	}

	agreementTransitions.WithLabelValues("approved").Inc()

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Agreement approved successfully",
		"data": fiber.Map{
			"agreement": request,
		},
	})
}

func (h *AgreementHandler) RejectAgreement(c fiber.Ctx) error {
	caller, requestID, err := h.callerAndID(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	request, err := h.agreementService.Reject(ctx, caller.UserID, requestID, req.Reason)
	if err != nil {
		log.Printf("Failed to reject agreement %s: %v", requestID.Hex(), err)
		return failWith(c, err, "Failed to reject agreement")
	}

	agreementTransitions.WithLabelValues("rejected").Inc()

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Agreement rejected",
		"data": fiber.Map{
			"agreement": request,
		},
	})
}

func (h *AgreementHandler) SignAgreement(c fiber.Ctx) error {
	caller, requestID, err := h.callerAndID(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := h.agreementService.Sign(ctx, caller.UserID, requestID)
	if err != nil {
		log.Printf("Failed to sign agreement %s: %v", requestID.Hex(), err)
		return failWith(c, err, "Failed to sign agreement")
	}

	if result.AlreadySigned {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Agreement was already signed",
			"data": fiber.Map{
				"agreement":     result.Request,
				"grant":         result.Grant,
				"alreadySigned": true,
			},
		})
	}

	agreementTransitions.WithLabelValues("signed").Inc()

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Agreement signed successfully",
		"data": fiber.Map{
			"agreement": result.Request,
			"grant":     result.Grant,
		},
	})
}

func (h *AgreementHandler) RevokeAgreement(c fiber.Ctx) error {
	caller, requestID, err := h.callerAndID(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	request, err := h.agreementService.Revoke(ctx, caller.UserID, requestID)
	if err != nil {
		log.Printf("Failed to revoke agreement %s: %v", requestID.Hex(), err)
		return failWith(c, err, "Failed to revoke agreement")
	}

	agreementTransitions.WithLabelValues("revoked").Inc()

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Agreement revoked",
		"data": fiber.Map{
			"agreement": request,
		},
	})
}

func (h *AgreementHandler) GetAgreement(c fiber.Ctx) error {
	caller, requestID, err := h.callerAndID(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	request, err := h.agreementService.Get(ctx, requestID)
	if err != nil {
		return failWith(c, err, "Failed to retrieve agreement")
	}

	// Agreements are visible to their two parties only.
	if request.RequesterID != caller.UserID && request.OwnerID != caller.UserID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You are not a party to this agreement",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{
			"agreement": request,
		},
	})
}

func (h *AgreementHandler) ListRequested(c fiber.Ctx) error {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	page, limit := pagination(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	requests, err := h.agreementService.ListByRequester(ctx, caller.UserID, page, limit)
	if err != nil {
		log.Printf("Failed to list agreements for requester %s: %v", caller.UserID, err)
		return failWith(c, err, "Failed to list agreements")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{
			"agreements": requests,
			"count":      len(requests),
			"page":       page,
		},
	})
}

func (h *AgreementHandler) ListOwned(c fiber.Ctx) error {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return failWith(c, err, "Failed to resolve caller")
	}

	page, limit := pagination(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	requests, err := h.agreementService.ListByOwner(ctx, caller.UserID, page, limit)
	if err != nil {
		log.Printf("Failed to list agreements for owner %s: %v", caller.UserID, err)
		return failWith(c, err, "Failed to list agreements")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{
			"agreements": requests,
			"count":      len(requests),
			"page":       page,
		},
	})
}

func (h *AgreementHandler) callerAndID(c fiber.Ctx) (*identity.Identity, bson.ObjectID, error) {
	caller, err := h.resolver.FromContext(c)
	if err != nil {
		return nil, bson.NilObjectID, err
	}

	requestID, err := bson.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return nil, bson.NilObjectID, models.NewValidationError("invalid agreement id")
	}

	return caller, requestID, nil
}

func pagination(c fiber.Ctx) (int, int) {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}

	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	return page, limit
}
