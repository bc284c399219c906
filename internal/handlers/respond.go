package handlers

import (
	"errors"
	"log"

	"access_service/internal/models"

	"github.com/gofiber/fiber/v3"
)

// failWith maps service errors onto HTTP statuses. Internal errors hide
// the cause and expose only the correlation ID from the server log.
func failWith(c fiber.Ctx, err error, fallback string) error {
	var internal *models.InternalError
	if errors.As(err, &internal) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":         "Internal error",
			"correlationId": internal.CorrelationID,
		})
	}

	switch {
	case errors.Is(err, models.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, models.ErrAuthenticationRequired):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrRoleNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, models.ErrUnknownPermission):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, models.ErrDuplicateActiveRequest):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, models.ErrInvalidStateTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, models.ErrNotEligible),
		errors.Is(err, models.ErrNotRequestOwner),
		errors.Is(err, models.ErrNotRequester):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	log.Printf("%s: %v", fallback, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fallback,
	})
}
