package service

import (
	"log"

	"access_service/internal/models"

	"github.com/google/uuid"
)

// newInternalError tags a storage or audit failure with a correlation ID.
// The full cause is logged server-side; callers only ever relay the ID.
func newInternalError(err error) error {
	correlationID := uuid.NewString()
	log.Printf("Internal error [%s]: %v", correlationID, err)
	return &models.InternalError{
		CorrelationID: correlationID,
		Err:           err,
	}
}
