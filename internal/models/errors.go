package models

import (
	"errors"
	"fmt"
)

// DenialReason is the stable reason code attached to a denied decision.
// Denials are results, not errors; everything in errors.go below is for
// failures that abort the call instead.
type DenialReason string

const (
	ReasonNoRolePermission  DenialReason = "NoRolePermission"
	ReasonNotOwner          DenialReason = "NotOwner"
	ReasonAgreementRequired DenialReason = "AgreementRequired"
	ReasonExpiredAccess     DenialReason = "ExpiredAccess"
	ReasonNotEligible       DenialReason = "NotEligible"
)

func (r DenialReason) Message() string {
	switch r {
	case ReasonNoRolePermission:
		return "your roles do not include this permission"
	case ReasonNotOwner:
		return "this action is limited to the resource owner"
	case ReasonAgreementRequired:
		return "a signed NDA is required to access this content"
	case ReasonExpiredAccess:
		return "your access to this content has expired"
	case ReasonNotEligible:
		return "you are not eligible to request an NDA on this resource"
	}
	return "access denied"
}

var (
	ErrValidation             = errors.New("validation failed")
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrNotFound               = errors.New("not found")
	ErrRoleNotFound           = errors.New("role not registered")
	ErrUnknownPermission      = errors.New("unknown permission key")
	ErrDuplicateActiveRequest = errors.New("an active agreement request already exists for this resource")
	ErrInvalidStateTransition = errors.New("invalid agreement state transition")
	ErrNotEligible            = errors.New("requester is not eligible for an agreement on this resource")
	ErrNotRequestOwner        = errors.New("only the resource owner may decide this request")
	ErrNotRequester           = errors.New("only the requester may sign this request")
)

// InternalError wraps a storage or audit failure. Callers only ever see
// the correlation ID; the wrapped cause stays in the server-side log.
type InternalError struct {
	CorrelationID string
	Err           error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error (correlation %s): %v", e.CorrelationID, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

func NewValidationError(detail string) error {
	return fmt.Errorf("%w: %s", ErrValidation, detail)
}
