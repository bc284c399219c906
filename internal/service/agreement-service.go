package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"access_service/internal/events"
	"access_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// AgreementService drives the NDA lifecycle:
//
//	(none) --request--> pending --approve--> approved --sign--> signed
//	                    pending --reject--> rejected
//	                    signed --revoke--> revoked
//	                    signed --expiry--> expired
//
// rejected, expired and revoked are terminal for the request instance; a
// fresh request for the same pair may follow. The signing transition is
// the only writer of agreement-method ledger rows, and revoke/expire are
// the only removers. Status updates are compare-and-set so concurrent
// callers cannot apply the same transition twice.
type AgreementService struct {
	agreementRepo AgreementStore
	grantRepo     GrantStore
	auditRepo     AuditStore
	userRoles     *UserRoleService
	publisher     events.Publisher
	ttl           time.Duration
}

func NewAgreementService(
	agreementRepo AgreementStore,
	grantRepo GrantStore,
	auditRepo AuditStore,
	userRoles *UserRoleService,
	publisher events.Publisher,
	ttlDays int,
) *AgreementService {
	return &AgreementService{
		agreementRepo: agreementRepo,
		grantRepo:     grantRepo,
		auditRepo:     auditRepo,
		userRoles:     userRoles,
		publisher:     publisher,
		ttl:           time.Duration(ttlDays) * 24 * time.Hour,
	}
}

// Request opens a pending NDA request on a protected resource.
// Eligibility: the requester must not own the resource and must hold the
// investor or production role; creators are never eligible requesters, on
// any resource. An active prior request for the same pair is rejected
// with ErrDuplicateActiveRequest; a terminal one does not block.
func (s *AgreementService) Request(ctx context.Context, requesterID string, resource models.Resource) (*models.AgreementRequest, error) {
	if requesterID == "" {
		return nil, models.ErrAuthenticationRequired
	}
	if resource.ID == "" || resource.OwnerID == "" {
		return nil, models.NewValidationError("resource id and owner are required")
	}
	if resource.Type == "" {
		resource.Type = models.ResourceTypePitch
	}

	if requesterID == resource.OwnerID {
		s.auditAttempt(ctx, requesterID, "nda.request", resource.Type, resource.ID, false, models.ReasonNotEligible)
		return nil, models.ErrNotEligible
	}

	eligible, err := s.userRoles.HasAnyRole(ctx, requesterID, models.RoleInvestor, models.RoleProduction)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve requester roles: %w", err)
	}
	if !eligible {
		s.auditAttempt(ctx, requesterID, "nda.request", resource.Type, resource.ID, false, models.ReasonNotEligible)
		return nil, models.ErrNotEligible
	}

	existing, err := s.agreementRepo.FindActive(ctx, resource.ID, requesterID)
	if err == nil && existing != nil {
		// A signed request past its TTL is no longer a blocker.
		existing, err = s.evaluateExpiry(ctx, existing)
		if err != nil {
			return nil, err
		}
		if existing.Status.Active() {
			s.auditAttempt(ctx, requesterID, "nda.request", resource.Type, resource.ID, false, "DuplicateActiveRequest")
			return nil, models.ErrDuplicateActiveRequest
		}
	} else if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to check active requests: %w", err)
	}

	request := &models.AgreementRequest{
		ResourceType: resource.Type,
		ResourceID:   resource.ID,
		RequesterID:  requesterID,
		OwnerID:      resource.OwnerID,
		Status:       models.AgreementStatusPending,
		RequestedAt:  time.Now().Unix(),
	}

	created, err := s.agreementRepo.New(ctx, request)
	if err != nil {
		return nil, err
	}

	if err := s.auditTransition(ctx, requesterID, "nda.request", created); err != nil {
		return nil, err
	}
	s.publish(events.EventTypeNDARequested, created, "")

	return created, nil
}

// Approve moves a pending request to approved. Only the resource owner
// may decide.
func (s *AgreementService) Approve(ctx context.Context, actorID string, requestID bson.ObjectID) (*models.AgreementRequest, error) {
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actorID != request.OwnerID {
		return nil, models.ErrNotRequestOwner
	}

	now := time.Now().Unix()
	won, err := s.agreementRepo.UpdateStatus(ctx, request.ID,
		models.AgreementStatusPending, models.AgreementStatusApproved,
		map[string]any{"decidedAt": now})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, s.transitionConflict(ctx, request.ID, "approve")
	}

	request.Status = models.AgreementStatusApproved
	request.DecidedAt = now

	if err := s.auditTransition(ctx, actorID, "nda.approve", request); err != nil {
		return nil, err
	}
	s.publish(events.EventTypeNDAApproved, request, "")

	return request, nil
}

// Reject moves a pending request to rejected, recording the owner's
// reason. Rejected is terminal for this instance.
func (s *AgreementService) Reject(ctx context.Context, actorID string, requestID bson.ObjectID, reason string) (*models.AgreementRequest, error) {
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actorID != request.OwnerID {
		return nil, models.ErrNotRequestOwner
	}

	now := time.Now().Unix()
	won, err := s.agreementRepo.UpdateStatus(ctx, request.ID,
		models.AgreementStatusPending, models.AgreementStatusRejected,
		map[string]any{"decidedAt": now, "decisionReason": reason})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, s.transitionConflict(ctx, request.ID, "reject")
	}

	request.Status = models.AgreementStatusRejected
	request.DecidedAt = now
	request.DecisionReason = reason

	if err := s.auditTransition(ctx, actorID, "nda.reject", request); err != nil {
		return nil, err
	}
	s.publish(events.EventTypeNDARejected, request, reason)

	return request, nil
}

// Sign moves an approved request to signed and writes the view-level
// agreement grant in the same logical operation. Signing an
// already-signed request is idempotent: the existing state is returned
// with AlreadySigned set and no second grant or transition entry is
// produced. Concurrent signers race on the status compare-and-set and
// exactly one wins.
func (s *AgreementService) Sign(ctx context.Context, actorID string, requestID bson.ObjectID) (*models.SignResult, error) {
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actorID != request.RequesterID {
		return nil, models.ErrNotRequester
	}

	switch request.Status {
	case models.AgreementStatusSigned:
		return s.alreadySigned(ctx, actorID, request)
	case models.AgreementStatusApproved:
		// fall through to the transition below
	default:
		return nil, fmt.Errorf("%w: cannot sign a %s request", models.ErrInvalidStateTransition, request.Status)
	}

	now := time.Now().Unix()
	expiresAt := now + int64(s.ttl.Seconds())

	won, err := s.agreementRepo.UpdateStatus(ctx, request.ID,
		models.AgreementStatusApproved, models.AgreementStatusSigned,
		map[string]any{"signedAt": now, "expiresAt": expiresAt})
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the race. If the winner signed it, report idempotently.
		current, err := s.agreementRepo.FindByID(ctx, request.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.AgreementStatusSigned {
			return s.alreadySigned(ctx, actorID, current)
		}
		return nil, fmt.Errorf("%w: cannot sign a %s request", models.ErrInvalidStateTransition, current.Status)
	}

	request.Status = models.AgreementStatusSigned
	request.SignedAt = now
	request.ExpiresAt = expiresAt

	grant := &models.AccessGrant{
		UserID:       request.RequesterID,
		ResourceType: request.ResourceType,
		ResourceID:   request.ResourceID,
		Level:        models.AccessLevelView,
		Method:       models.GrantMethodAgreement,
		GrantedAt:    now,
		ExpiresAt:    expiresAt,
	}
	written, err := s.grantRepo.Upsert(ctx, grant)
	if err != nil {
		// Status already moved; the ledger can be rebuilt from signed
		// agreements, so surface this as requiring reconciliation.
		return nil, fmt.Errorf("agreement %s signed but grant not written, reconciliation required: %w", request.ID.Hex(), err)
	}

	if err := s.auditTransition(ctx, actorID, "nda.sign", request); err != nil {
		return nil, err
	}
	s.publish(events.EventTypeNDASigned, request, "")

	return &models.SignResult{Request: request, Grant: written}, nil
}

// Revoke moves a signed request to revoked and deactivates its grant.
func (s *AgreementService) Revoke(ctx context.Context, actorID string, requestID bson.ObjectID) (*models.AgreementRequest, error) {
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actorID != request.OwnerID {
		return nil, models.ErrNotRequestOwner
	}

	now := time.Now().Unix()
	won, err := s.agreementRepo.UpdateStatus(ctx, request.ID,
		models.AgreementStatusSigned, models.AgreementStatusRevoked,
		map[string]any{"decidedAt": now})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, s.transitionConflict(ctx, request.ID, "revoke")
	}

	request.Status = models.AgreementStatusRevoked
	request.DecidedAt = now

	if err := s.grantRepo.Revoke(ctx, request.RequesterID, request.ResourceType, request.ResourceID, now); err != nil {
		return nil, fmt.Errorf("agreement %s revoked but grant still live, reconciliation required: %w", request.ID.Hex(), err)
	}

	if err := s.auditTransition(ctx, actorID, "nda.revoke", request); err != nil {
		return nil, err
	}
	s.publish(events.EventTypeNDARevoked, request, "")

	return request, nil
}

// Get loads a request, applying lazy expiry on the way out.
func (s *AgreementService) Get(ctx context.Context, requestID bson.ObjectID) (*models.AgreementRequest, error) {
	return s.load(ctx, requestID)
}

func (s *AgreementService) ListByRequester(ctx context.Context, requesterID string, page, limit int) ([]*models.AgreementRequest, error) {
	requests, err := s.agreementRepo.FindByRequester(ctx, requesterID, page, limit)
	if err != nil {
		return nil, err
	}
	return s.evaluateExpiryAll(ctx, requests)
}

func (s *AgreementService) ListByOwner(ctx context.Context, ownerID string, page, limit int) ([]*models.AgreementRequest, error) {
	requests, err := s.agreementRepo.FindByOwner(ctx, ownerID, page, limit)
	if err != nil {
		return nil, err
	}
	return s.evaluateExpiryAll(ctx, requests)
}

func (s *AgreementService) load(ctx context.Context, requestID bson.ObjectID) (*models.AgreementRequest, error) {
	request, err := s.agreementRepo.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.evaluateExpiry(ctx, request)
}

// evaluateExpiry flips a signed request past its TTL to expired and
// deactivates its grant. Expiry is evaluated lazily on every read; no
// background scheduler is assumed.
func (s *AgreementService) evaluateExpiry(ctx context.Context, request *models.AgreementRequest) (*models.AgreementRequest, error) {
	if request.Status != models.AgreementStatusSigned {
		return request, nil
	}
	now := time.Now().Unix()
	if request.ExpiresAt == 0 || request.ExpiresAt > now {
		return request, nil
	}

	won, err := s.agreementRepo.UpdateStatus(ctx, request.ID,
		models.AgreementStatusSigned, models.AgreementStatusExpired,
		map[string]any{"decidedAt": now})
	if err != nil {
		return nil, err
	}
	if !won {
		// Another reader expired it first.
		return s.agreementRepo.FindByID(ctx, request.ID)
	}

	request.Status = models.AgreementStatusExpired
	request.DecidedAt = now

	if err := s.grantRepo.Revoke(ctx, request.RequesterID, request.ResourceType, request.ResourceID, now); err != nil {
		return nil, fmt.Errorf("agreement %s expired but grant still live, reconciliation required: %w", request.ID.Hex(), err)
	}

	if err := s.auditTransition(ctx, request.RequesterID, "nda.expire", request); err != nil {
		return nil, err
	}
	s.publish(events.EventTypeNDAExpired, request, "")

	return request, nil
}

func (s *AgreementService) evaluateExpiryAll(ctx context.Context, requests []*models.AgreementRequest) ([]*models.AgreementRequest, error) {
	for i, request := range requests {
		evaluated, err := s.evaluateExpiry(ctx, request)
		if err != nil {
			return nil, err
		}
		requests[i] = evaluated
	}
	return requests, nil
}

// alreadySigned reports the existing signed state unchanged. An audit
// attempt entry is still written for forensic completeness, but no
// transition entry and no new grant.
func (s *AgreementService) alreadySigned(ctx context.Context, actorID string, request *models.AgreementRequest) (*models.SignResult, error) {
	grant, err := s.grantRepo.Find(ctx, request.RequesterID, request.ResourceType, request.ResourceID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	s.auditAttempt(ctx, actorID, "nda.sign.duplicate", request.ResourceType, request.ResourceID, true, "")
	return &models.SignResult{Request: request, Grant: grant, AlreadySigned: true}, nil
}

// HandleResourceDeleted revokes every active agreement and every grant
// on a resource the content service has deleted. Ownership-implicit
// access needs no cleanup; it disappears with the resource itself.
func (s *AgreementService) HandleResourceDeleted(ctx context.Context, resourceType, resourceID string) error {
	if resourceType == "" {
		resourceType = models.ResourceTypePitch
	}
	now := time.Now().Unix()

	active, err := s.agreementRepo.FindActiveByResource(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("failed to load active agreements for %s: %w", resourceID, err)
	}

	for _, request := range active {
		won, err := s.agreementRepo.UpdateStatus(ctx, request.ID,
			request.Status, models.AgreementStatusRevoked,
			map[string]any{"decidedAt": now, "decisionReason": "resource deleted"})
		if err != nil {
			return err
		}
		if !won {
			continue
		}

		request.Status = models.AgreementStatusRevoked
		request.DecidedAt = now
		request.DecisionReason = "resource deleted"

		if err := s.auditTransition(ctx, request.OwnerID, "nda.revoke", request); err != nil {
			return err
		}
		s.publish(events.EventTypeNDARevoked, request, "resource deleted")
	}

	revoked, err := s.grantRepo.RevokeByResource(ctx, resourceType, resourceID, now)
	if err != nil {
		return err
	}
	log.Printf("Revoked %d grants on deleted %s %s", revoked, resourceType, resourceID)

	return nil
}

// transitionConflict maps a lost compare-and-set to a typed error naming
// the state the request had actually reached.
func (s *AgreementService) transitionConflict(ctx context.Context, requestID bson.ObjectID, trigger string) error {
	current, err := s.agreementRepo.FindByID(ctx, requestID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot %s a %s request", models.ErrInvalidStateTransition, trigger, current.Status)
}

// auditTransition records a state transition. Failure to audit fails the
// whole call; a transition is never reported without its record.
func (s *AgreementService) auditTransition(ctx context.Context, actorID, action string, request *models.AgreementRequest) error {
	entry := &models.AuditEntry{
		UserID:       actorID,
		Action:       action,
		ResourceType: request.ResourceType,
		ResourceID:   request.ResourceID,
		Granted:      true,
		Detail:       string(request.Status),
		CreatedAt:    time.Now().Unix(),
	}
	if err := s.auditRepo.Record(ctx, entry); err != nil {
		return newInternalError(fmt.Errorf("audit write failed for %s: %w", action, err))
	}
	return nil
}

// auditAttempt records a denied or duplicate attempt. Best effort: a
// failed attempt record is logged but does not mask the caller's result.
func (s *AgreementService) auditAttempt(ctx context.Context, actorID, action, resourceType, resourceID string, granted bool, reason models.DenialReason) {
	entry := &models.AuditEntry{
		UserID:       actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Granted:      granted,
		DenialReason: string(reason),
		CreatedAt:    time.Now().Unix(),
	}
	if err := s.auditRepo.Record(ctx, entry); err != nil {
		log.Printf("Failed to record audit attempt %s for user %s: %v", action, actorID, err)
	}
}

func (s *AgreementService) publish(eventType string, request *models.AgreementRequest, reason string) {
	if s.publisher == nil {
		return
	}

	event := &events.AgreementEvent{
		EventType:   eventType,
		AgreementID: request.ID.Hex(),
		ResourceID:  request.ResourceID,
		RequesterID: request.RequesterID,
		OwnerID:     request.OwnerID,
		Status:      string(request.Status),
		Reason:      reason,
		Timestamp:   time.Now().Unix(),
	}
	// Notification delivery is a handoff, never awaited for correctness.
	if err := s.publisher.PublishAgreementEvent(event); err != nil {
		log.Printf("Failed to publish %s event for agreement %s: %v", eventType, request.ID.Hex(), err)
	}
}
