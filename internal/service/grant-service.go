package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"access_service/internal/events"
	"access_service/internal/models"
)

// GrantService maintains the access grant ledger. Agreement-method rows
// are written only by the agreement state machine; team and public rows
// come from the content-management collaborator through Grant.
type GrantService struct {
	grantRepo GrantStore
	auditRepo AuditStore
	publisher events.Publisher
}

func NewGrantService(grantRepo GrantStore, auditRepo AuditStore, publisher events.Publisher) *GrantService {
	return &GrantService{
		grantRepo: grantRepo,
		auditRepo: auditRepo,
		publisher: publisher,
	}
}

// Grant upserts an access grant for the (user, resource) key. Granting
// again updates level, method and expiry in place and clears a prior
// revocation.
func (s *GrantService) Grant(ctx context.Context, userID, resourceType, resourceID string, level models.AccessLevel, method models.GrantMethod, expiresAt int64) (*models.AccessGrant, error) {
	if userID == "" || resourceType == "" || resourceID == "" {
		return nil, models.NewValidationError("user id, resource type and resource id are required")
	}
	if !level.Valid() {
		return nil, models.NewValidationError(fmt.Sprintf("unknown access level %q", level))
	}
	if !method.Valid() {
		return nil, models.NewValidationError(fmt.Sprintf("unknown grant method %q", method))
	}

	grant := &models.AccessGrant{
		UserID:       userID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Level:        level,
		Method:       method,
		GrantedAt:    time.Now().Unix(),
		ExpiresAt:    expiresAt,
	}
	saved, err := s.grantRepo.Upsert(ctx, grant)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, "grant.issue", saved)
	s.publish(events.EventTypeGrantIssued, saved)
	return saved, nil
}

// Revoke marks the grant revoked. The row is kept for audit; revoking a
// missing or already-revoked grant is a no-op.
func (s *GrantService) Revoke(ctx context.Context, userID, resourceType, resourceID string) error {
	if err := s.grantRepo.Revoke(ctx, userID, resourceType, resourceID, time.Now().Unix()); err != nil {
		return err
	}
	revoked := &models.AccessGrant{
		UserID:       userID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
	s.audit(ctx, "grant.revoke", revoked)
	s.publish(events.EventTypeGrantRevoked, revoked)
	return nil
}

// audit records ledger writes best effort. Grant rows are themselves
// durable, so a lost audit line never blocks the grant.
func (s *GrantService) audit(ctx context.Context, action string, grant *models.AccessGrant) {
	entry := &models.AuditEntry{
		UserID:       grant.UserID,
		Action:       action,
		ResourceType: grant.ResourceType,
		ResourceID:   grant.ResourceID,
		Granted:      action == "grant.issue",
		Detail:       string(grant.Method),
	}
	if err := s.auditRepo.Record(ctx, entry); err != nil {
		log.Printf("Failed to record audit entry %s for user %s: %v", action, grant.UserID, err)
	}
}

func (s *GrantService) publish(eventType string, grant *models.AccessGrant) {
	if s.publisher == nil {
		return
	}
	event := &events.GrantEvent{
		EventType:    eventType,
		UserID:       grant.UserID,
		ResourceType: grant.ResourceType,
		ResourceID:   grant.ResourceID,
		Level:        string(grant.Level),
		Method:       string(grant.Method),
		Timestamp:    time.Now().Unix(),
	}
	if err := s.publisher.PublishGrantEvent(event); err != nil {
		log.Printf("Warning: failed to publish %s event: %v", eventType, err)
	}
}

// HasAccess reports whether the user holds a live grant of at least
// minLevel on the resource. Revoked rows and rows past their expiry are
// dead at read time regardless of any sweeping.
func (s *GrantService) HasAccess(ctx context.Context, userID, resourceType, resourceID string, minLevel models.AccessLevel) (bool, error) {
	grant, err := s.grantRepo.Find(ctx, userID, resourceType, resourceID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if !grant.ActiveAt(time.Now().Unix()) {
		return false, nil
	}
	return grant.Level.AtLeast(minLevel), nil
}

// ListAccessible pages through the user's live grants for a resource type.
func (s *GrantService) ListAccessible(ctx context.Context, userID, resourceType string, page, limit int) ([]*models.AccessGrant, error) {
	return s.grantRepo.FindActiveByUser(ctx, userID, resourceType, page, limit)
}

// RebuildFromAgreements regenerates every agreement-method grant from the
// agreement collection, the source of truth. Run after a crash that may
// have separated a status update from its ledger side effect.
func (s *GrantService) RebuildFromAgreements(ctx context.Context, agreementRepo AgreementStore, ttl time.Duration) (int, error) {
	now := time.Now().Unix()

	revoked, err := s.grantRepo.RevokeByMethod(ctx, models.GrantMethodAgreement, now)
	if err != nil {
		return 0, err
	}
	log.Printf("Reconciliation: cleared %d agreement grants", revoked)

	signed, err := agreementRepo.FindByStatus(ctx, models.AgreementStatusSigned)
	if err != nil {
		return 0, fmt.Errorf("failed to load signed agreements: %w", err)
	}

	rebuilt := 0
	for _, request := range signed {
		expiresAt := request.ExpiresAt
		if expiresAt == 0 {
			expiresAt = request.SignedAt + int64(ttl.Seconds())
		}
		if expiresAt <= now {
			// Lazy expiry will flip the request itself on next read.
			continue
		}

		grant := &models.AccessGrant{
			UserID:       request.RequesterID,
			ResourceType: request.ResourceType,
			ResourceID:   request.ResourceID,
			Level:        models.AccessLevelView,
			Method:       models.GrantMethodAgreement,
			GrantedAt:    request.SignedAt,
			ExpiresAt:    expiresAt,
		}
		if _, err := s.grantRepo.Upsert(ctx, grant); err != nil {
			return rebuilt, fmt.Errorf("failed to rebuild grant for agreement %s: %w", request.ID.Hex(), err)
		}
		rebuilt++
	}

	log.Printf("Reconciliation: rebuilt %d agreement grants", rebuilt)
	return rebuilt, nil
}
