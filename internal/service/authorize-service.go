package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"access_service/internal/models"
)

// AuthorizeService is the single authorization gate. Every call site that
// needs a yes/no on an action goes through Authorize; there is no
// per-endpoint permission logic anywhere else.
type AuthorizeService struct {
	permissions *PermissionService
	userRoles   *UserRoleService
	grants      *GrantService
	auditRepo   AuditStore
}

func NewAuthorizeService(
	permissions *PermissionService,
	userRoles *UserRoleService,
	grants *GrantService,
	auditRepo AuditStore,
) *AuthorizeService {
	return &AuthorizeService{
		permissions: permissions,
		userRoles:   userRoles,
		grants:      grants,
		auditRepo:   auditRepo,
	}
}

// Authorize decides whether the user may perform the action named by
// permissionKey, optionally against a concrete resource.
//
// Two independent gates apply. First, role permission: the key must be in
// the union of the user's effective role permissions, or the user must
// own the resource and hold the key's _own variant. Second, for
// content-view permissions on a protected resource, a live view-level
// grant is additionally required, with ownership counting as an implicit
// grant. A role-permitted call that fails the second gate is denied as
// AgreementRequired so the caller can point the user at the NDA flow.
//
// Exactly one audit entry is written per invocation, before returning;
// if the audit write fails the whole call fails and no decision is
// produced.
func (s *AuthorizeService) Authorize(ctx context.Context, userID, permissionKey string, resource *models.Resource) (*models.Decision, error) {
	if userID == "" {
		return nil, models.ErrAuthenticationRequired
	}
	if !s.permissions.Known(permissionKey) {
		// A caller passing an unregistered key is a bug, not a denial.
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownPermission, permissionKey)
	}

	decision, err := s.decide(ctx, userID, permissionKey, resource)
	if err != nil {
		return nil, err
	}

	entry := &models.AuditEntry{
		UserID:        userID,
		Action:        "authorize",
		PermissionKey: permissionKey,
		Granted:       decision.Allowed,
		DenialReason:  string(decision.Reason),
		CreatedAt:     time.Now().Unix(),
	}
	if resource != nil {
		entry.ResourceType = resource.Type
		entry.ResourceID = resource.ID
	}
	if err := s.auditRepo.Record(ctx, entry); err != nil {
		// A decision is never returned without its audit record.
		return nil, newInternalError(fmt.Errorf("audit write failed for authorize: %w", err))
	}

	return decision, nil
}

func (s *AuthorizeService) decide(ctx context.Context, userID, permissionKey string, resource *models.Resource) (*models.Decision, error) {
	held, err := s.userRoles.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve effective permissions: %w", err)
	}

	isOwner := resource != nil && resource.OwnerID == userID

	// Gate one: role permission, with the ownership-scoped fallback.
	switch {
	case slices.Contains(held, permissionKey):
		// role grants the action on any resource
	case slices.Contains(held, permissionKey+models.OwnVariantSuffix):
		if !isOwner {
			return deny(models.ReasonNotOwner), nil
		}
	default:
		return deny(models.ReasonNoRolePermission), nil
	}

	// Gate two: protected content additionally needs a live grant.
	if resource != nil && resource.Protected && models.IsContentViewPermission(permissionKey) && !isOwner {
		hasGrant, err := s.grants.HasAccess(ctx, userID, resource.Type, resource.ID, models.AccessLevelView)
		if err != nil {
			return nil, fmt.Errorf("failed to check access grant: %w", err)
		}
		if !hasGrant {
			return deny(models.ReasonAgreementRequired), nil
		}
	}

	return &models.Decision{Allowed: true}, nil
}

// EffectivePermissions is the read API behind "my effective permissions".
func (s *AuthorizeService) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, models.ErrAuthenticationRequired
	}
	return s.userRoles.EffectivePermissions(ctx, userID)
}

func deny(reason models.DenialReason) *models.Decision {
	return &models.Decision{
		Allowed: false,
		Reason:  reason,
		Message: reason.Message(),
	}
}
