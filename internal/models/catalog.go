package models

// Resource types known to the marketplace.
const (
	ResourceTypePitch = "pitch"
	ResourceTypeMedia = "media"
)

// Constituency and system roles.
const (
	RoleCreator    = "creator"
	RoleInvestor   = "investor"
	RoleProduction = "production"
	RoleAdmin      = "admin"
	RoleGuest      = "guest"
)

// Permission keys. The "_own" suffix marks the ownership-scoped variant:
// holding pitch:edit_own permits pitch:edit only on resources the caller
// owns.
const (
	PermPitchView       = "pitch:view"
	PermPitchViewFull   = "pitch:view_full"
	PermPitchCreate     = "pitch:create"
	PermPitchEdit       = "pitch:edit"
	PermPitchEditOwn    = "pitch:edit_own"
	PermPitchDelete     = "pitch:delete"
	PermPitchDeleteOwn  = "pitch:delete_own"
	PermPitchPublishOwn = "pitch:publish_own"
	PermMediaView       = "media:view"
	PermNDARequest      = "nda:request"
	PermNDAApproveOwn   = "nda:approve_own"
	PermNDASign         = "nda:sign"
	PermNDARevokeOwn    = "nda:revoke_own"
	PermGrantTeam       = "grant:team"
	PermGrantPublic     = "grant:public"
	PermGrantRebuild    = "grant:rebuild"
	PermAuditRead       = "audit:read"
	PermRoleAssign      = "role:assign"
	PermRoleRevoke      = "role:revoke"
	PermPermissionRead  = "permission:read"
)

// OwnVariantSuffix turns a base key into its ownership-scoped variant.
const OwnVariantSuffix = "_own"

// contentViewPermissions are the permission classes that expose protected
// content itself rather than its public listing. For these, role
// permission alone is never enough on a protected resource; an active
// access grant (or ownership) is a second independent gate.
var contentViewPermissions = map[string]bool{
	PermPitchViewFull: true,
	PermMediaView:     true,
}

func IsContentViewPermission(key string) bool {
	return contentViewPermissions[key]
}

// DefaultPermissions is the catalog seeded on startup.
func DefaultPermissions() []Permission {
	return []Permission{
		{Key: PermPitchView, Category: "pitch", Description: "View public pitch listings", IsSystem: true},
		{Key: PermPitchViewFull, Category: "pitch", Description: "View full protected pitch content", IsSystem: true},
		{Key: PermPitchCreate, Category: "pitch", Description: "Create pitches", IsSystem: true},
		{Key: PermPitchEdit, Category: "pitch", Description: "Edit any pitch", IsSystem: true},
		{Key: PermPitchEditOwn, Category: "pitch", Description: "Edit own pitches", IsSystem: true},
		{Key: PermPitchDelete, Category: "pitch", Description: "Delete any pitch", IsSystem: true},
		{Key: PermPitchDeleteOwn, Category: "pitch", Description: "Delete own pitches", IsSystem: true},
		{Key: PermPitchPublishOwn, Category: "pitch", Description: "Publish own pitches", IsSystem: true},
		{Key: PermMediaView, Category: "media", Description: "View protected pitch media", IsSystem: true},
		{Key: PermNDARequest, Category: "nda", Description: "Request an NDA on a pitch", IsSystem: true},
		{Key: PermNDAApproveOwn, Category: "nda", Description: "Approve or reject NDA requests on own pitches", IsSystem: true},
		{Key: PermNDASign, Category: "nda", Description: "Sign an approved NDA", IsSystem: true},
		{Key: PermNDARevokeOwn, Category: "nda", Description: "Revoke a signed NDA on own pitches", IsSystem: true},
		{Key: PermGrantTeam, Category: "grant", Description: "Issue team access grants", IsSystem: true},
		{Key: PermGrantPublic, Category: "grant", Description: "Issue public access grants", IsSystem: true},
		{Key: PermGrantRebuild, Category: "grant", Description: "Rebuild agreement grants from the agreement ledger", IsSystem: true},
		{Key: PermAuditRead, Category: "audit", Description: "Query the audit log", IsSystem: true},
		{Key: PermRoleAssign, Category: "role", Description: "Assign roles to users", IsSystem: true},
		{Key: PermRoleRevoke, Category: "role", Description: "Revoke roles from users", IsSystem: true},
		{Key: PermPermissionRead, Category: "permission", Description: "List the permission catalog", IsSystem: true},
	}
}

// DefaultRoles maps each system role to its permission set.
func DefaultRoles() []Role {
	return []Role{
		{
			Name:        RoleCreator,
			Description: "Content originator: owns pitches, never requests NDAs",
			IsSystem:    true,
			Permissions: []string{
				PermPitchView, PermPitchCreate, PermPitchEditOwn,
				PermPitchDeleteOwn, PermPitchPublishOwn,
				PermNDAApproveOwn, PermNDARevokeOwn,
				PermGrantTeam,
			},
		},
		{
			Name:        RoleInvestor,
			Description: "Evaluator: views protected content under NDA",
			IsSystem:    true,
			Permissions: []string{
				PermPitchView, PermPitchViewFull, PermMediaView,
				PermNDARequest, PermNDASign,
			},
		},
		{
			Name:        RoleProduction,
			Description: "Acquirer: views protected content under NDA",
			IsSystem:    true,
			Permissions: []string{
				PermPitchView, PermPitchViewFull, PermMediaView,
				PermNDARequest, PermNDASign,
			},
		},
		{
			Name:        RoleAdmin,
			Description: "Platform administrator",
			IsSystem:    true,
			Permissions: []string{
				PermPitchView, PermPitchViewFull, PermPitchEdit,
				PermPitchDelete, PermMediaView,
				PermGrantTeam, PermGrantPublic, PermGrantRebuild,
				PermAuditRead, PermRoleAssign, PermRoleRevoke,
				PermPermissionRead,
			},
		},
		{
			Name:        RoleGuest,
			Description: "Unverified account: public listings only",
			IsSystem:    true,
			Permissions: []string{PermPitchView},
		},
	}
}
