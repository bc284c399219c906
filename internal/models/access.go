package models

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Enums and Constants
type AccessLevel string

const (
	AccessLevelView  AccessLevel = "view"
	AccessLevelEdit  AccessLevel = "edit"
	AccessLevelAdmin AccessLevel = "admin"
)

var accessLevelRank = map[AccessLevel]int{
	AccessLevelView:  1,
	AccessLevelEdit:  2,
	AccessLevelAdmin: 3,
}

// AtLeast reports whether l satisfies the minimum level min under the
// view < edit < admin ordering. Unknown levels never satisfy anything.
func (l AccessLevel) AtLeast(min AccessLevel) bool {
	lr, ok := accessLevelRank[l]
	if !ok {
		return false
	}
	mr, ok := accessLevelRank[min]
	if !ok {
		return false
	}
	return lr >= mr
}

func (l AccessLevel) Valid() bool {
	_, ok := accessLevelRank[l]
	return ok
}

type GrantMethod string

const (
	// GrantMethodAgreement rows are written exclusively by the agreement
	// state machine on sign, and revoked by its revoke/expire transitions.
	GrantMethodAgreement GrantMethod = "agreement"
	GrantMethodTeam      GrantMethod = "team"
	GrantMethodPublic    GrantMethod = "public"
)

func (m GrantMethod) Valid() bool {
	switch m {
	case GrantMethodAgreement, GrantMethodTeam, GrantMethodPublic:
		return true
	}
	return false
}

type AgreementStatus string

const (
	AgreementStatusPending  AgreementStatus = "pending"
	AgreementStatusApproved AgreementStatus = "approved"
	AgreementStatusRejected AgreementStatus = "rejected"
	AgreementStatusSigned   AgreementStatus = "signed"
	AgreementStatusExpired  AgreementStatus = "expired"
	AgreementStatusRevoked  AgreementStatus = "revoked"
)

// Terminal reports whether the status ends this request instance. A
// terminal request never blocks a brand-new request for the same pair.
func (s AgreementStatus) Terminal() bool {
	switch s {
	case AgreementStatusRejected, AgreementStatusExpired, AgreementStatusRevoked:
		return true
	}
	return false
}

// Active covers the statuses that block a duplicate request.
func (s AgreementStatus) Active() bool {
	switch s {
	case AgreementStatusPending, AgreementStatusApproved, AgreementStatusSigned:
		return true
	}
	return false
}

// Core Models

type Permission struct {
	ID          bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Key         string        `bson:"key" json:"key"`
	Description string        `bson:"description,omitempty" json:"description"`
	Category    string        `bson:"category,omitempty" json:"category"`
	IsSystem    bool          `bson:"isSystem" json:"isSystem"`
	CreatedAt   int64         `bson:"createdAt" json:"createdAt"`
}

type Role struct {
	ID          bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Name        string        `bson:"name" json:"name"`
	Description string        `bson:"description,omitempty" json:"description"`
	Permissions []string      `bson:"permissions" json:"permissions"`
	IsSystem    bool          `bson:"isSystem" json:"isSystem"`
	CreatedAt   int64         `bson:"createdAt" json:"createdAt"`
	UpdatedAt   int64         `bson:"updatedAt" json:"updatedAt"`
}

type UserRole struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string        `bson:"userId" json:"userId"`
	RoleID    bson.ObjectID `bson:"roleId" json:"roleId"`
	RoleName  string        `bson:"roleName" json:"roleName"`
	GrantedBy string        `bson:"grantedBy" json:"grantedBy"`
	GrantedAt int64         `bson:"grantedAt" json:"grantedAt"`
	ExpiresAt int64         `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	IsActive  bool          `bson:"isActive" json:"isActive"`
}

// AccessGrant is a derived projection: agreement-method rows are always
// rebuildable from the AgreementRequest collection. Ownership is never
// materialized here; it is computed from the resource's owner at decision
// time.
type AccessGrant struct {
	ID           bson.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string        `bson:"userId" json:"userId"`
	ResourceType string        `bson:"resourceType" json:"resourceType"`
	ResourceID   string        `bson:"resourceId" json:"resourceId"`
	Level        AccessLevel   `bson:"level" json:"level"`
	Method       GrantMethod   `bson:"method" json:"method"`
	GrantedAt    int64         `bson:"grantedAt" json:"grantedAt"`
	ExpiresAt    int64         `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	RevokedAt    int64         `bson:"revokedAt,omitempty" json:"revokedAt,omitempty"`
}

// ActiveAt reports whether the grant is usable at the given unix time:
// not revoked and not past its expiry. Expiry is a read-time predicate;
// rows are never deleted on expiry.
func (g *AccessGrant) ActiveAt(now int64) bool {
	if g.RevokedAt != 0 {
		return false
	}
	if g.ExpiresAt != 0 && g.ExpiresAt <= now {
		return false
	}
	return true
}

type AgreementRequest struct {
	ID             bson.ObjectID   `bson:"_id,omitempty" json:"id"`
	ResourceType   string          `bson:"resourceType" json:"resourceType"`
	ResourceID     string          `bson:"resourceId" json:"resourceId"`
	RequesterID    string          `bson:"requesterId" json:"requesterId"`
	OwnerID        string          `bson:"ownerId" json:"ownerId"`
	Status         AgreementStatus `bson:"status" json:"status"`
	RequestedAt    int64           `bson:"requestedAt" json:"requestedAt"`
	DecidedAt      int64           `bson:"decidedAt,omitempty" json:"decidedAt,omitempty"`
	SignedAt       int64           `bson:"signedAt,omitempty" json:"signedAt,omitempty"`
	ExpiresAt      int64           `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	DecisionReason string          `bson:"decisionReason,omitempty" json:"decisionReason,omitempty"`
}

// AuditEntry rows are append-only; nothing in the service mutates them
// once written.
type AuditEntry struct {
	ID            bson.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID        string        `bson:"userId" json:"userId"`
	Action        string        `bson:"action" json:"action"`
	ResourceType  string        `bson:"resourceType,omitempty" json:"resourceType,omitempty"`
	ResourceID    string        `bson:"resourceId,omitempty" json:"resourceId,omitempty"`
	PermissionKey string        `bson:"permissionKey,omitempty" json:"permissionKey,omitempty"`
	Granted       bool          `bson:"granted" json:"granted"`
	DenialReason  string        `bson:"denialReason,omitempty" json:"denialReason,omitempty"`
	Detail        string        `bson:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt     int64         `bson:"createdAt" json:"createdAt"`
}

// Resource is the slice of resource metadata the content-management
// subsystem hands us on every call that concerns a concrete resource.
type Resource struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Protected bool   `json:"protected"`
}

// Decision is the structured outcome of an authorize call.
type Decision struct {
	Allowed bool         `json:"allowed"`
	Reason  DenialReason `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`
}

// SignResult reports the outcome of a sign transition. AlreadySigned is
// set when the request was signed before this call (idempotent replay or
// a lost race); the grant state returned is the existing one, unchanged.
type SignResult struct {
	Request       *AgreementRequest `json:"request"`
	Grant         *AccessGrant      `json:"grant,omitempty"`
	AlreadySigned bool              `json:"alreadySigned"`
}

type AuditQuery struct {
	UserID       string
	ResourceType string
	ResourceID   string
	Action       string
	Granted      *bool
	From         int64
	To           int64
	Page         int
	Limit        int
}
