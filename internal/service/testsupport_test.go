package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"access_service/internal/events"
	"access_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// In-memory store fakes. They mirror the Mongo repositories' observable
// behavior: sentinel errors, compare-and-set status updates, and
// active/expiry filtering at read time.

type fakeRoleStore struct {
	mu    sync.Mutex
	roles map[string]*models.Role
}

func newFakeRoleStore() *fakeRoleStore {
	return &fakeRoleStore{roles: make(map[string]*models.Role)}
}

func (s *fakeRoleStore) Ensure(ctx context.Context, role *models.Role) (*models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.roles[role.Name]; ok {
		return existing, nil
	}
	stored := *role
	stored.ID = bson.NewObjectID()
	stored.CreatedAt = time.Now().Unix()
	s.roles[role.Name] = &stored
	return &stored, nil
}

func (s *fakeRoleStore) FindByName(ctx context.Context, name string) (*models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrRoleNotFound, name)
	}
	return role, nil
}

func (s *fakeRoleStore) FindByID(ctx context.Context, id bson.ObjectID) (*models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range s.roles {
		if role.ID == id {
			return role, nil
		}
	}
	return nil, models.ErrRoleNotFound
}

func (s *fakeRoleStore) FindAll(ctx context.Context) ([]*models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*models.Role, 0, len(s.roles))
	for _, role := range s.roles {
		all = append(all, role)
	}
	return all, nil
}

type fakeUserRoleStore struct {
	mu          sync.Mutex
	assignments []*models.UserRole
}

func newFakeUserRoleStore() *fakeUserRoleStore {
	return &fakeUserRoleStore{}
}

func (s *fakeUserRoleStore) Create(ctx context.Context, userRole *models.UserRole) (*models.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *userRole
	stored.ID = bson.NewObjectID()
	s.assignments = append(s.assignments, &stored)
	return &stored, nil
}

func (s *fakeUserRoleStore) live(ur *models.UserRole, now int64) bool {
	if !ur.IsActive {
		return false
	}
	if ur.ExpiresAt != 0 && ur.ExpiresAt <= now {
		return false
	}
	return true
}

func (s *fakeUserRoleStore) FindActive(ctx context.Context, userID string, roleID bson.ObjectID) (*models.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().Unix()
	for _, ur := range s.assignments {
		if ur.UserID == userID && ur.RoleID == roleID && s.live(ur, now) {
			return ur, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *fakeUserRoleStore) FindActiveByUser(ctx context.Context, userID string) ([]*models.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().Unix()
	var result []*models.UserRole
	for _, ur := range s.assignments {
		if ur.UserID == userID && s.live(ur, now) {
			result = append(result, ur)
		}
	}
	return result, nil
}

func (s *fakeUserRoleStore) DeactivateByUserAndRole(ctx context.Context, userID string, roleID bson.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ur := range s.assignments {
		if ur.UserID == userID && ur.RoleID == roleID {
			ur.IsActive = false
		}
	}
	return nil
}

type fakePermissionStore struct {
	mu    sync.Mutex
	perms map[string]*models.Permission
}

func newFakePermissionStore() *fakePermissionStore {
	return &fakePermissionStore{perms: make(map[string]*models.Permission)}
}

func (s *fakePermissionStore) Ensure(ctx context.Context, p *models.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[p.Key]; !ok {
		stored := *p
		stored.ID = bson.NewObjectID()
		s.perms[p.Key] = &stored
	}
	return nil
}

func (s *fakePermissionStore) FindAll(ctx context.Context) ([]*models.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*models.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		all = append(all, p)
	}
	return all, nil
}

func (s *fakePermissionStore) CollectPermissions(ctx context.Context) error {
	return nil
}

func (s *fakePermissionStore) Known(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.perms[key]
	return ok
}

type fakeGrantStore struct {
	mu     sync.Mutex
	grants map[string]*models.AccessGrant
}

func newFakeGrantStore() *fakeGrantStore {
	return &fakeGrantStore{grants: make(map[string]*models.AccessGrant)}
}

func grantKey(userID, resourceType, resourceID string) string {
	return userID + "|" + resourceType + "|" + resourceID
}

func (s *fakeGrantStore) Upsert(ctx context.Context, grant *models.AccessGrant) (*models.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey(grant.UserID, grant.ResourceType, grant.ResourceID)
	if existing, ok := s.grants[key]; ok {
		existing.Level = grant.Level
		existing.Method = grant.Method
		existing.GrantedAt = grant.GrantedAt
		existing.ExpiresAt = grant.ExpiresAt
		existing.RevokedAt = 0
		return existing, nil
	}
	stored := *grant
	stored.ID = bson.NewObjectID()
	s.grants[key] = &stored
	return &stored, nil
}

func (s *fakeGrantStore) Find(ctx context.Context, userID, resourceType, resourceID string) (*models.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[grantKey(userID, resourceType, resourceID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return grant, nil
}

func (s *fakeGrantStore) FindActiveByUser(ctx context.Context, userID, resourceType string, page, limit int) ([]*models.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().Unix()
	var result []*models.AccessGrant
	for _, grant := range s.grants {
		if grant.UserID == userID && grant.ResourceType == resourceType && grant.ActiveAt(now) {
			result = append(result, grant)
		}
	}
	return result, nil
}

func (s *fakeGrantStore) Revoke(ctx context.Context, userID, resourceType, resourceID string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[grantKey(userID, resourceType, resourceID)]
	if ok && grant.RevokedAt == 0 {
		grant.RevokedAt = at
	}
	return nil
}

func (s *fakeGrantStore) RevokeByMethod(ctx context.Context, method models.GrantMethod, at int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, grant := range s.grants {
		if grant.Method == method && grant.RevokedAt == 0 {
			grant.RevokedAt = at
			count++
		}
	}
	return count, nil
}

func (s *fakeGrantStore) RevokeByResource(ctx context.Context, resourceType, resourceID string, at int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, grant := range s.grants {
		if grant.ResourceType == resourceType && grant.ResourceID == resourceID && grant.RevokedAt == 0 {
			grant.RevokedAt = at
			count++
		}
	}
	return count, nil
}

type fakeAgreementStore struct {
	mu       sync.Mutex
	requests map[bson.ObjectID]*models.AgreementRequest
}

func newFakeAgreementStore() *fakeAgreementStore {
	return &fakeAgreementStore{requests: make(map[bson.ObjectID]*models.AgreementRequest)}
}

func (s *fakeAgreementStore) New(ctx context.Context, request *models.AgreementRequest) (*models.AgreementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *request
	stored.ID = bson.NewObjectID()
	s.requests[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (s *fakeAgreementStore) FindByID(ctx context.Context, id bson.ObjectID) (*models.AgreementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *request
	return &out, nil
}

func (s *fakeAgreementStore) FindActive(ctx context.Context, resourceID, requesterID string) (*models.AgreementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, request := range s.requests {
		if request.ResourceID == resourceID && request.RequesterID == requesterID && request.Status.Active() {
			out := *request
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *fakeAgreementStore) FindActiveByResource(ctx context.Context, resourceID string) ([]*models.AgreementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.AgreementRequest
	for _, request := range s.requests {
		if request.ResourceID == resourceID && request.Status.Active() {
			out := *request
			result = append(result, &out)
		}
	}
	return result, nil
}

func (s *fakeAgreementStore) FindByStatus(ctx context.Context, status models.AgreementStatus) ([]*models.AgreementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.AgreementRequest
	for _, request := range s.requests {
		if request.Status == status {
			out := *request
			result = append(result, &out)
		}
	}
	return result, nil
}

func (s *fakeAgreementStore) FindByRequester(ctx context.Context, requesterID string, page, limit int) ([]*models.AgreementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.AgreementRequest
	for _, request := range s.requests {
		if request.RequesterID == requesterID {
			out := *request
			result = append(result, &out)
		}
	}
	return result, nil
}

func (s *fakeAgreementStore) FindByOwner(ctx context.Context, ownerID string, page, limit int) ([]*models.AgreementRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.AgreementRequest
	for _, request := range s.requests {
		if request.OwnerID == ownerID {
			out := *request
			result = append(result, &out)
		}
	}
	return result, nil
}

// UpdateStatus applies the compare-and-set contract: the write happens
// only when the stored status still equals from, and exactly one of any
// number of concurrent callers wins.
func (s *fakeAgreementStore) UpdateStatus(ctx context.Context, id bson.ObjectID, from, to models.AgreementStatus, fields map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[id]
	if !ok || request.Status != from {
		return false, nil
	}
	request.Status = to
	for key, value := range fields {
		switch key {
		case "decidedAt":
			request.DecidedAt = value.(int64)
		case "signedAt":
			request.SignedAt = value.(int64)
		case "expiresAt":
			request.ExpiresAt = value.(int64)
		case "decisionReason":
			request.DecisionReason = value.(string)
		}
	}
	return true, nil
}

// backdate rewrites a stored request in place, bypassing the service, to
// simulate time passing.
func (s *fakeAgreementStore) backdate(id bson.ObjectID, expiresAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if request, ok := s.requests[id]; ok {
		request.ExpiresAt = expiresAt
	}
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
	failErr error
}

func newFakeAuditStore() *fakeAuditStore {
	return &fakeAuditStore{}
}

func (s *fakeAuditStore) Record(ctx context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	stored := *entry
	stored.ID = bson.NewObjectID()
	if stored.CreatedAt == 0 {
		stored.CreatedAt = time.Now().Unix()
	}
	s.entries = append(s.entries, &stored)
	return nil
}

func (s *fakeAuditStore) Query(ctx context.Context, query *models.AuditQuery) ([]*models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.AuditEntry
	for _, entry := range s.entries {
		if query.UserID != "" && entry.UserID != query.UserID {
			continue
		}
		if query.Action != "" && entry.Action != query.Action {
			continue
		}
		if query.ResourceID != "" && entry.ResourceID != query.ResourceID {
			continue
		}
		if query.Granted != nil && entry.Granted != *query.Granted {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *fakeAuditStore) byAction(action string) []*models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.AuditEntry
	for _, entry := range s.entries {
		if entry.Action == action {
			result = append(result, entry)
		}
	}
	return result
}

func (s *fakeAuditStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type fakePermissionCache struct {
	mu            sync.Mutex
	sets          map[string][]string
	hits          int
	invalidations int
}

func newFakePermissionCache() *fakePermissionCache {
	return &fakePermissionCache{sets: make(map[string][]string)}
}

func (c *fakePermissionCache) GetPermissions(ctx context.Context, userID string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	permissions, ok := c.sets[userID]
	if ok {
		c.hits++
	}
	return permissions, ok
}

func (c *fakePermissionCache) SetPermissions(ctx context.Context, userID string, permissions []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[userID] = permissions
	return nil
}

func (c *fakePermissionCache) InvalidatePermissions(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sets, userID)
	c.invalidations++
	return nil
}

type fakePublisher struct {
	mu              sync.Mutex
	agreementEvents []*events.AgreementEvent
	grantEvents     []*events.GrantEvent
}

func (p *fakePublisher) PublishAgreementEvent(event *events.AgreementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agreementEvents = append(p.agreementEvents, event)
	return nil
}

func (p *fakePublisher) PublishGrantEvent(event *events.GrantEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grantEvents = append(p.grantEvents, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) agreementEventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.agreementEvents))
	for _, event := range p.agreementEvents {
		types = append(types, event.EventType)
	}
	return types
}

// testEnv wires every service over the fakes with the seeded catalog and
// system roles, the way main does over Mongo.
type testEnv struct {
	roles       *fakeRoleStore
	userRoles   *fakeUserRoleStore
	permissions *fakePermissionStore
	grants      *fakeGrantStore
	agreements  *fakeAgreementStore
	audit       *fakeAuditStore
	cache       *fakePermissionCache
	publisher   *fakePublisher

	permissionService *PermissionService
	roleService       *RoleService
	userRoleService   *UserRoleService
	grantService      *GrantService
	agreementService  *AgreementService
	authorizeService  *AuthorizeService
	auditService      *AuditService
}

const testTTLDays = 365

func newTestEnv(t interface{ Fatalf(string, ...any) }) *testEnv {
	env := &testEnv{
		roles:       newFakeRoleStore(),
		userRoles:   newFakeUserRoleStore(),
		permissions: newFakePermissionStore(),
		grants:      newFakeGrantStore(),
		agreements:  newFakeAgreementStore(),
		audit:       newFakeAuditStore(),
		cache:       newFakePermissionCache(),
		publisher:   &fakePublisher{},
	}

	env.permissionService = NewPermissionService(env.permissions)
	env.roleService = NewRoleService(env.roles)
	env.userRoleService = NewUserRoleService(env.userRoles, env.roles, env.cache)
	env.grantService = NewGrantService(env.grants, env.audit, env.publisher)
	env.agreementService = NewAgreementService(env.agreements, env.grants, env.audit, env.userRoleService, env.publisher, testTTLDays)
	env.authorizeService = NewAuthorizeService(env.permissionService, env.userRoleService, env.grantService, env.audit)
	env.auditService = NewAuditService(env.audit)

	ctx := context.Background()
	if err := env.permissionService.SeedCatalog(ctx); err != nil {
		t.Fatalf("seeding permission catalog: %v", err)
	}
	if err := env.roleService.SeedRoles(ctx); err != nil {
		t.Fatalf("seeding roles: %v", err)
	}

	return env
}

func (env *testEnv) assign(t interface{ Fatalf(string, ...any) }, userID, roleName string) {
	if _, err := env.userRoleService.AssignRole(context.Background(), userID, roleName, "system", 0); err != nil {
		t.Fatalf("assigning role %s to %s: %v", roleName, userID, err)
	}
}

func protectedPitch(id, ownerID string) models.Resource {
	return models.Resource{
		Type:      models.ResourceTypePitch,
		ID:        id,
		OwnerID:   ownerID,
		Protected: true,
	}
}
