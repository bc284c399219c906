package service

import (
	"context"

	"access_service/internal/models"
)

type AuditService struct {
	auditRepo AuditStore
}

func NewAuditService(auditRepo AuditStore) *AuditService {
	return &AuditService{
		auditRepo: auditRepo,
	}
}

// Query pages through the audit log with the admin filters: user,
// resource, action, granted/denied outcome and time range.
func (s *AuditService) Query(ctx context.Context, query *models.AuditQuery) ([]*models.AuditEntry, error) {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit < 1 || query.Limit > 200 {
		query.Limit = 50
	}
	return s.auditRepo.Query(ctx, query)
}
