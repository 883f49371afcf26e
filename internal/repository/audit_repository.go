package repository

import (
	"context"
	"fmt"

	"github.com/otcheredev/manifest-connector/internal/database"
	"github.com/otcheredev/manifest-connector/internal/models"
)

// AuditRepository handles build audit database operations
type AuditRepository struct{}

// NewAuditRepository creates a new audit repository
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

// Create creates a new build audit entry
func (r *AuditRepository) Create(ctx context.Context, audit *models.BuildAudit) error {
	if err := database.DB.WithContext(ctx).Create(audit).Error; err != nil {
		return fmt.Errorf("failed to create build audit: %w", err)
	}
	return nil
}

// GetByFingerprint retrieves the build history for a fingerprint
func (r *AuditRepository) GetByFingerprint(ctx context.Context, fingerprint string, limit int) ([]models.BuildAudit, error) {
	var audits []models.BuildAudit
	query := database.DB.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&audits).Error; err != nil {
		return nil, fmt.Errorf("failed to get build audits: %w", err)
	}

	return audits, nil
}
