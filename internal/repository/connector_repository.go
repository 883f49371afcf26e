package repository

import (
	"context"
	"fmt"

	"github.com/otcheredev/manifest-connector/internal/database"
	"github.com/otcheredev/manifest-connector/internal/models"
)

// ConnectorRepository handles connector descriptor database operations
type ConnectorRepository struct{}

// NewConnectorRepository creates a new connector repository
func NewConnectorRepository() *ConnectorRepository {
	return &ConnectorRepository{}
}

// Create creates a new connector descriptor
func (r *ConnectorRepository) Create(ctx context.Context, conn *models.Connector) error {
	if err := database.DB.WithContext(ctx).Create(conn).Error; err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}
	return nil
}

// GetByID retrieves a connector descriptor by ID
func (r *ConnectorRepository) GetByID(ctx context.Context, id string) (*models.Connector, error) {
	var conn models.Connector
	if err := database.DB.WithContext(ctx).Where("id = ?", id).First(&conn).Error; err != nil {
		return nil, fmt.Errorf("failed to get connector: %w", err)
	}
	return &conn, nil
}

// GetAllActive retrieves all active connectors in catalogue order
func (r *ConnectorRepository) GetAllActive(ctx context.Context) ([]models.Connector, error) {
	var conns []models.Connector
	if err := database.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("position ASC, created_at ASC").
		Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("failed to get connectors: %w", err)
	}
	return conns, nil
}

// Update updates a connector descriptor
func (r *ConnectorRepository) Update(ctx context.Context, conn *models.Connector) error {
	if err := database.DB.WithContext(ctx).Save(conn).Error; err != nil {
		return fmt.Errorf("failed to update connector: %w", err)
	}
	return nil
}

// Delete soft deletes a connector descriptor
func (r *ConnectorRepository) Delete(ctx context.Context, id string) error {
	if err := database.DB.WithContext(ctx).Delete(&models.Connector{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete connector: %w", err)
	}
	return nil
}
