package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BuildAudit records one completed manifest build.
type BuildAudit struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Fingerprint       string    `gorm:"type:varchar(64);not null;index" json:"fingerprint"`
	ManifestID        uuid.UUID `gorm:"type:uuid;index" json:"manifest_id"`
	Subject           string    `gorm:"type:varchar(255)" json:"subject,omitempty"`
	ArchiveCount      int       `json:"archive_count"`
	PatientCount      int       `json:"patient_count"`
	ConnectorFailures int       `json:"connector_failures"`
	Duration          int64     `json:"duration_ms"`
	CreatedAt         time.Time `gorm:"index" json:"timestamp"`
}

// TableName overrides the table name
func (BuildAudit) TableName() string {
	return "build_audits"
}

// BeforeCreate hook
func (a *BuildAudit) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
