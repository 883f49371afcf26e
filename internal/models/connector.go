package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectorKind represents the kind of archive behind a connector.
type ConnectorKind string

const (
	KindSQL      ConnectorKind = "sql"
	KindDICOM    ConnectorKind = "dicom"
	KindDICOMWeb ConnectorKind = "dicomweb"
)

// GrantType selects the OAuth2 flow configured for a connector.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
)

// AuthType selects how image retrieval authenticates against the archive.
type AuthType string

const (
	AuthBasic  AuthType = "basic"
	AuthOAuth2 AuthType = "oauth2"
)

// Connector describes one configured archive. Dispatch works on catalogue
// snapshots, so edits become visible between builds, never within one.
type Connector struct {
	ID          string        `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name        string        `gorm:"type:varchar(255);not null" json:"name"`
	Kind        ConnectorKind `gorm:"type:varchar(20);not null" json:"kind"`
	Deactivated []SearchLevel `gorm:"serializer:json" json:"deactivated,omitempty"`

	SQL   *SQLSettings   `gorm:"serializer:json" json:"sql,omitempty"`
	DICOM *DICOMSettings `gorm:"serializer:json" json:"dicom,omitempty"`
	Web   *WebSettings   `gorm:"serializer:json" json:"web,omitempty"`

	// WADO applies to SQL and DICOM connectors, WADORS to DICOM-Web ones.
	WADO   *AccessProfile `gorm:"serializer:json" json:"wado,omitempty"`
	WADORS *AccessProfile `gorm:"serializer:json" json:"wado_rs,omitempty"`

	Position  int            `gorm:"default:0;index" json:"position"`
	IsActive  bool           `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the table name
func (Connector) TableName() string {
	return "connectors"
}

// BeforeCreate hook
func (c *Connector) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// LevelDeactivated reports whether queries at level are disabled for this
// connector.
func (c *Connector) LevelDeactivated(level SearchLevel) bool {
	for _, l := range c.Deactivated {
		if l == level {
			return true
		}
	}
	return false
}

// AccessProfile returns the authentication descriptor for the connector's
// image-retrieval protocol.
func (c *Connector) AccessProfile() *AccessProfile {
	if c.Kind == KindDICOMWeb {
		return c.WADORS
	}
	return c.WADO
}

// SQLSettings configures a SQL-kind connector: the tenant data source it is
// bound to, the flattened record view, and the per-level match columns.
type SQLSettings struct {
	Tenant     string                 `json:"tenant"`
	RecordView string                 `json:"record_view"`
	Columns    map[SearchLevel]string `json:"columns"`
}

// DICOMSettings configures a DIMSE connector's remote application entity.
type DICOMSettings struct {
	AETitle    string `json:"ae_title"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	CallingAET string `json:"calling_aet,omitempty"`
}

// WebSettings configures the QIDO-RS endpoint of a DICOM-Web connector.
type WebSettings struct {
	QIDOURL  string `json:"qido_url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// AccessProfile holds the per-protocol authentication descriptor attached to
// manifests for downstream image access.
type AccessProfile struct {
	AuthType     AuthType  `json:"auth_type"`
	DefaultGrant GrantType `json:"default_grant,omitempty"`

	// Basic branch, also the fallback when no OAuth2 token is available.
	BasicURL      string `json:"basic_url,omitempty"`
	BasicLogin    string `json:"basic_login,omitempty"`
	BasicPassword string `json:"basic_password,omitempty"`

	// OAuth2 branch.
	OAuth2URL      string   `json:"oauth2_url,omitempty"`
	RegistrationID string   `json:"registration_id,omitempty"`
	TokenURL       string   `json:"token_url,omitempty"`
	ClientID       string   `json:"client_id,omitempty"`
	ClientSecret   string   `json:"client_secret,omitempty"`
	Scopes         []string `json:"scopes,omitempty"`

	// Viewer hints inherited by every serie found via this connector.
	TransferSyntaxUID string `json:"transfer_syntax_uid,omitempty"`
	CompressionRate   int    `json:"compression_rate,omitempty"`
}
