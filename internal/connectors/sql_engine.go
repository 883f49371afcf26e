package connectors

import (
	"context"
	"fmt"

	"github.com/otcheredev/manifest-connector/internal/database"
	"github.com/otcheredev/manifest-connector/internal/models"
	"github.com/rs/zerolog/log"
)

// recordRow is one flat joined row of the connector's record view, covering
// all four hierarchy levels.
type recordRow struct {
	PatientID          string `gorm:"column:patient_id"`
	Issuer             string `gorm:"column:issuer"`
	PatientName        string `gorm:"column:patient_name"`
	PatientBirthDate   string `gorm:"column:patient_birth_date"`
	PatientSex         string `gorm:"column:patient_sex"`
	StudyInstanceUID   string `gorm:"column:study_instance_uid"`
	StudyID            string `gorm:"column:study_id"`
	StudyDate          string `gorm:"column:study_date"`
	StudyTime          string `gorm:"column:study_time"`
	StudyDescription   string `gorm:"column:study_description"`
	AccessionNumber    string `gorm:"column:accession_number"`
	ReferringPhysician string `gorm:"column:referring_physician"`
	SeriesInstanceUID  string `gorm:"column:series_instance_uid"`
	SeriesNumber       *int   `gorm:"column:series_number"`
	Modality           string `gorm:"column:modality"`
	SeriesDescription  string `gorm:"column:series_description"`
	SOPInstanceUID     string `gorm:"column:sop_instance_uid"`
	InstanceNumber     *int   `gorm:"column:instance_number"`
}

// SQLEngine queries a SQL archive through the connector's tenant data source
// and reconstructs the patient tree from flat joined rows.
type SQLEngine struct {
	conn    *models.Connector
	tenants *database.TenantRegistry
}

// NewSQLEngine creates a new SQL query engine
func NewSQLEngine(conn *models.Connector, tenants *database.TenantRegistry) *SQLEngine {
	return &SQLEngine{conn: conn, tenants: tenants}
}

// Query executes one parameterized IN-query for the level's configured match
// column and groups the result rows into patients.
func (e *SQLEngine) Query(ctx context.Context, level models.SearchLevel, values []string) ([]*models.Patient, error) {
	column, ok := e.conn.SQL.Columns[level]
	if !ok || column == "" {
		return nil, fmt.Errorf("connector %s has no match column for level %s", e.conn.ID, level)
	}

	// The tenant handle is resolved per call and never stored, so routing
	// cannot leak into queries for other connectors.
	db, err := e.tenants.Handle(e.conn.SQL.Tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to route to tenant: %w", err)
	}

	var rows []recordRow
	if err := db.WithContext(ctx).
		Table(e.conn.SQL.RecordView).
		Where(fmt.Sprintf("%s IN ?", column), values).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("archive query failed for connector %s: %w", e.conn.ID, err)
	}

	log.Debug().
		Str("connector", e.conn.ID).
		Str("level", string(level)).
		Int("rows", len(rows)).
		Msg("SQL archive query completed")

	return e.group(rows), nil
}

// group reconstructs the 4-level tree: one patient per distinct patient id,
// one study per distinct study UID under it, and so on. Row order decides
// nothing beyond first-seen ordering of siblings.
func (e *SQLEngine) group(rows []recordRow) []*models.Patient {
	set := &patientSet{}
	profile := e.conn.AccessProfile()

	for _, row := range rows {
		if row.PatientID == "" || row.StudyInstanceUID == "" {
			continue
		}

		patient := &models.Patient{
			PatientID: row.PatientID,
			Issuer:    row.Issuer,
			Name:      row.PatientName,
			BirthDate: row.PatientBirthDate,
			Sex:       row.PatientSex,
		}

		study := &models.Study{
			StudyInstanceUID:   row.StudyInstanceUID,
			StudyID:            row.StudyID,
			Date:               row.StudyDate,
			Time:               row.StudyTime,
			Description:        row.StudyDescription,
			AccessionNumber:    row.AccessionNumber,
			ReferringPhysician: row.ReferringPhysician,
		}
		patient.Studies = append(patient.Studies, study)

		if row.SeriesInstanceUID != "" {
			serie := &models.Serie{
				SeriesInstanceUID: row.SeriesInstanceUID,
				SeriesNumber:      row.SeriesNumber,
				Modality:          row.Modality,
				Description:       row.SeriesDescription,
			}
			// Transfer syntax comes from the connector's WADO settings, not
			// from the archive rows.
			if profile != nil {
				serie.TransferSyntaxUID = profile.TransferSyntaxUID
				serie.CompressionRate = profile.CompressionRate
			}
			study.Series = append(study.Series, serie)

			if row.SOPInstanceUID != "" {
				serie.Instances = append(serie.Instances, &models.Instance{
					SOPInstanceUID: row.SOPInstanceUID,
					InstanceNumber: row.InstanceNumber,
				})
			}
		}

		set.add(patient)
	}

	return set.patients
}
