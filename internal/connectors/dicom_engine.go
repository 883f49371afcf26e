package connectors

import (
	"context"
	"fmt"

	"github.com/otcheredev/manifest-connector/internal/models"
	"github.com/otcheredev/manifest-connector/pkg/dimse"
	"github.com/rs/zerolog/log"
)

// FindService issues one C-FIND-equivalent query against an archive, over
// DIMSE or QIDO-RS.
type FindService interface {
	Find(ctx context.Context, req dimse.FindRequest) ([]dimse.Attributes, error)
}

var patientStudyKeys = []dimse.Tag{
	dimse.TagPatientID,
	dimse.TagIssuerOfPatientID,
	dimse.TagPatientName,
	dimse.TagPatientBirthDate,
	dimse.TagPatientSex,
	dimse.TagStudyInstanceUID,
	dimse.TagStudyID,
	dimse.TagStudyDate,
	dimse.TagStudyTime,
	dimse.TagStudyDescription,
	dimse.TagAccessionNumber,
	dimse.TagReferringPhysician,
}

var seriesKeys = []dimse.Tag{
	dimse.TagSeriesInstanceUID,
	dimse.TagSeriesNumber,
	dimse.TagModality,
	dimse.TagSeriesDescription,
}

var instanceKeys = []dimse.Tag{
	dimse.TagSOPInstanceUID,
	dimse.TagInstanceNumber,
}

// DICOMEngine reconstructs patient trees from cascading C-FIND queries.
// Query granularity follows the DICOM query/retrieve hierarchy: study-level
// searches are sequential and need follow-up series/image queries, while
// series- and image-level searches use relational queries that return the
// upper levels in one round trip.
type DICOMEngine struct {
	conn *models.Connector
	find FindService
}

// NewDICOMEngine creates a new DICOM query engine
func NewDICOMEngine(conn *models.Connector, find FindService) *DICOMEngine {
	return &DICOMEngine{conn: conn, find: find}
}

// Query executes the level's query cascade for every input value, merging
// results that belong to the same patient into one record.
func (e *DICOMEngine) Query(ctx context.Context, level models.SearchLevel, values []string) ([]*models.Patient, error) {
	set := &patientSet{}

	for _, value := range values {
		var err error
		switch level {
		case models.LevelPatientID, models.LevelStudyUID, models.LevelAccessionNumber:
			err = e.queryAtStudyLevel(ctx, set, level, value)
		case models.LevelSeriesUID:
			err = e.queryBySeriesUID(ctx, set, value)
		case models.LevelSOPInstanceUID:
			err = e.queryBySOPInstanceUID(ctx, set, value)
		default:
			err = fmt.Errorf("unsupported search level: %s", level)
		}
		if err != nil {
			return nil, fmt.Errorf("connector %s: query for %q failed: %w", e.conn.ID, value, err)
		}
	}

	return set.patients, nil
}

// queryAtStudyLevel issues a sequential STUDY-level C-FIND for one search
// value, then populates series and instances per discovered study.
func (e *DICOMEngine) queryAtStudyLevel(ctx context.Context, set *patientSet, level models.SearchLevel, value string) error {
	match := make(map[dimse.Tag]string)
	switch level {
	case models.LevelPatientID:
		id, issuer := SplitPatientID(value)
		match[dimse.TagPatientID] = id
		if issuer != "" {
			match[dimse.TagIssuerOfPatientID] = issuer
		}
	case models.LevelStudyUID:
		match[dimse.TagStudyInstanceUID] = value
	case models.LevelAccessionNumber:
		match[dimse.TagAccessionNumber] = value
	}

	results, err := e.find.Find(ctx, dimse.FindRequest{
		Level:  "STUDY",
		Match:  match,
		Return: patientStudyKeys,
	})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		log.Debug().
			Str("connector", e.conn.ID).
			Str("level", string(level)).
			Str("value", value).
			Msg("No study found")
		return nil
	}

	for _, attrs := range results {
		patient, study := e.buildPatientStudy(attrs)
		if patient == nil {
			continue
		}
		if err := e.populateStudy(ctx, study); err != nil {
			return err
		}
		set.add(patient)
	}
	return nil
}

// queryBySeriesUID issues one relational SERIES-level C-FIND returning
// patient, study and series keys in one round trip, then fills in instances.
func (e *DICOMEngine) queryBySeriesUID(ctx context.Context, set *patientSet, value string) error {
	results, err := e.find.Find(ctx, dimse.FindRequest{
		Level:      "SERIES",
		Relational: true,
		Match:      map[dimse.Tag]string{dimse.TagSeriesInstanceUID: value},
		Return:     append(append([]dimse.Tag{}, patientStudyKeys...), seriesKeys...),
	})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}

	// A series UID is globally unique; the first row carries the whole chain.
	attrs := results[0]
	patient, study := e.buildPatientStudy(attrs)
	if patient == nil {
		return nil
	}
	serie := e.buildSerie(attrs)
	if serie == nil {
		return nil
	}
	study.Series = append(study.Series, serie)

	if err := e.populateInstances(ctx, study.StudyInstanceUID, serie); err != nil {
		return err
	}
	set.add(patient)
	return nil
}

// queryBySOPInstanceUID issues one relational IMAGE-level C-FIND and builds
// the complete 4-level chain from the single result row.
func (e *DICOMEngine) queryBySOPInstanceUID(ctx context.Context, set *patientSet, value string) error {
	returnKeys := append(append([]dimse.Tag{}, patientStudyKeys...), seriesKeys...)
	returnKeys = append(returnKeys, instanceKeys...)

	results, err := e.find.Find(ctx, dimse.FindRequest{
		Level:      "IMAGE",
		Relational: true,
		Match:      map[dimse.Tag]string{dimse.TagSOPInstanceUID: value},
		Return:     returnKeys,
	})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}

	attrs := results[0]
	patient, study := e.buildPatientStudy(attrs)
	if patient == nil {
		return nil
	}
	serie := e.buildSerie(attrs)
	if serie == nil {
		return nil
	}
	instance := e.buildInstance(attrs)
	if instance != nil {
		serie.Instances = append(serie.Instances, instance)
	}
	study.Series = append(study.Series, serie)
	set.add(patient)
	return nil
}

// populateStudy runs the follow-up SERIES and IMAGE queries a study-level
// result requires, since STUDY-level C-FIND returns no lower-level keys.
func (e *DICOMEngine) populateStudy(ctx context.Context, study *models.Study) error {
	results, err := e.find.Find(ctx, dimse.FindRequest{
		Level:  "SERIES",
		Match:  map[dimse.Tag]string{dimse.TagStudyInstanceUID: study.StudyInstanceUID},
		Return: seriesKeys,
	})
	if err != nil {
		return err
	}

	for _, attrs := range results {
		serie := e.buildSerie(attrs)
		if serie == nil {
			continue
		}
		if err := e.populateInstances(ctx, study.StudyInstanceUID, serie); err != nil {
			return err
		}
		study.AddSerie(serie)
	}
	return nil
}

func (e *DICOMEngine) populateInstances(ctx context.Context, studyUID string, serie *models.Serie) error {
	results, err := e.find.Find(ctx, dimse.FindRequest{
		Level: "IMAGE",
		Match: map[dimse.Tag]string{
			dimse.TagStudyInstanceUID:  studyUID,
			dimse.TagSeriesInstanceUID: serie.SeriesInstanceUID,
		},
		Return: instanceKeys,
	})
	if err != nil {
		return err
	}

	for _, attrs := range results {
		if instance := e.buildInstance(attrs); instance != nil {
			serie.AddInstance(instance)
		}
	}
	return nil
}

// buildPatientStudy converts one result row into a patient owning a single
// study. Rows without both identifiers produce nothing.
func (e *DICOMEngine) buildPatientStudy(attrs dimse.Attributes) (*models.Patient, *models.Study) {
	patientID := attrs.GetString(dimse.TagPatientID)
	studyUID := attrs.GetString(dimse.TagStudyInstanceUID)
	if patientID == "" || studyUID == "" {
		return nil, nil
	}

	study := &models.Study{
		StudyInstanceUID:   studyUID,
		StudyID:            attrs.GetString(dimse.TagStudyID),
		Date:               attrs.GetString(dimse.TagStudyDate),
		Time:               attrs.GetString(dimse.TagStudyTime),
		Description:        attrs.GetString(dimse.TagStudyDescription),
		AccessionNumber:    attrs.GetString(dimse.TagAccessionNumber),
		ReferringPhysician: attrs.GetString(dimse.TagReferringPhysician),
	}

	patient := &models.Patient{
		PatientID: patientID,
		Issuer:    attrs.GetString(dimse.TagIssuerOfPatientID),
		Name:      attrs.GetString(dimse.TagPatientName),
		BirthDate: attrs.GetString(dimse.TagPatientBirthDate),
		Sex:       attrs.GetString(dimse.TagPatientSex),
		Studies:   []*models.Study{study},
	}
	return patient, study
}

func (e *DICOMEngine) buildSerie(attrs dimse.Attributes) *models.Serie {
	uid := attrs.GetString(dimse.TagSeriesInstanceUID)
	if uid == "" {
		return nil
	}

	serie := &models.Serie{
		SeriesInstanceUID: uid,
		Modality:          attrs.GetString(dimse.TagModality),
		Description:       attrs.GetString(dimse.TagSeriesDescription),
	}
	if n, ok := attrs.GetInt(dimse.TagSeriesNumber); ok {
		serie.SeriesNumber = &n
	}

	// Viewer hints come from the connector's WADO settings, not the archive.
	if profile := e.conn.AccessProfile(); profile != nil {
		serie.TransferSyntaxUID = profile.TransferSyntaxUID
		serie.CompressionRate = profile.CompressionRate
	}
	return serie
}

func (e *DICOMEngine) buildInstance(attrs dimse.Attributes) *models.Instance {
	uid := attrs.GetString(dimse.TagSOPInstanceUID)
	if uid == "" {
		return nil
	}

	instance := &models.Instance{SOPInstanceUID: uid}
	if n, ok := attrs.GetInt(dimse.TagInstanceNumber); ok {
		instance.InstanceNumber = &n
	}
	return instance
}
