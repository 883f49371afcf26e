package connectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcheredev/manifest-connector/internal/models"
	"github.com/otcheredev/manifest-connector/pkg/dimse"
)

// fakeFind replays canned responses keyed by query level and one match value,
// and records every request it sees.
type fakeFind struct {
	responses map[string][]dimse.Attributes
	requests  []dimse.FindRequest
	err       error
}

func (f *fakeFind) Find(ctx context.Context, req dimse.FindRequest) ([]dimse.Attributes, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	for _, v := range req.Match {
		if resp, ok := f.responses[req.Level+"/"+v]; ok {
			return resp, nil
		}
	}
	return nil, nil
}

func dicomConnector() *models.Connector {
	return &models.Connector{
		ID:   "arc-1",
		Kind: models.KindDICOM,
		DICOM: &models.DICOMSettings{
			AETitle: "PACS",
			Host:    "pacs.local",
			Port:    104,
		},
		WADO: &models.AccessProfile{
			TransferSyntaxUID: "1.2.840.10008.1.2.4.50",
			CompressionRate:   80,
		},
	}
}

func studyRow(patientID, studyUID string) dimse.Attributes {
	return dimse.Attributes{
		dimse.TagPatientID:        patientID,
		dimse.TagPatientName:      "DOE^JOHN",
		dimse.TagStudyInstanceUID: studyUID,
		dimse.TagStudyDescription: "CT ABDOMEN",
	}
}

func TestQueryByPatientIDBuildsTree(t *testing.T) {
	find := &fakeFind{responses: map[string][]dimse.Attributes{
		"STUDY/P1": {studyRow("P1", "1.2"), studyRow("P1", "1.3")},
		"SERIES/1.2": {{
			dimse.TagSeriesInstanceUID: "1.2.1",
			dimse.TagModality:          "CT",
			dimse.TagSeriesNumber:      "1",
		}},
		"SERIES/1.3": {{
			dimse.TagSeriesInstanceUID: "1.3.1",
			dimse.TagModality:          "MR",
		}},
		"IMAGE/1.2.1": {
			{dimse.TagSOPInstanceUID: "1.2.1.1", dimse.TagInstanceNumber: "1"},
			{dimse.TagSOPInstanceUID: "1.2.1.2", dimse.TagInstanceNumber: "2"},
		},
		"IMAGE/1.3.1": {
			{dimse.TagSOPInstanceUID: "1.3.1.1"},
		},
	}}
	engine := NewDICOMEngine(dicomConnector(), find)

	patients, err := engine.Query(context.Background(), models.LevelPatientID, []string{"P1"})
	require.NoError(t, err)

	// Two studies of the same patient collapse into one record.
	require.Len(t, patients, 1)
	p := patients[0]
	assert.Equal(t, "P1", p.PatientID)
	require.Len(t, p.Studies, 2)
	require.Len(t, p.Studies[0].Series, 1)
	assert.Len(t, p.Studies[0].Series[0].Instances, 2)

	// Viewer hints come from the connector's WADO settings.
	assert.Equal(t, "1.2.840.10008.1.2.4.50", p.Studies[0].Series[0].TransferSyntaxUID)
	assert.Equal(t, 80, p.Studies[0].Series[0].CompressionRate)
}

func TestQueryByPatientIDSplitsIssuer(t *testing.T) {
	find := &fakeFind{}
	engine := NewDICOMEngine(dicomConnector(), find)

	_, err := engine.Query(context.Background(), models.LevelPatientID, []string{"P1^^^HOSP_A"})
	require.NoError(t, err)

	require.Len(t, find.requests, 1)
	req := find.requests[0]
	assert.Equal(t, "STUDY", req.Level)
	assert.Equal(t, "P1", req.Match[dimse.TagPatientID])
	assert.Equal(t, "HOSP_A", req.Match[dimse.TagIssuerOfPatientID])
}

func TestQueryBySeriesUIDIsRelational(t *testing.T) {
	find := &fakeFind{responses: map[string][]dimse.Attributes{
		"SERIES/1.2.1": {{
			dimse.TagPatientID:         "P1",
			dimse.TagStudyInstanceUID:  "1.2",
			dimse.TagSeriesInstanceUID: "1.2.1",
			dimse.TagModality:          "CT",
		}},
		"IMAGE/1.2.1": {
			{dimse.TagSOPInstanceUID: "1.2.1.1"},
		},
	}}
	engine := NewDICOMEngine(dicomConnector(), find)

	patients, err := engine.Query(context.Background(), models.LevelSeriesUID, []string{"1.2.1"})
	require.NoError(t, err)

	require.Len(t, patients, 1)
	require.Len(t, patients[0].Studies, 1)
	require.Len(t, patients[0].Studies[0].Series, 1)
	assert.Len(t, patients[0].Studies[0].Series[0].Instances, 1)

	require.NotEmpty(t, find.requests)
	assert.True(t, find.requests[0].Relational)
	assert.Equal(t, "SERIES", find.requests[0].Level)
}

func TestQueryBySOPInstanceUIDNoFollowUp(t *testing.T) {
	find := &fakeFind{responses: map[string][]dimse.Attributes{
		"IMAGE/1.2.1.1": {{
			dimse.TagPatientID:         "P1",
			dimse.TagStudyInstanceUID:  "1.2",
			dimse.TagSeriesInstanceUID: "1.2.1",
			dimse.TagSOPInstanceUID:    "1.2.1.1",
		}},
	}}
	engine := NewDICOMEngine(dicomConnector(), find)

	patients, err := engine.Query(context.Background(), models.LevelSOPInstanceUID, []string{"1.2.1.1"})
	require.NoError(t, err)

	// One relational IMAGE query carries the whole chain.
	require.Len(t, find.requests, 1)
	assert.True(t, find.requests[0].Relational)

	require.Len(t, patients, 1)
	serie := patients[0].Studies[0].Series[0]
	require.Len(t, serie.Instances, 1)
	assert.Equal(t, "1.2.1.1", serie.Instances[0].SOPInstanceUID)
}

func TestQueryNoMatchesIsNotAnError(t *testing.T) {
	engine := NewDICOMEngine(dicomConnector(), &fakeFind{})

	patients, err := engine.Query(context.Background(), models.LevelStudyUID, []string{"9.9.9"})
	require.NoError(t, err)
	assert.Empty(t, patients)
}

func TestQueryMergesValuesAcrossCalls(t *testing.T) {
	find := &fakeFind{responses: map[string][]dimse.Attributes{
		"STUDY/1.2": {studyRow("P1", "1.2")},
		"STUDY/1.3": {studyRow("P1", "1.3")},
	}}
	engine := NewDICOMEngine(dicomConnector(), find)

	patients, err := engine.Query(context.Background(), models.LevelStudyUID, []string{"1.2", "1.3"})
	require.NoError(t, err)

	require.Len(t, patients, 1)
	assert.Len(t, patients[0].Studies, 2)
}

func TestQueryRowWithoutIdentifiersSkipped(t *testing.T) {
	find := &fakeFind{responses: map[string][]dimse.Attributes{
		"STUDY/P1": {{dimse.TagStudyInstanceUID: "1.2"}},
	}}
	engine := NewDICOMEngine(dicomConnector(), find)

	patients, err := engine.Query(context.Background(), models.LevelPatientID, []string{"P1"})
	require.NoError(t, err)
	assert.Empty(t, patients)
}
