package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := SearchCriteria{
		PatientIDs: []string{"P1", "P2"},
		StudyUIDs:  []string{"1.2.3"},
	}
	b := SearchCriteria{
		PatientIDs: []string{"P1", "P2"},
		StudyUIDs:  []string{"1.2.3"},
	}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintIgnoresValueOrder(t *testing.T) {
	a := SearchCriteria{PatientIDs: []string{"P2", "P1"}}
	b := SearchCriteria{PatientIDs: []string{"P1", "P2"}}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintSensitiveToField(t *testing.T) {
	// The same value in a different field is a different request.
	a := SearchCriteria{PatientIDs: []string{"1.2.3"}}
	b := SearchCriteria{StudyUIDs: []string{"1.2.3"}}

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintSensitiveToArchives(t *testing.T) {
	a := SearchCriteria{PatientIDs: []string{"P1"}}
	b := SearchCriteria{PatientIDs: []string{"P1"}, ArchiveIDs: []string{"arc-1"}}

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// Values must not be able to collide across a field boundary.
	a := SearchCriteria{PatientIDs: []string{"P1", "P2"}}
	b := SearchCriteria{PatientIDs: []string{"P1P2"}}

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintControlBytesInValues(t *testing.T) {
	// A value embedding a separator byte must not read as two values.
	a := SearchCriteria{PatientIDs: []string{"a\x1fb"}}
	b := SearchCriteria{PatientIDs: []string{"a", "b"}}

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestValues(t *testing.T) {
	c := SearchCriteria{
		PatientIDs:       []string{"P1"},
		SOPInstanceUIDs:  []string{"1.2.3.4"},
		AccessionNumbers: []string{"ACC9"},
	}

	assert.Equal(t, []string{"P1"}, c.Values(LevelPatientID))
	assert.Equal(t, []string{"1.2.3.4"}, c.Values(LevelSOPInstanceUID))
	assert.Equal(t, []string{"ACC9"}, c.Values(LevelAccessionNumber))
	assert.Empty(t, c.Values(LevelStudyUID))
	assert.Empty(t, c.Values(LevelSeriesUID))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, SearchCriteria{}.IsEmpty())
	assert.True(t, SearchCriteria{ArchiveIDs: []string{"arc-1"}}.IsEmpty())
	assert.False(t, SearchCriteria{SeriesUIDs: []string{"1.2"}}.IsEmpty())
}
