package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// SearchCriteria is the normalized search request. It is immutable once
// submitted; empty ArchiveIDs means "use the default/all archives".
type SearchCriteria struct {
	PatientIDs       []string `json:"patient_ids,omitempty"`
	StudyUIDs        []string `json:"study_uids,omitempty"`
	SeriesUIDs       []string `json:"series_uids,omitempty"`
	SOPInstanceUIDs  []string `json:"sop_instance_uids,omitempty"`
	AccessionNumbers []string `json:"accession_numbers,omitempty"`
	ArchiveIDs       []string `json:"archive_ids,omitempty"`
}

// Values returns the criteria values for a search level.
func (c SearchCriteria) Values(level SearchLevel) []string {
	switch level {
	case LevelPatientID:
		return c.PatientIDs
	case LevelStudyUID:
		return c.StudyUIDs
	case LevelSeriesUID:
		return c.SeriesUIDs
	case LevelSOPInstanceUID:
		return c.SOPInstanceUIDs
	case LevelAccessionNumber:
		return c.AccessionNumbers
	}
	return nil
}

// IsEmpty reports whether no searchable field is populated.
func (c SearchCriteria) IsEmpty() bool {
	for _, level := range BuildOrder {
		if len(c.Values(level)) > 0 {
			return false
		}
	}
	return true
}

// Fingerprint computes the deterministic cache key for the criteria. Identical
// content yields identical fingerprints regardless of value order; changing
// any field, including archive-set membership, changes the fingerprint.
func (c SearchCriteria) Fingerprint() string {
	h := sha256.New()

	writeField := func(name string, values []string) {
		sorted := make([]string, len(values))
		copy(sorted, values)
		sort.Strings(sorted)

		h.Write([]byte(name))
		h.Write([]byte{0x1e})
		// Each value is length-prefixed so no byte inside a value, however
		// malformed the input, can shift a boundary between values.
		var length [8]byte
		for _, v := range sorted {
			binary.BigEndian.PutUint64(length[:], uint64(len(v)))
			h.Write(length[:])
			h.Write([]byte(v))
		}
	}

	writeField("pat", c.PatientIDs)
	writeField("stu", c.StudyUIDs)
	writeField("ser", c.SeriesUIDs)
	writeField("obj", c.SOPInstanceUIDs)
	writeField("acc", c.AccessionNumbers)
	writeField("arc", c.ArchiveIDs)

	return hex.EncodeToString(h.Sum(nil))
}
