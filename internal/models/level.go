package models

// SearchLevel identifies which search criteria field a query targets.
type SearchLevel string

const (
	LevelPatientID       SearchLevel = "patient_id"
	LevelStudyUID        SearchLevel = "study_uid"
	LevelAccessionNumber SearchLevel = "accession_number"
	LevelSeriesUID       SearchLevel = "series_uid"
	LevelSOPInstanceUID  SearchLevel = "sop_instance_uid"
)

// BuildOrder is the fixed order in which populated criteria fields are
// dispatched during a manifest build. Later levels only add to the manifest,
// so the order determines which query discovers a patient first, never what
// the final tree contains.
var BuildOrder = []SearchLevel{
	LevelSOPInstanceUID,
	LevelSeriesUID,
	LevelAccessionNumber,
	LevelStudyUID,
	LevelPatientID,
}
