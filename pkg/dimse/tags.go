package dimse

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag is a DICOM data element tag packed as group<<16 | element.
type Tag uint32

// Group returns the tag's group number.
func (t Tag) Group() uint16 { return uint16(t >> 16) }

// Element returns the tag's element number.
func (t Tag) Element() uint16 { return uint16(t) }

func (t Tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group(), t.Element())
}

// Keyword returns the DICOM keyword for the tag, or its hex form when the tag
// is not in the dictionary.
func (t Tag) Keyword() string {
	if kw, ok := keywords[t]; ok {
		return kw
	}
	return fmt.Sprintf("%04X%04X", t.Group(), t.Element())
}

// Command set tags (group 0000).
const (
	TagCommandGroupLength   Tag = 0x00000000
	TagAffectedSOPClassUID  Tag = 0x00000002
	TagCommandField         Tag = 0x00000100
	TagMessageID            Tag = 0x00000110
	TagMessageIDRespondedTo Tag = 0x00000120
	TagCommandDataSetType   Tag = 0x00000800
	TagPriority             Tag = 0x00000700
	TagStatus               Tag = 0x00000900
)

// Data set tags used by the query engines.
const (
	TagQueryRetrieveLevel Tag = 0x00080052
	TagSOPInstanceUID     Tag = 0x00080018
	TagStudyDate          Tag = 0x00080020
	TagStudyTime          Tag = 0x00080030
	TagAccessionNumber    Tag = 0x00080050
	TagModality           Tag = 0x00080060
	TagReferringPhysician Tag = 0x00080090
	TagStudyDescription   Tag = 0x00081030
	TagSeriesDescription  Tag = 0x0008103E
	TagPatientName        Tag = 0x00100010
	TagPatientID          Tag = 0x00100020
	TagIssuerOfPatientID  Tag = 0x00100021
	TagPatientBirthDate   Tag = 0x00100030
	TagPatientSex         Tag = 0x00100040
	TagStudyInstanceUID   Tag = 0x0020000D
	TagSeriesInstanceUID  Tag = 0x0020000E
	TagStudyID            Tag = 0x00200010
	TagSeriesNumber       Tag = 0x00200011
	TagInstanceNumber     Tag = 0x00200013
)

var keywords = map[Tag]string{
	TagQueryRetrieveLevel: "QueryRetrieveLevel",
	TagSOPInstanceUID:     "SOPInstanceUID",
	TagStudyDate:          "StudyDate",
	TagStudyTime:          "StudyTime",
	TagAccessionNumber:    "AccessionNumber",
	TagModality:           "Modality",
	TagReferringPhysician: "ReferringPhysicianName",
	TagStudyDescription:   "StudyDescription",
	TagSeriesDescription:  "SeriesDescription",
	TagPatientName:        "PatientName",
	TagPatientID:          "PatientID",
	TagIssuerOfPatientID:  "IssuerOfPatientID",
	TagPatientBirthDate:   "PatientBirthDate",
	TagPatientSex:         "PatientSex",
	TagStudyInstanceUID:   "StudyInstanceUID",
	TagSeriesInstanceUID:  "SeriesInstanceUID",
	TagStudyID:            "StudyID",
	TagSeriesNumber:       "SeriesNumber",
	TagInstanceNumber:     "InstanceNumber",
}

// Attributes is one flat key/value result set from a C-FIND response.
type Attributes map[Tag]string

// GetString returns the attribute value, trimmed of DICOM space padding.
func (a Attributes) GetString(tag Tag) string {
	return strings.TrimRight(a[tag], " \x00")
}

// GetInt parses an integer attribute. Malformed values are treated as absent.
func (a Attributes) GetInt(tag Tag) (int, bool) {
	s := strings.TrimSpace(a.GetString(tag))
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
