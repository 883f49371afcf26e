package connectors

import "strings"

// SplitPatientID translates a search value into DICOM PatientID and
// IssuerOfPatientID matching keys. Inputs follow the HL7 CX composite-id
// convention: components separated by "^", with the id in component 1 and the
// assigning authority in component 4 ("id^^^issuer"). A bare id maps to
// PatientID alone.
func SplitPatientID(value string) (patientID, issuer string) {
	if !strings.Contains(value, "^") {
		return value, ""
	}

	components := strings.Split(value, "^")
	patientID = components[0]
	if len(components) >= 4 {
		// The assigning authority itself may be "namespace&universal id&type";
		// only the namespace participates in DICOM matching.
		issuer, _, _ = strings.Cut(components[3], "&")
	}
	return patientID, issuer
}
