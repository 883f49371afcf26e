package connectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPatientID(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		patientID string
		issuer    string
	}{
		{"bare id", "P12345", "P12345", ""},
		{"id with issuer", "P12345^^^HOSP_A", "P12345", "HOSP_A"},
		{"issuer with subcomponents", "P12345^^^HOSP_A&1.2.3&ISO", "P12345", "HOSP_A"},
		{"empty issuer component", "P12345^^^", "P12345", ""},
		{"extra components ignored", "P12345^^^HOSP_A^PI", "P12345", "HOSP_A"},
		{"empty value", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, issuer := SplitPatientID(tt.value)
			assert.Equal(t, tt.patientID, id)
			assert.Equal(t, tt.issuer, issuer)
		})
	}
}
