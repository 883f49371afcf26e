package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manifest is the aggregated result of one search request, keyed in the cache
// by the request's fingerprint. It is mutated in place by the build worker and
// only written back to the cache as a complete snapshot.
type Manifest struct {
	ID              uuid.UUID   `json:"id"`
	ArcQueries      []*ArcQuery `json:"arc_queries"`
	BuildInProgress bool        `json:"build_in_progress"`
	StartTime       time.Time   `json:"start_time"`
	BuildDuration   int64       `json:"build_duration_ms"`

	mu sync.Mutex
}

// NewManifest creates a manifest in the build-in-progress state.
func NewManifest() *Manifest {
	return &Manifest{
		ID:              uuid.New(),
		BuildInProgress: true,
		StartTime:       time.Now().UTC(),
	}
}

// ArcQuery returns the per-archive section for archiveID, creating it on
// first contribution. Results from different archives are never cross-merged.
func (m *Manifest) ArcQuery(archiveID string) *ArcQuery {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, aq := range m.ArcQueries {
		if aq.ArchiveID == archiveID {
			return aq
		}
	}

	aq := &ArcQuery{ArchiveID: archiveID, Headers: make(map[string]string)}
	m.ArcQueries = append(m.ArcQueries, aq)
	return aq
}

// Complete marks the build finished and records its duration.
func (m *Manifest) Complete() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BuildDuration = time.Since(m.StartTime).Milliseconds()
	m.BuildInProgress = false
}

// ResetTimes records that a cached manifest is being reused.
func (m *Manifest) ResetTimes() {
	m.StartTime = time.Now().UTC()
	m.BuildDuration = 0
}

// ArcQuery is the per-archive section of a manifest: the patients found via
// that archive plus the access descriptor resolved for image retrieval.
type ArcQuery struct {
	ArchiveID string            `json:"archive_id"`
	Patients  []*Patient        `json:"patients"`
	BaseURL   string            `json:"base_url,omitempty"`
	WebLogin  string            `json:"web_login,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`

	mu sync.Mutex
}

// MergePatients unions a query result into the archive's patient set.
// Patients are identified by (PatientID, Issuer); merging the same patient
// twice yields the same tree as merging it once.
func (a *ArcQuery) MergePatients(patients []*Patient) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range patients {
		a.mergePatient(p)
	}
}

func (a *ArcQuery) mergePatient(p *Patient) {
	for _, existing := range a.Patients {
		if existing.PatientID == p.PatientID && existing.Issuer == p.Issuer {
			existing.Merge(p)
			return
		}
	}
	a.Patients = append(a.Patients, p)
}

// SetHeader records an auxiliary HTTP header tag for image retrieval.
func (a *ArcQuery) SetHeader(name, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Headers == nil {
		a.Headers = make(map[string]string)
	}
	a.Headers[name] = value
}

// Patient is the root of the 4-level ownership tree. Identity is
// (PatientID, Issuer); the remaining fields are viewer display attributes.
type Patient struct {
	PatientID string   `json:"patient_id"`
	Issuer    string   `json:"issuer,omitempty"`
	Name      string   `json:"name,omitempty"`
	BirthDate string   `json:"birth_date,omitempty"`
	Sex       string   `json:"sex,omitempty"`
	Studies   []*Study `json:"studies"`
}

// Merge unions another result for the same patient into this one, by
// study / series / SOP instance UID identity at each level.
func (p *Patient) Merge(other *Patient) {
	for _, st := range other.Studies {
		p.AddStudy(st)
	}
}

// AddStudy merges a study into the patient, unioning its series when the
// study UID is already present.
func (p *Patient) AddStudy(st *Study) *Study {
	for _, existing := range p.Studies {
		if existing.StudyInstanceUID == st.StudyInstanceUID {
			for _, se := range st.Series {
				existing.AddSerie(se)
			}
			return existing
		}
	}
	p.Studies = append(p.Studies, st)
	return st
}

// Study belongs to exactly one patient, identified by study instance UID.
type Study struct {
	StudyInstanceUID   string   `json:"study_instance_uid"`
	StudyID            string   `json:"study_id,omitempty"`
	Description        string   `json:"description,omitempty"`
	Date               string   `json:"date,omitempty"`
	Time               string   `json:"time,omitempty"`
	AccessionNumber    string   `json:"accession_number,omitempty"`
	ReferringPhysician string   `json:"referring_physician,omitempty"`
	Series             []*Serie `json:"series"`
}

// AddSerie merges a serie into the study, unioning its instances when the
// series UID is already present.
func (s *Study) AddSerie(se *Serie) *Serie {
	for _, existing := range s.Series {
		if existing.SeriesInstanceUID == se.SeriesInstanceUID {
			for _, in := range se.Instances {
				existing.AddInstance(in)
			}
			return existing
		}
	}
	s.Series = append(s.Series, se)
	return se
}

// Serie belongs to exactly one study, identified by series instance UID.
// TransferSyntaxUID and CompressionRate are inherited from the connector's
// WADO settings, not from query results.
type Serie struct {
	SeriesInstanceUID string      `json:"series_instance_uid"`
	SeriesNumber      *int        `json:"series_number,omitempty"`
	Modality          string      `json:"modality,omitempty"`
	Description       string      `json:"description,omitempty"`
	TransferSyntaxUID string      `json:"transfer_syntax_uid,omitempty"`
	CompressionRate   int         `json:"compression_rate,omitempty"`
	Instances         []*Instance `json:"instances"`
}

// AddInstance adds an instance unless its SOP instance UID is already present.
func (s *Serie) AddInstance(in *Instance) {
	for _, existing := range s.Instances {
		if existing.SOPInstanceUID == in.SOPInstanceUID {
			return
		}
	}
	s.Instances = append(s.Instances, in)
}

// Instance is a single SOP instance within a serie.
type Instance struct {
	SOPInstanceUID string `json:"sop_instance_uid"`
	InstanceNumber *int   `json:"instance_number,omitempty"`
}
