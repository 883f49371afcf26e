package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/otcheredev/manifest-connector/internal/database"
	"github.com/otcheredev/manifest-connector/internal/models"
)

// QueryEngine executes one search-level query against an archive and returns
// the reconstructed patient trees.
type QueryEngine interface {
	Query(ctx context.Context, level models.SearchLevel, values []string) ([]*models.Patient, error)
}

// Factory builds and caches one query engine per connector. The engine kind
// is selected once, when the connector is first used, not per query.
type Factory struct {
	tenants    *database.TenantRegistry
	callingAET string
	timeout    time.Duration

	mu      sync.RWMutex
	engines map[string]QueryEngine
	closers []func() error
}

// NewFactory creates a new engine factory
func NewFactory(tenants *database.TenantRegistry, callingAET string, timeout time.Duration) *Factory {
	if callingAET == "" {
		callingAET = "MANIFEST_CONN"
	}
	return &Factory{
		tenants:    tenants,
		callingAET: callingAET,
		timeout:    timeout,
		engines:    make(map[string]QueryEngine),
	}
}

// EngineFor gets or creates the query engine for a connector
func (f *Factory) EngineFor(conn *models.Connector) (QueryEngine, error) {
	f.mu.RLock()
	cached, exists := f.engines[conn.ID]
	f.mu.RUnlock()

	if exists {
		return cached, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check after acquiring write lock
	if engine, exists := f.engines[conn.ID]; exists {
		return engine, nil
	}

	var engine QueryEngine
	switch conn.Kind {
	case models.KindSQL:
		if conn.SQL == nil {
			return nil, fmt.Errorf("connector %s has no SQL settings", conn.ID)
		}
		engine = NewSQLEngine(conn, f.tenants)
	case models.KindDICOM:
		if conn.DICOM == nil {
			return nil, fmt.Errorf("connector %s has no DICOM settings", conn.ID)
		}
		finder := newDIMSEFinder(conn, f.callingAET, f.timeout)
		f.closers = append(f.closers, finder.Close)
		engine = NewDICOMEngine(conn, finder)
	case models.KindDICOMWeb:
		if conn.Web == nil {
			return nil, fmt.Errorf("connector %s has no DICOM-Web settings", conn.ID)
		}
		engine = NewDICOMEngine(conn, newQIDOFinder(conn, f.timeout))
	default:
		return nil, fmt.Errorf("unsupported connector kind: %s", conn.Kind)
	}

	f.engines[conn.ID] = engine
	return engine, nil
}

// CloseAll closes every engine resource held by the factory.
func (f *Factory) CloseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs int
	for _, close := range f.closers {
		if err := close(); err != nil {
			errs++
		}
	}
	f.closers = nil
	f.engines = make(map[string]QueryEngine)

	if errs > 0 {
		return fmt.Errorf("encountered %d errors while closing engines", errs)
	}
	return nil
}

// patientSet accumulates query results, collapsing rows that belong to the
// same patient into one record.
type patientSet struct {
	patients []*models.Patient
}

func (s *patientSet) add(p *models.Patient) {
	for _, existing := range s.patients {
		if existing.PatientID == p.PatientID && existing.Issuer == p.Issuer {
			existing.Merge(p)
			return
		}
	}
	s.patients = append(s.patients, p)
}
