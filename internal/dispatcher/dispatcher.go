package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/otcheredev/manifest-connector/internal/catalogue"
	"github.com/otcheredev/manifest-connector/internal/connectors"
	"github.com/otcheredev/manifest-connector/internal/metrics"
	"github.com/otcheredev/manifest-connector/internal/models"
	"github.com/rs/zerolog/log"
)

// ConfigError marks a configuration problem that is fatal to the dispatch
// call that triggered it: an unknown requested archive id, or an empty
// catalogue.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

// ConfigErrorf builds a dispatch configuration error.
func ConfigErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is a dispatch configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// EngineProvider resolves a connector descriptor to its query engine.
// *connectors.Factory is the production implementation.
type EngineProvider interface {
	EngineFor(conn *models.Connector) (connectors.QueryEngine, error)
}

// Dispatcher routes one search level to the resolved connectors and merges
// their results into the manifest.
type Dispatcher struct {
	catalogue catalogue.Catalogue
	engines   EngineProvider
}

// New creates a new dispatcher
func New(cat catalogue.Catalogue, engines EngineProvider) *Dispatcher {
	return &Dispatcher{catalogue: cat, engines: engines}
}

// Dispatch queries every resolved, non-deactivated connector for the level's
// values and merges each connector's patients into its own ArcQuery.
// Configuration errors abort the whole call; connector failures are
// collected and returned after the remaining connectors have run, so one
// broken archive never suppresses the others' contributions.
func (d *Dispatcher) Dispatch(ctx context.Context, level models.SearchLevel, values []string, requestedIDs []string, m *models.Manifest) error {
	conns, err := d.resolve(requestedIDs)
	if err != nil {
		return err
	}

	var failures []error
	for _, conn := range conns {
		if conn.LevelDeactivated(level) {
			log.Debug().
				Str("connector", conn.ID).
				Str("level", string(level)).
				Msg("Level deactivated for connector, skipping")
			continue
		}

		// The ArcQuery exists for every invoked connector; an empty patient
		// set means "nothing found or archive failed", the two are not
		// distinguished here.
		aq := m.ArcQuery(conn.ID)

		engine, err := d.engines.EngineFor(conn)
		if err != nil {
			failures = append(failures, err)
			metrics.ConnectorFailures.WithLabelValues(conn.ID).Inc()
			continue
		}

		patients, err := engine.Query(ctx, level, values)
		if err != nil {
			log.Error().Err(err).
				Str("connector", conn.ID).
				Str("level", string(level)).
				Msg("Connector query failed")
			failures = append(failures, err)
			metrics.ConnectorFailures.WithLabelValues(conn.ID).Inc()
			continue
		}

		aq.MergePatients(patients)

		log.Debug().
			Str("connector", conn.ID).
			Str("level", string(level)).
			Int("patients", len(patients)).
			Msg("Connector query merged")
	}

	return errors.Join(failures...)
}

// resolve returns the connector list for a dispatch: the explicitly requested
// archives, or the default list when it fully resolves, or the whole
// catalogue.
func (d *Dispatcher) resolve(requestedIDs []string) ([]*models.Connector, error) {
	if len(requestedIDs) > 0 {
		conns := make([]*models.Connector, 0, len(requestedIDs))
		for _, id := range requestedIDs {
			conn, ok := d.catalogue.ByID(id)
			if !ok {
				return nil, ConfigErrorf("requested archive %q is not configured", id)
			}
			conns = append(conns, conn)
		}
		return conns, nil
	}

	all := d.catalogue.AllConnectors()
	if len(all) == 0 {
		return nil, ConfigErrorf("no connectors configured")
	}

	defaults := d.catalogue.DefaultConnectorIDs()
	if len(defaults) > 0 {
		conns := make([]*models.Connector, 0, len(defaults))
		for _, id := range defaults {
			conn, ok := d.catalogue.ByID(id)
			if !ok {
				// A stale default list falls back to the full catalogue, not
				// to the part of it that still resolves.
				log.Warn().
					Str("connector", id).
					Msg("Default connector not in catalogue, using all connectors")
				return all, nil
			}
			conns = append(conns, conn)
		}
		return conns, nil
	}

	return all, nil
}
