package catalogue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/otcheredev/manifest-connector/internal/models"
	"github.com/otcheredev/manifest-connector/internal/repository"
	"github.com/rs/zerolog/log"
)

// Catalogue is the process-wide set of configured archive connectors.
// Implementations return consistent snapshots; a dispatch pass never sees a
// half-updated connector set.
type Catalogue interface {
	// AllConnectors returns every connector in catalogue iteration order.
	AllConnectors() []*models.Connector
	// DefaultConnectorIDs returns the ordered connector ids used when a
	// request names no archives.
	DefaultConnectorIDs() []string
	// ByID resolves a connector id.
	ByID(id string) (*models.Connector, bool)
}

type static struct {
	ordered  []*models.Connector
	byID     map[string]*models.Connector
	defaults []string
}

// NewStatic builds a catalogue from a fixed connector list. The slice order is
// the catalogue iteration order.
func NewStatic(connectors []*models.Connector, defaultIDs []string) Catalogue {
	byID := make(map[string]*models.Connector, len(connectors))
	for _, c := range connectors {
		byID[c.ID] = c
	}
	return &static{ordered: connectors, byID: byID, defaults: defaultIDs}
}

// Load reads the active connector descriptors from the repository into a
// static catalogue.
func Load(ctx context.Context, repo *repository.ConnectorRepository, defaultIDs []string) (Catalogue, error) {
	rows, err := repo.GetAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load connector catalogue: %w", err)
	}

	connectors := make([]*models.Connector, len(rows))
	for i := range rows {
		connectors[i] = &rows[i]
	}

	log.Info().
		Int("connectors", len(connectors)).
		Strs("defaults", defaultIDs).
		Msg("Connector catalogue loaded")

	return NewStatic(connectors, defaultIDs), nil
}

func (s *static) AllConnectors() []*models.Connector {
	return s.ordered
}

func (s *static) DefaultConnectorIDs() []string {
	return s.defaults
}

func (s *static) ByID(id string) (*models.Connector, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// refreshing wraps a static snapshot that is reloaded from the repository on
// a fixed interval, so connector edits become visible to running dispatchers
// without a restart.
type refreshing struct {
	repo     *repository.ConnectorRepository
	defaults []string

	mu       sync.RWMutex
	snapshot Catalogue

	done chan struct{}
}

// NewRefreshing loads the catalogue and keeps it current in the background.
// Call Stop to release the refresh goroutine.
func NewRefreshing(ctx context.Context, repo *repository.ConnectorRepository, defaultIDs []string, interval time.Duration) (*Refreshing, error) {
	initial, err := Load(ctx, repo, defaultIDs)
	if err != nil {
		return nil, err
	}

	r := &refreshing{
		repo:     repo,
		defaults: defaultIDs,
		snapshot: initial,
		done:     make(chan struct{}),
	}
	go r.run(interval)
	return &Refreshing{r}, nil
}

// Refreshing is a Catalogue with a background reload loop.
type Refreshing struct {
	*refreshing
}

// Stop ends the background reloads.
func (r *Refreshing) Stop() {
	close(r.done)
}

func (r *refreshing) run(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			next, err := Load(ctx, r.repo, r.defaults)
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("Connector catalogue refresh failed")
				continue
			}
			r.mu.Lock()
			r.snapshot = next
			r.mu.Unlock()
		}
	}
}

func (r *refreshing) current() Catalogue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

func (r *refreshing) AllConnectors() []*models.Connector { return r.current().AllConnectors() }

func (r *refreshing) DefaultConnectorIDs() []string { return r.current().DefaultConnectorIDs() }

func (r *refreshing) ByID(id string) (*models.Connector, bool) { return r.current().ByID(id) }
