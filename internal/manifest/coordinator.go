package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/otcheredev/manifest-connector/internal/auth"
	"github.com/otcheredev/manifest-connector/internal/cache"
	"github.com/otcheredev/manifest-connector/internal/catalogue"
	"github.com/otcheredev/manifest-connector/internal/dispatcher"
	"github.com/otcheredev/manifest-connector/internal/metrics"
	"github.com/otcheredev/manifest-connector/internal/models"
	"github.com/otcheredev/manifest-connector/internal/repository"
	"github.com/rs/zerolog/log"
)

// Coordinator owns the fingerprint→manifest mapping. It guarantees at most
// one in-flight build per fingerprint through the cache's put-if-absent
// primitive and runs builds asynchronously; the triggering call returns the
// fingerprint immediately.
//
// Readers polling a fingerprint see the in-progress placeholder until the
// build completes; the coordinator only writes complete snapshots over it,
// so a manifest with BuildInProgress false is always a finished build.
// Dispatcher routes one search level to the configured connectors.
// *dispatcher.Dispatcher is the production implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, level models.SearchLevel, values []string, requestedIDs []string, m *models.Manifest) error
}

type Coordinator struct {
	cache        cache.Cache
	dispatcher   Dispatcher
	resolver     *auth.Resolver
	catalogue    catalogue.Catalogue
	audits       *repository.AuditRepository
	ttl          time.Duration
	levelTimeout time.Duration
}

// Options configures a coordinator.
type Options struct {
	// TTL bounds a manifest's life in the cache.
	TTL time.Duration
	// LevelTimeout bounds each search level's connector dispatch.
	LevelTimeout time.Duration
	// Audits, when set, receives one row per completed build.
	Audits *repository.AuditRepository
}

// NewCoordinator creates a new manifest cache coordinator
func NewCoordinator(store cache.Cache, disp Dispatcher, resolver *auth.Resolver, cat catalogue.Catalogue, opts Options) *Coordinator {
	if opts.TTL == 0 {
		opts.TTL = 4 * time.Hour
	}
	if opts.LevelTimeout == 0 {
		opts.LevelTimeout = 2 * time.Minute
	}
	return &Coordinator{
		cache:        store,
		dispatcher:   disp,
		resolver:     resolver,
		catalogue:    cat,
		audits:       opts.Audits,
		ttl:          opts.TTL,
		levelTimeout: opts.LevelTimeout,
	}
}

// ResolveOrBuild computes the criteria's fingerprint and ensures a manifest
// exists or is being built for it. Cached complete manifests are reused with
// their times reset; an in-flight build is never duplicated.
func (c *Coordinator) ResolveOrBuild(ctx context.Context, criteria models.SearchCriteria, identity auth.Identity) (string, error) {
	if criteria.IsEmpty() {
		return "", fmt.Errorf("search criteria has no populated field")
	}

	// Unknown requested archives are rejected up front; the async build
	// would only be able to log them.
	for _, id := range criteria.ArchiveIDs {
		if _, ok := c.catalogue.ByID(id); !ok {
			return "", dispatcher.ConfigErrorf("requested archive %q is not configured", id)
		}
	}

	fingerprint := criteria.Fingerprint()
	key := cache.ManifestKey(fingerprint)

	data, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var m models.Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return "", fmt.Errorf("corrupt cached manifest %s: %w", fingerprint, err)
		}
		if m.BuildInProgress {
			metrics.CacheHits.WithLabelValues("in_progress").Inc()
			return fingerprint, nil
		}

		m.ResetTimes()
		if err := c.put(ctx, key, &m); err != nil {
			return "", err
		}
		metrics.CacheHits.WithLabelValues("complete").Inc()
		return fingerprint, nil

	case !errors.Is(err, cache.ErrCacheMiss):
		return "", fmt.Errorf("manifest cache lookup failed: %w", err)
	}

	m := models.NewManifest()
	placeholder, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}

	// Put-if-absent is the single enforcement point for at-most-one build
	// per fingerprint: racing callers lose the insert and start nothing.
	stored, err := c.cache.PutIfAbsent(ctx, key, placeholder, c.ttl)
	if err != nil {
		return "", fmt.Errorf("manifest cache insert failed: %w", err)
	}
	if !stored {
		return fingerprint, nil
	}

	metrics.BuildsStarted.Inc()
	go c.build(fingerprint, m, criteria, identity)

	return fingerprint, nil
}

// GetManifest returns the cached manifest for a fingerprint.
func (c *Coordinator) GetManifest(ctx context.Context, fingerprint string) (*models.Manifest, error) {
	data, err := c.cache.Get(ctx, cache.ManifestKey(fingerprint))
	if err != nil {
		return nil, err
	}

	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt cached manifest %s: %w", fingerprint, err)
	}
	return &m, nil
}

// build runs off the calling goroutine. Each populated criteria field is
// dispatched in the fixed build order; failures are logged and counted but
// never abort the remaining levels, so the build always completes with
// whatever was merged.
func (c *Coordinator) build(fingerprint string, m *models.Manifest, criteria models.SearchCriteria, identity auth.Identity) {
	logger := log.With().Str("fingerprint", fingerprint).Logger()
	failures := 0

	for _, level := range models.BuildOrder {
		values := criteria.Values(level)
		if len(values) == 0 {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.levelTimeout)
		err := c.dispatcher.Dispatch(ctx, level, values, criteria.ArchiveIDs, m)
		cancel()

		if err != nil {
			failures++
			if dispatcher.IsConfigError(err) {
				logger.Error().Err(err).
					Str("level", string(level)).
					Msg("Dispatch aborted by configuration error")
			} else {
				logger.Warn().Err(err).
					Str("level", string(level)).
					Msg("Dispatch completed with connector failures")
			}
		}
	}

	for _, aq := range m.ArcQueries {
		conn, ok := c.catalogue.ByID(aq.ArchiveID)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.levelTimeout)
		err := c.resolver.Resolve(ctx, aq, conn, identity)
		cancel()
		if err != nil {
			failures++
			logger.Warn().Err(err).
				Str("connector", aq.ArchiveID).
				Msg("Authentication resolution failed")
		}
	}

	m.Complete()
	metrics.BuildDuration.Observe(float64(m.BuildDuration) / 1000)

	// The write-back gets a fresh deadline. An exhausted dispatch or auth
	// budget must not fail the Set and leave the in-progress placeholder
	// pinned in the cache until the TTL expires.
	ctx, cancel := context.WithTimeout(context.Background(), c.levelTimeout)
	defer cancel()

	if err := c.put(ctx, cache.ManifestKey(fingerprint), m); err != nil {
		logger.Error().Err(err).Msg("Failed to store built manifest")
		return
	}

	patients := 0
	for _, aq := range m.ArcQueries {
		patients += len(aq.Patients)
	}

	logger.Info().
		Int("archives", len(m.ArcQueries)).
		Int("patients", patients).
		Int("failures", failures).
		Int64("duration_ms", m.BuildDuration).
		Msg("Manifest build completed")

	if c.audits != nil {
		audit := &models.BuildAudit{
			Fingerprint:       fingerprint,
			ManifestID:        m.ID,
			Subject:           identity.Subject,
			ArchiveCount:      len(m.ArcQueries),
			PatientCount:      patients,
			ConnectorFailures: failures,
			Duration:          m.BuildDuration,
		}
		if err := c.audits.Create(ctx, audit); err != nil {
			logger.Warn().Err(err).Msg("Failed to record build audit")
		}
	}
}

func (c *Coordinator) put(ctx context.Context, key string, m *models.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		return fmt.Errorf("failed to store manifest: %w", err)
	}
	return nil
}
