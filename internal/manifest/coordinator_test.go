package manifest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcheredev/manifest-connector/internal/auth"
	"github.com/otcheredev/manifest-connector/internal/cache"
	"github.com/otcheredev/manifest-connector/internal/catalogue"
	"github.com/otcheredev/manifest-connector/internal/dispatcher"
	"github.com/otcheredev/manifest-connector/internal/models"
)

type fakeExchanger struct{}

func (fakeExchanger) Token(ctx context.Context, profile *models.AccessProfile) (string, error) {
	return "token", nil
}

// slowExchanger stands in for an unresponsive token endpoint: it blocks
// until its context expires.
type slowExchanger struct{}

func (slowExchanger) Token(ctx context.Context, profile *models.AccessProfile) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// deadlineCache fails any operation whose context has already expired, the
// way a networked store would.
type deadlineCache struct {
	cache.Cache
}

func (d deadlineCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.Cache.Set(ctx, key, value, ttl)
}

// fakeDispatcher counts dispatches and contributes one patient per call.
type fakeDispatcher struct {
	calls   atomic.Int64
	release chan struct{}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, level models.SearchLevel, values []string, requestedIDs []string, m *models.Manifest) error {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	aq := m.ArcQuery("arc-1")
	aq.MergePatients([]*models.Patient{{
		PatientID: "P1",
		Studies:   []*models.Study{{StudyInstanceUID: "1.2"}},
	}})
	return nil
}

func testCoordinator(t *testing.T, disp Dispatcher) (*Coordinator, *cache.MemoryCache) {
	t.Helper()
	store := cache.NewMemoryCache()
	t.Cleanup(func() { store.Close() })

	conn := &models.Connector{
		ID:   "arc-1",
		Kind: models.KindDICOM,
		WADO: &models.AccessProfile{
			AuthType: models.AuthBasic,
			BasicURL: "https://pacs.example/wado",
		},
	}
	cat := catalogue.NewStatic([]*models.Connector{conn}, nil)
	resolver := auth.NewResolver(auth.NewMemoryTokenStore(), fakeExchanger{})

	return NewCoordinator(store, disp, resolver, cat, Options{
		TTL:          time.Hour,
		LevelTimeout: time.Second,
	}), store
}

func waitForBuild(t *testing.T, c *Coordinator, fingerprint string) *models.Manifest {
	t.Helper()
	var m *models.Manifest
	require.Eventually(t, func() bool {
		var err error
		m, err = c.GetManifest(context.Background(), fingerprint)
		return err == nil && !m.BuildInProgress
	}, 2*time.Second, 5*time.Millisecond)
	return m
}

func TestResolveOrBuildMiss(t *testing.T) {
	disp := &fakeDispatcher{}
	c, _ := testCoordinator(t, disp)

	criteria := models.SearchCriteria{PatientIDs: []string{"P1"}}
	fingerprint, err := c.ResolveOrBuild(context.Background(), criteria, auth.Identity{})
	require.NoError(t, err)
	assert.Equal(t, criteria.Fingerprint(), fingerprint)

	m := waitForBuild(t, c, fingerprint)

	assert.EqualValues(t, 1, disp.calls.Load())
	require.Len(t, m.ArcQueries, 1)
	assert.Len(t, m.ArcQueries[0].Patients, 1)
	assert.Equal(t, "https://pacs.example/wado", m.ArcQueries[0].BaseURL)
}

func TestResolveOrBuildEmptyCriteria(t *testing.T) {
	c, _ := testCoordinator(t, &fakeDispatcher{})

	_, err := c.ResolveOrBuild(context.Background(), models.SearchCriteria{}, auth.Identity{})
	assert.Error(t, err)
}

func TestResolveOrBuildAtMostOneBuild(t *testing.T) {
	disp := &fakeDispatcher{release: make(chan struct{})}
	c, _ := testCoordinator(t, disp)
	criteria := models.SearchCriteria{PatientIDs: []string{"P1"}}

	var wg sync.WaitGroup
	fingerprints := make([]string, 8)
	for i := range fingerprints {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fp, err := c.ResolveOrBuild(context.Background(), criteria, auth.Identity{})
			assert.NoError(t, err)
			fingerprints[i] = fp
		}(i)
	}
	wg.Wait()
	close(disp.release)

	for _, fp := range fingerprints {
		assert.Equal(t, fingerprints[0], fp)
	}

	waitForBuild(t, c, fingerprints[0])
	assert.EqualValues(t, 1, disp.calls.Load())
}

func TestResolveOrBuildReusesCompleted(t *testing.T) {
	disp := &fakeDispatcher{}
	c, _ := testCoordinator(t, disp)
	criteria := models.SearchCriteria{PatientIDs: []string{"P1"}}

	fingerprint, err := c.ResolveOrBuild(context.Background(), criteria, auth.Identity{})
	require.NoError(t, err)
	waitForBuild(t, c, fingerprint)

	again, err := c.ResolveOrBuild(context.Background(), criteria, auth.Identity{})
	require.NoError(t, err)
	assert.Equal(t, fingerprint, again)

	// Reuse resets the times without rebuilding.
	assert.EqualValues(t, 1, disp.calls.Load())
	reused, err := c.GetManifest(context.Background(), fingerprint)
	require.NoError(t, err)
	assert.False(t, reused.BuildInProgress)
	assert.Zero(t, reused.BuildDuration)
	assert.Len(t, reused.ArcQueries, 1)
}

func TestResolveOrBuildDispatchesPopulatedLevelsOnly(t *testing.T) {
	disp := &fakeDispatcher{}
	c, _ := testCoordinator(t, disp)
	criteria := models.SearchCriteria{
		PatientIDs: []string{"P1"},
		SeriesUIDs: []string{"1.2.1"},
	}

	fingerprint, err := c.ResolveOrBuild(context.Background(), criteria, auth.Identity{})
	require.NoError(t, err)
	waitForBuild(t, c, fingerprint)

	assert.EqualValues(t, 2, disp.calls.Load())
}

func TestResolveOrBuildUnknownArchive(t *testing.T) {
	disp := &fakeDispatcher{}
	c, _ := testCoordinator(t, disp)
	criteria := models.SearchCriteria{
		PatientIDs: []string{"P1"},
		ArchiveIDs: []string{"ghost"},
	}

	_, err := c.ResolveOrBuild(context.Background(), criteria, auth.Identity{})

	require.Error(t, err)
	assert.True(t, dispatcher.IsConfigError(err))
	assert.Zero(t, disp.calls.Load())
}

func TestBuildWritesBackAfterSlowAuth(t *testing.T) {
	store := cache.NewMemoryCache()
	t.Cleanup(func() { store.Close() })

	conn := &models.Connector{
		ID:   "arc-1",
		Kind: models.KindDICOM,
		WADO: &models.AccessProfile{
			AuthType:       models.AuthOAuth2,
			DefaultGrant:   models.GrantClientCredentials,
			RegistrationID: "idp",
			OAuth2URL:      "https://pacs.example/oauth",
			TokenURL:       "https://idp.example/token",
		},
	}
	cat := catalogue.NewStatic([]*models.Connector{conn}, nil)
	resolver := auth.NewResolver(auth.NewMemoryTokenStore(), slowExchanger{})
	disp := &fakeDispatcher{}

	c := NewCoordinator(deadlineCache{store}, disp, resolver, cat, Options{
		TTL:          time.Hour,
		LevelTimeout: 20 * time.Millisecond,
	})

	criteria := models.SearchCriteria{PatientIDs: []string{"P1"}}
	fingerprint, err := c.ResolveOrBuild(context.Background(), criteria, auth.Identity{})
	require.NoError(t, err)

	// The token exchange burns its whole budget; the finished manifest must
	// still replace the in-progress placeholder instead of failing the Set
	// on an exhausted context.
	m := waitForBuild(t, c, fingerprint)
	assert.False(t, m.BuildInProgress)
	require.Len(t, m.ArcQueries, 1)
}

func TestGetManifestUnknownFingerprint(t *testing.T) {
	c, _ := testCoordinator(t, &fakeDispatcher{})

	_, err := c.GetManifest(context.Background(), "no-such-fingerprint")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}
