package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/otcheredev/manifest-connector/internal/models"
	"golang.org/x/oauth2/clientcredentials"
)

// Identity describes the caller on whose behalf a manifest is built.
type Identity struct {
	Subject       string
	Authenticated bool
}

// ErrNoToken is returned when no authorized session exists for a caller and
// client registration.
var ErrNoToken = errors.New("no authorized token")

// TokenStore looks up the access token of a caller's already-authorized
// client session, keyed by client registration id and caller subject. It is
// implemented by the surrounding authorization layer.
type TokenStore interface {
	AccessToken(ctx context.Context, registrationID, subject string) (string, error)
}

// MemoryTokenStore is an in-process TokenStore, used when the service manages
// authorized sessions itself and in tests.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemoryTokenStore creates an empty token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]string)}
}

// Register stores a caller's access token for a client registration.
func (s *MemoryTokenStore) Register(registrationID, subject, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[registrationID+"\x00"+subject] = token
}

func (s *MemoryTokenStore) AccessToken(ctx context.Context, registrationID, subject string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[registrationID+"\x00"+subject]
	if !ok {
		return "", ErrNoToken
	}
	return token, nil
}

// ClientCredentialsProvider exchanges client credentials for access tokens,
// one cached token source per client registration.
type ClientCredentialsProvider struct {
	mu      sync.Mutex
	sources map[string]*clientcredentials.Config
}

// NewClientCredentialsProvider creates a new provider.
func NewClientCredentialsProvider() *ClientCredentialsProvider {
	return &ClientCredentialsProvider{sources: make(map[string]*clientcredentials.Config)}
}

// Token obtains an access token for the profile's client registration,
// scoped to the viewer principal.
func (p *ClientCredentialsProvider) Token(ctx context.Context, profile *models.AccessProfile) (string, error) {
	p.mu.Lock()
	cfg, ok := p.sources[profile.RegistrationID]
	if !ok {
		cfg = &clientcredentials.Config{
			ClientID:     profile.ClientID,
			ClientSecret: profile.ClientSecret,
			TokenURL:     profile.TokenURL,
			Scopes:       profile.Scopes,
			EndpointParams: url.Values{
				"principal": {ViewerPrincipal},
			},
		}
		p.sources[profile.RegistrationID] = cfg
	}
	p.mu.Unlock()

	token, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("client credentials exchange failed for %s: %w", profile.RegistrationID, err)
	}
	return token.AccessToken, nil
}

// ViewerPrincipal is the principal client-credentials exchanges are scoped to.
const ViewerPrincipal = "weasis"
