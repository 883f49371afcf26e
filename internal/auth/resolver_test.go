package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcheredev/manifest-connector/internal/models"
)

type fakeExchanger struct {
	token string
	err   error
	calls int
}

func (f *fakeExchanger) Token(ctx context.Context, profile *models.AccessProfile) (string, error) {
	f.calls++
	return f.token, f.err
}

func oauthConnector(grant models.GrantType) *models.Connector {
	return &models.Connector{
		ID:   "arc-1",
		Kind: models.KindDICOM,
		WADO: &models.AccessProfile{
			AuthType:       models.AuthOAuth2,
			DefaultGrant:   grant,
			RegistrationID: "keycloak-pacs",
			OAuth2URL:      "https://pacs.example/oauth/wado",
			BasicURL:       "https://pacs.example/wado",
			BasicLogin:     "viewer",
			BasicPassword:  "secret",
		},
	}
}

func TestResolveNoProfile(t *testing.T) {
	r := NewResolver(NewMemoryTokenStore(), &fakeExchanger{})
	aq := &models.ArcQuery{ArchiveID: "arc-1"}

	err := r.Resolve(context.Background(), aq, &models.Connector{ID: "arc-1"}, Identity{})

	require.NoError(t, err)
	assert.Empty(t, aq.BaseURL)
	assert.Empty(t, aq.WebLogin)
}

func TestResolveBasic(t *testing.T) {
	conn := &models.Connector{
		ID:   "arc-1",
		Kind: models.KindDICOM,
		WADO: &models.AccessProfile{
			AuthType:      models.AuthBasic,
			BasicURL:      "https://pacs.example/wado",
			BasicLogin:    "viewer",
			BasicPassword: "secret",
		},
	}
	r := NewResolver(NewMemoryTokenStore(), &fakeExchanger{})
	aq := &models.ArcQuery{ArchiveID: "arc-1"}

	err := r.Resolve(context.Background(), aq, conn, Identity{})

	require.NoError(t, err)
	assert.Equal(t, "https://pacs.example/wado", aq.BaseURL)
	expected := base64.StdEncoding.EncodeToString([]byte("viewer:secret"))
	assert.Equal(t, expected, aq.WebLogin)
}

func TestResolveBasicWithoutCredentials(t *testing.T) {
	conn := &models.Connector{
		ID:   "arc-1",
		Kind: models.KindDICOM,
		WADO: &models.AccessProfile{
			AuthType: models.AuthBasic,
			BasicURL: "https://pacs.example/wado",
		},
	}
	r := NewResolver(NewMemoryTokenStore(), &fakeExchanger{})
	aq := &models.ArcQuery{ArchiveID: "arc-1"}

	err := r.Resolve(context.Background(), aq, conn, Identity{})

	require.NoError(t, err)
	assert.Equal(t, "https://pacs.example/wado", aq.BaseURL)
	assert.Empty(t, aq.WebLogin)
}

func TestResolveClientCredentials(t *testing.T) {
	exchanger := &fakeExchanger{token: "cc-token"}
	r := NewResolver(NewMemoryTokenStore(), exchanger)
	aq := &models.ArcQuery{ArchiveID: "arc-1"}

	err := r.Resolve(context.Background(), aq, oauthConnector(models.GrantClientCredentials), Identity{})

	require.NoError(t, err)
	assert.Equal(t, "https://pacs.example/oauth/wado", aq.BaseURL)
	assert.Equal(t, "Bearer cc-token", aq.Headers["Authorization"])
	assert.Empty(t, aq.WebLogin)
}

func TestResolveClientCredentialsExchangeFailure(t *testing.T) {
	exchanger := &fakeExchanger{err: fmt.Errorf("token endpoint unreachable")}
	r := NewResolver(NewMemoryTokenStore(), exchanger)
	aq := &models.ArcQuery{ArchiveID: "arc-1"}

	err := r.Resolve(context.Background(), aq, oauthConnector(models.GrantClientCredentials), Identity{})
	assert.Error(t, err)
}

func TestResolveAuthorizationCodeAuthenticated(t *testing.T) {
	tokens := NewMemoryTokenStore()
	tokens.Register("keycloak-pacs", "dr.smith", "session-token")
	r := NewResolver(tokens, &fakeExchanger{})
	aq := &models.ArcQuery{ArchiveID: "arc-1"}

	identity := Identity{Subject: "dr.smith", Authenticated: true}
	err := r.Resolve(context.Background(), aq, oauthConnector(models.GrantAuthorizationCode), identity)

	require.NoError(t, err)
	assert.Equal(t, "https://pacs.example/oauth/wado", aq.BaseURL)
	assert.Equal(t, "Bearer session-token", aq.Headers["Authorization"])
}

func TestResolveAuthorizationCodeUnauthenticatedFallsBack(t *testing.T) {
	r := NewResolver(NewMemoryTokenStore(), &fakeExchanger{})
	aq := &models.ArcQuery{ArchiveID: "arc-1"}

	err := r.Resolve(context.Background(), aq, oauthConnector(models.GrantAuthorizationCode), Identity{})

	require.NoError(t, err)
	assert.Equal(t, "https://pacs.example/wado", aq.BaseURL)
	assert.NotEmpty(t, aq.WebLogin)
	assert.Empty(t, aq.Headers["Authorization"])
}

func TestResolveAuthorizationCodeNoSessionFallsBack(t *testing.T) {
	// Authenticated caller, but no authorized session for this registration.
	r := NewResolver(NewMemoryTokenStore(), &fakeExchanger{})
	aq := &models.ArcQuery{ArchiveID: "arc-1"}

	identity := Identity{Subject: "dr.smith", Authenticated: true}
	err := r.Resolve(context.Background(), aq, oauthConnector(models.GrantAuthorizationCode), identity)

	require.NoError(t, err)
	assert.Equal(t, "https://pacs.example/wado", aq.BaseURL)
}

func TestResolveMissingRegistrationFallsBack(t *testing.T) {
	conn := oauthConnector(models.GrantClientCredentials)
	conn.WADO.RegistrationID = ""
	exchanger := &fakeExchanger{token: "cc-token"}
	r := NewResolver(NewMemoryTokenStore(), exchanger)
	aq := &models.ArcQuery{ArchiveID: "arc-1"}

	err := r.Resolve(context.Background(), aq, conn, Identity{})

	require.NoError(t, err)
	assert.Zero(t, exchanger.calls)
	assert.Equal(t, "https://pacs.example/wado", aq.BaseURL)
}
