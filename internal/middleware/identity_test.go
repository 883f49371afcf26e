package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcheredev/manifest-connector/internal/auth"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, subject string, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func identityFromRequest(t *testing.T, header string) auth.Identity {
	t.Helper()
	var got auth.Identity
	handler := Identity(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetIdentity(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestIdentityValidToken(t *testing.T) {
	identity := identityFromRequest(t, "Bearer "+signedToken(t, "dr.smith", testSecret))

	assert.True(t, identity.Authenticated)
	assert.Equal(t, "dr.smith", identity.Subject)
}

func TestIdentityNoHeader(t *testing.T) {
	identity := identityFromRequest(t, "")

	assert.False(t, identity.Authenticated)
	assert.Empty(t, identity.Subject)
}

func TestIdentityWrongSecret(t *testing.T) {
	identity := identityFromRequest(t, "Bearer "+signedToken(t, "dr.smith", "other-secret"))

	assert.False(t, identity.Authenticated)
}

func TestIdentityExpiredToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "dr.smith",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	identity := identityFromRequest(t, "Bearer "+signed)
	assert.False(t, identity.Authenticated)
}

func TestIdentityMalformedHeader(t *testing.T) {
	identity := identityFromRequest(t, "Basic dXNlcjpwYXNz")

	assert.False(t, identity.Authenticated)
}
