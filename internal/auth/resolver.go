package auth

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/otcheredev/manifest-connector/internal/models"
	"github.com/rs/zerolog/log"
)

// CredentialsExchanger obtains a token via the client-credentials grant.
type CredentialsExchanger interface {
	Token(ctx context.Context, profile *models.AccessProfile) (string, error)
}

// Resolver decides how image retrieval against each archive authenticates
// and attaches the resulting access descriptor to the manifest's per-archive
// query record.
type Resolver struct {
	tokens TokenStore
	creds  CredentialsExchanger
}

// NewResolver creates a new authentication resolver
func NewResolver(tokens TokenStore, creds CredentialsExchanger) *Resolver {
	return &Resolver{tokens: tokens, creds: creds}
}

// Resolve writes the base URL and either a web login or a bearer header onto
// the ArcQuery, per the connector's access profile:
//
//   - Basic: basic URL, plus base64("login:password") when configured.
//   - OAuth2 authorization-code, authenticated caller: OAuth2 URL plus the
//     bearer token of the caller's authorized session; without a session or
//     an authenticated caller, fall back to Basic.
//   - OAuth2 client-credentials: OAuth2 URL plus an exchanged token.
//
// A connector without a registration id has no usable grant and takes the
// Basic branch.
func (r *Resolver) Resolve(ctx context.Context, aq *models.ArcQuery, conn *models.Connector, identity Identity) error {
	profile := conn.AccessProfile()
	if profile == nil {
		log.Debug().Str("connector", conn.ID).Msg("No access profile configured")
		return nil
	}

	if profile.AuthType != models.AuthOAuth2 {
		r.resolveBasic(aq, profile)
		return nil
	}

	grant := profile.DefaultGrant
	if profile.RegistrationID == "" {
		grant = ""
	}

	switch grant {
	case models.GrantClientCredentials:
		token, err := r.creds.Token(ctx, profile)
		if err != nil {
			return err
		}
		r.resolveBearer(aq, profile, token)

	case models.GrantAuthorizationCode:
		if !identity.Authenticated {
			r.resolveBasic(aq, profile)
			return nil
		}
		token, err := r.tokens.AccessToken(ctx, profile.RegistrationID, identity.Subject)
		if errors.Is(err, ErrNoToken) {
			r.resolveBasic(aq, profile)
			return nil
		}
		if err != nil {
			return err
		}
		r.resolveBearer(aq, profile, token)

	default:
		r.resolveBasic(aq, profile)
	}

	return nil
}

func (r *Resolver) resolveBasic(aq *models.ArcQuery, profile *models.AccessProfile) {
	aq.BaseURL = profile.BasicURL
	if profile.BasicLogin != "" && profile.BasicPassword != "" {
		credentials := profile.BasicLogin + ":" + profile.BasicPassword
		aq.WebLogin = base64.StdEncoding.EncodeToString([]byte(credentials))
	}
}

func (r *Resolver) resolveBearer(aq *models.ArcQuery, profile *models.AccessProfile, token string) {
	aq.BaseURL = profile.OAuth2URL
	aq.SetHeader("Authorization", "Bearer "+token)
}
