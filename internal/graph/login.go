package graph

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
)

// loginScopes are the delegated permissions requested by `login`.
// offline_access is what makes the endpoint return a refresh token.
var loginScopes = []string{"offline_access", "files.readwrite"}

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// ErrNoRefreshTokenIssued is returned when the code exchange succeeded but the
// response carried no refresh token (offline_access not granted).
var ErrNoRefreshTokenIssued = errors.New("graph: authorization server issued no refresh token")

// oauthConfig builds the oauth2.Config for the authorization code flow.
func oauthConfig(store CredentialStore, endpoint oauth2.Endpoint) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     store.ClientID(),
		ClientSecret: store.ClientSecret(),
		RedirectURL:  store.RedirectURI(),
		Scopes:       loginScopes,
		Endpoint:     endpoint,
	}
}

// AuthCodeURL returns the URL the user visits to grant access. After
// consent the browser is redirected to the registered redirect URI with a
// ?code= parameter, which the user pastes back into `login`.
func AuthCodeURL(store CredentialStore, endpoint oauth2.Endpoint, state string) string {
	return oauthConfig(store, endpoint).AuthCodeURL(state)
}

// ExchangeCode redeems an authorization code and persists the resulting
// refresh token in store. httpClient carries the connect/read timeouts.
func ExchangeCode(
	ctx context.Context,
	httpClient *http.Client,
	store CredentialStore,
	endpoint oauth2.Endpoint,
	code string,
	logger *slog.Logger,
) (*oauth2.Token, error) {
	logger.Info("exchanging authorization code for tokens")

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	tok, err := oauthConfig(store, endpoint).Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			logger.Error("unexpected token endpoint response",
				slog.Int("status", rerr.Response.StatusCode),
				slog.String("reason", reasonPhrase(rerr.Response)),
				slog.String("body", decodeBody(rerr.Body)),
			)
		}

		return nil, fmt.Errorf("graph: token exchange failed: %w", err)
	}

	if tok.RefreshToken == "" {
		return nil, ErrNoRefreshTokenIssued
	}

	if err := store.SetRefreshToken(tok.RefreshToken); err != nil {
		return nil, fmt.Errorf("graph: saving refresh token: %w", err)
	}

	logger.Info("refresh token saved",
		slog.String("token_type", tok.Type()),
		slog.Time("access_expiry", tok.Expiry),
	)

	return tok, nil
}

// GenerateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func GenerateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
