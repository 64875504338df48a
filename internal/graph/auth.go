package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// DefaultTenant is the Azure AD authority used for personal and work
// accounts alike.
const DefaultTenant = "common"

// MaxRefreshAttempts is how many times a refresh is tried back to back
// before EnsureValidToken gives up with ErrTokenFetchFailed.
const MaxRefreshAttempts = 3

// CredentialStore persists the app registration and the refresh token.
// Defined at the consumer; config.Store is the file-backed implementation.
type CredentialStore interface {
	ClientID() string
	ClientSecret() string
	RedirectURI() string
	RefreshToken() (string, error)
	SetRefreshToken(token string) error
}

// Endpoint returns the Azure AD OAuth2 endpoints for tenant.
func Endpoint(tenant string) oauth2.Endpoint {
	if tenant == "" {
		tenant = DefaultTenant
	}

	return microsoft.AzureADEndpoint(tenant)
}

// TokenManager owns the access token lifecycle: it exchanges the stored
// refresh token for an access token, tracks the expiry and refreshes only
// when the current token is absent or expired.
type TokenManager struct {
	tokenURL   string
	httpClient *http.Client
	store      CredentialStore
	logger     *slog.Logger

	// persistRotated writes a rotated refresh token back to the store.
	persistRotated bool

	// nowFunc is injectable for deterministic expiry tests.
	nowFunc func() time.Time

	mu    sync.Mutex
	token *oauth2.Token
}

// NewTokenManager creates a TokenManager that refreshes against tokenURL
// (typically Endpoint(tenant).TokenURL).
func NewTokenManager(tokenURL string, httpClient *http.Client, store CredentialStore, logger *slog.Logger) *TokenManager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &TokenManager{
		tokenURL:   tokenURL,
		httpClient: httpClient,
		store:      store,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// SetPersistRotated controls whether a refresh token returned by the
// refresh grant replaces the stored one. Off by default.
func (m *TokenManager) SetPersistRotated(persist bool) {
	m.persistRotated = persist
}

// EnsureValidToken refreshes the access token if it is absent or expired and
// does nothing otherwise. After MaxRefreshAttempts failed attempts it returns
// an error wrapping ErrTokenFetchFailed.
func (m *TokenManager) EnsureValidToken(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.validLocked() {
		return nil
	}

	var lastErr error

	for attempt := 1; attempt <= MaxRefreshAttempts; attempt++ {
		tok, err := m.refresh(ctx)
		if err == nil {
			m.token = tok

			return nil
		}

		lastErr = err

		m.logger.Warn("access token refresh failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", MaxRefreshAttempts),
			slog.String("error", err.Error()),
		)

		// Neither a missing refresh token nor a canceled context gets
		// better by retrying.
		if errors.Is(err, ErrNoRefreshToken) || ctx.Err() != nil {
			break
		}
	}

	return fmt.Errorf("%w: %w", ErrTokenFetchFailed, lastErr)
}

// Token returns a valid access token, refreshing first when needed.
// The returned token is a copy; callers may not mutate the manager's state.
func (m *TokenManager) Token(ctx context.Context) (*oauth2.Token, error) {
	if err := m.EnsureValidToken(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tok := *m.token

	return &tok, nil
}

// Invalidate drops the current access token so the next EnsureValidToken
// refreshes. Used after the API rejected the token with 401.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != nil {
		m.logger.Info("access token invalidated")
	}

	m.token = nil
}

// Expiry returns the expiry of the current token, or the zero time.
func (m *TokenManager) Expiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil {
		return time.Time{}
	}

	return m.token.Expiry
}

// validLocked reports whether the current token can be used now.
// A token is never used at or past its expiry.
func (m *TokenManager) validLocked() bool {
	return m.token != nil && m.token.AccessToken != "" && m.nowFunc().Before(m.token.Expiry)
}

// tokenResponse is the identity platform's token endpoint JSON.
type tokenResponse struct {
	TokenType    string    `json:"token_type"`
	AccessToken  string    `json:"access_token"`
	ExpiresIn    expiresIn `json:"expires_in"`
	RefreshToken string    `json:"refresh_token"`
}

// expiresIn accepts expires_in as a JSON number or a numeric string.
type expiresIn int64

func (e *expiresIn) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}

	*e = expiresIn(n)

	return nil
}

// refresh performs a single refresh-token grant.
func (m *TokenManager) refresh(ctx context.Context) (*oauth2.Token, error) {
	refreshToken, err := m.store.RefreshToken()
	if err != nil {
		return nil, err
	}

	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	form := url.Values{
		"client_id":     {m.store.ClientID()},
		"redirect_uri":  {m.store.RedirectURI()},
		"client_secret": {m.store.ClientSecret()},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("graph: creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, fmt.Errorf("graph: reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		gerr := newGraphError(resp, body)

		m.logger.Error("unexpected token endpoint response",
			slog.Int("status", gerr.StatusCode),
			slog.String("reason", gerr.Reason),
			slog.String("body", gerr.Message),
		)

		return nil, gerr
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("graph: decoding token response: %w", err)
	}

	if tr.AccessToken == "" {
		return nil, errors.New("graph: token response has no access_token")
	}

	if tr.ExpiresIn <= 0 {
		return nil, fmt.Errorf("graph: token response has no usable expires_in (%d)", tr.ExpiresIn)
	}

	tok := &oauth2.Token{
		TokenType:   tr.TokenType,
		AccessToken: tr.AccessToken,
		Expiry:      m.nowFunc().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}

	m.logger.Info("access token refreshed",
		slog.String("token_type", tok.TokenType),
		slog.Time("expiry", tok.Expiry),
	)

	m.handleRotation(refreshToken, tr.RefreshToken)

	return tok, nil
}

// handleRotation deals with a refresh token returned by the refresh grant.
// By default it is only logged: persisting it changes which credential the
// next run uses, and that is an explicit opt-in.
func (m *TokenManager) handleRotation(current, returned string) {
	if returned == "" || returned == current {
		return
	}

	if !m.persistRotated {
		m.logger.Warn("identity endpoint returned a new refresh token; not persisted " +
			"(set app.persist_rotated_refresh_token to store it)")

		return
	}

	if err := m.store.SetRefreshToken(returned); err != nil {
		m.logger.Warn("failed to persist rotated refresh token",
			slog.String("error", err.Error()),
		)

		return
	}

	m.logger.Info("persisted rotated refresh token")
}
