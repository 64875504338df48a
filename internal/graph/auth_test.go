package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory CredentialStore.
type memStore struct {
	mu       sync.Mutex
	refresh  string
	readErr  error
	writeErr error
	writes   int
}

func (s *memStore) ClientID() string     { return "client-id" }
func (s *memStore) ClientSecret() string { return "client-secret" }
func (s *memStore) RedirectURI() string  { return "https://localhost/redirect" }

func (s *memStore) RefreshToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.refresh, s.readErr
}

func (s *memStore) SetRefreshToken(tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}

	s.refresh = tok
	s.writes++

	return nil
}

// fixedClock returns a controllable nowFunc.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, url string, store CredentialStore) (*TokenManager, *fixedClock) {
	t.Helper()

	clock := &fixedClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := NewTokenManager(url, nil, store, discardLogger())
	m.nowFunc = clock.Now

	return m, clock
}

func tokenServer(t *testing.T, calls *atomic.Int32, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestEnsureValidToken_RefreshesWhenAbsent(t *testing.T) {
	var calls atomic.Int32

	srv := tokenServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "https://localhost/redirect", r.PostForm.Get("redirect_uri"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "stored-refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"AT1","expires_in":3600}`)
	})

	m, clock := newTestManager(t, srv.URL, &memStore{refresh: "stored-refresh"})

	require.NoError(t, m.EnsureValidToken(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, clock.Now().Add(time.Hour), m.Expiry())

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AT1", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
}

func TestEnsureValidToken_NoRefreshWhileValid(t *testing.T) {
	var calls atomic.Int32

	srv := tokenServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"AT","expires_in":3600}`)
	})

	m, clock := newTestManager(t, srv.URL, &memStore{refresh: "r"})

	require.NoError(t, m.EnsureValidToken(context.Background()))
	clock.Advance(59 * time.Minute)
	require.NoError(t, m.EnsureValidToken(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnsureValidToken_RefreshesAtExpiry(t *testing.T) {
	var calls atomic.Int32

	srv := tokenServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"token_type":"Bearer","access_token":"AT%d","expires_in":60}`, calls.Load())
	})

	m, clock := newTestManager(t, srv.URL, &memStore{refresh: "r"})

	require.NoError(t, m.EnsureValidToken(context.Background()))
	clock.Advance(60 * time.Second)
	require.NoError(t, m.EnsureValidToken(context.Background()))
	assert.Equal(t, int32(2), calls.Load())

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AT2", tok.AccessToken)
}

func TestEnsureValidToken_ExpiresInAsString(t *testing.T) {
	var calls atomic.Int32

	srv := tokenServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"AT","expires_in":"120"}`)
	})

	m, clock := newTestManager(t, srv.URL, &memStore{refresh: "r"})

	require.NoError(t, m.EnsureValidToken(context.Background()))
	assert.Equal(t, clock.Now().Add(2*time.Minute), m.Expiry())
}

func TestEnsureValidToken_ThreeAttemptsThenFails(t *testing.T) {
	var calls atomic.Int32

	srv := tokenServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})

	m, _ := newTestManager(t, srv.URL, &memStore{refresh: "r"})

	err := m.EnsureValidToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenFetchFailed)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, int32(MaxRefreshAttempts), calls.Load())
	assert.True(t, m.Expiry().IsZero())
}

func TestEnsureValidToken_SucceedsOnThirdAttempt(t *testing.T) {
	var calls atomic.Int32

	srv := tokenServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Load() < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"AT","expires_in":3600}`)
	})

	m, _ := newTestManager(t, srv.URL, &memStore{refresh: "r"})

	require.NoError(t, m.EnsureValidToken(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestEnsureValidToken_MalformedJSON(t *testing.T) {
	var calls atomic.Int32

	srv := tokenServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `not json`)
	})

	m, _ := newTestManager(t, srv.URL, &memStore{refresh: "r"})

	err := m.EnsureValidToken(context.Background())
	assert.ErrorIs(t, err, ErrTokenFetchFailed)
	assert.Equal(t, int32(MaxRefreshAttempts), calls.Load())
}

func TestEnsureValidToken_MissingOrZeroExpiresInFails(t *testing.T) {
	for _, body := range []string{
		`{"token_type":"Bearer","access_token":"AT"}`,
		`{"token_type":"Bearer","access_token":"AT","expires_in":0}`,
		`{"token_type":"Bearer","access_token":"AT","expires_in":-5}`,
	} {
		var calls atomic.Int32

		srv := tokenServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, body)
		})

		m, _ := newTestManager(t, srv.URL, &memStore{refresh: "r"})

		err := m.EnsureValidToken(context.Background())
		require.ErrorIs(t, err, ErrTokenFetchFailed, body)
		assert.Equal(t, int32(MaxRefreshAttempts), calls.Load(), body)
		assert.True(t, m.Expiry().IsZero(), body)
	}
}

func TestEnsureValidToken_NoRefreshTokenStored(t *testing.T) {
	var calls atomic.Int32

	srv := tokenServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	m, _ := newTestManager(t, srv.URL, &memStore{})

	err := m.EnsureValidToken(context.Background())
	assert.ErrorIs(t, err, ErrTokenFetchFailed)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, int32(0), calls.Load())
}

func TestEnsureValidToken_StoreReadError(t *testing.T) {
	var calls atomic.Int32

	srv := tokenServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {})

	m, _ := newTestManager(t, srv.URL, &memStore{readErr: errors.New("disk gone")})

	err := m.EnsureValidToken(context.Background())
	assert.ErrorIs(t, err, ErrTokenFetchFailed)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestInvalidate_ForcesRefresh(t *testing.T) {
	var calls atomic.Int32

	srv := tokenServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"AT","expires_in":3600}`)
	})

	m, _ := newTestManager(t, srv.URL, &memStore{refresh: "r"})

	require.NoError(t, m.EnsureValidToken(context.Background()))
	m.Invalidate()
	assert.True(t, m.Expiry().IsZero())
	require.NoError(t, m.EnsureValidToken(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRotatedRefreshToken_NotPersistedByDefault(t *testing.T) {
	var calls atomic.Int32

	srv := tokenServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"AT","expires_in":3600,"refresh_token":"rotated"}`)
	})

	store := &memStore{refresh: "original"}
	m, _ := newTestManager(t, srv.URL, store)

	require.NoError(t, m.EnsureValidToken(context.Background()))
	assert.Equal(t, "original", store.refresh)
	assert.Equal(t, 0, store.writes)
}

func TestRotatedRefreshToken_PersistedWhenEnabled(t *testing.T) {
	var calls atomic.Int32

	srv := tokenServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"AT","expires_in":3600,"refresh_token":"rotated"}`)
	})

	store := &memStore{refresh: "original"}
	m, _ := newTestManager(t, srv.URL, store)
	m.SetPersistRotated(true)

	require.NoError(t, m.EnsureValidToken(context.Background()))
	assert.Equal(t, "rotated", store.refresh)
	assert.Equal(t, 1, store.writes)
}

func TestRotatedRefreshToken_PersistFailureIsNotFatal(t *testing.T) {
	var calls atomic.Int32

	srv := tokenServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"AT","expires_in":3600,"refresh_token":"rotated"}`)
	})

	store := &memStore{refresh: "original", writeErr: errors.New("read-only")}
	m, _ := newTestManager(t, srv.URL, store)
	m.SetPersistRotated(true)

	require.NoError(t, m.EnsureValidToken(context.Background()))
}

func TestEndpoint_DefaultsToCommon(t *testing.T) {
	ep := Endpoint("")
	assert.Equal(t, "https://login.microsoftonline.com/common/oauth2/v2.0/token", ep.TokenURL)
	assert.Equal(t, "https://login.microsoftonline.com/common/oauth2/v2.0/authorize", ep.AuthURL)

	assert.Contains(t, Endpoint("consumers").TokenURL, "/consumers/")
}
