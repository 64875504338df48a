package config

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/BurntSushi/toml"
)

// Section and key holding the refresh token.
const (
	refreshTokenSection = "refresh_token"
	refreshTokenKey     = "value"
)

// Store is the credential store backed by the config file. The static app
// registration comes from the Config it was built with; the refresh token is
// re-read from disk on every call so a `login` run while the service is up
// takes effect at the next refresh without a restart.
type Store struct {
	path   string
	cfg    *Config
	logger *slog.Logger

	mu sync.Mutex // serializes refresh token file access
}

// NewStore creates a Store for the config file at path.
func NewStore(path string, cfg *Config, logger *slog.Logger) *Store {
	return &Store{path: path, cfg: cfg, logger: logger}
}

// Path returns the config file path backing the store.
func (s *Store) Path() string { return s.path }

// ClientID returns the app registration's client id.
func (s *Store) ClientID() string { return s.cfg.App.ClientID }

// ClientSecret returns the app registration's client secret.
func (s *Store) ClientSecret() string { return s.cfg.App.ClientSecret }

// RedirectURI returns the redirect URI registered for the app.
func (s *Store) RedirectURI() string { return s.cfg.App.RedirectURI }

// DeviceID returns the camera id used as the per-device remote folder.
func (s *Store) DeviceID() string { return s.cfg.Camera.ID }

// RefreshToken reads the current refresh token from the config file.
// Returns an empty string (no error) when the section is absent.
func (s *Store) RefreshToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var partial struct {
		RefreshToken RefreshTokenConfig `toml:"refresh_token"`
	}

	if _, err := toml.DecodeFile(s.path, &partial); err != nil {
		return "", fmt.Errorf("config: reading refresh token from %s: %w", s.path, err)
	}

	return partial.RefreshToken.Value, nil
}

// SetRefreshToken persists a refresh token into [refresh_token] value.
func (s *Store) SetRefreshToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := SetSectionKey(s.path, refreshTokenSection, refreshTokenKey, token, s.logger); err != nil {
		return fmt.Errorf("config: saving refresh token: %w", err)
	}

	s.cfg.RefreshToken.Value = token

	return nil
}
