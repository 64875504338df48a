package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// maxErrorBody caps how much of an error response body is read for logging.
const maxErrorBody = 64 * 1024

// TokenSource provides the access token for a request. Defined at the
// consumer; *TokenManager is the real implementation.
type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Client is an HTTP client for the OneDrive part of Microsoft Graph.
// Requests are single-shot: the upload loop owns the retry policy (cooldown
// and retry on the next cycle), so the client never retries on its own.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string
}

// NewClient creates a Graph API client.
// baseURL is typically DefaultBaseURL.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  userAgent,
	}
}

// NewHTTPClient returns an http.Client with explicit timeouts: connectTimeout
// bounds dialing and the TLS handshake, dataTimeout bounds the wait for
// response headers and the whole exchange. Without them a stalled connection
// would block the single upload worker until the watchdog fires.
func NewHTTPClient(connectTimeout, dataTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: dataTimeout,
		ExpectContinueTimeout: time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          4,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   dataTimeout,
	}
}

// Do executes one authenticated request against the Graph API.
// The path is appended to the client's base URL. contentType is set when
// body is non-nil; size >= 0 sets Content-Length.
// A 2xx response is returned with its body open (the caller closes it);
// anything else is returned as *GraphError with the body consumed.
func (c *Client) Do(
	ctx context.Context, method, path, contentType string, body io.Reader, size int64,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("graph: creating request: %w", err)
	}

	tok, err := c.token.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: obtaining token: %w", err)
	}

	// Authorization: {token_type} {access_token}
	tok.SetAuthHeader(req)
	req.Header.Set("User-Agent", c.userAgent)

	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	if size >= 0 {
		req.ContentLength = size
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	defer resp.Body.Close()

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	return nil, newGraphError(resp, errBody)
}
