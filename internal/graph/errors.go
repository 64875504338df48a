// Package graph talks to the two Microsoft endpoints the uploader needs:
// the identity platform (refresh-token and authorization-code grants) and
// the OneDrive part of Microsoft Graph (folder creation and simple upload).
package graph

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, graph.ErrConflict) to check.
var (
	ErrBadRequest   = errors.New("graph: bad request")
	ErrUnauthorized = errors.New("graph: unauthorized")
	ErrForbidden    = errors.New("graph: forbidden")
	ErrNotFound     = errors.New("graph: not found")
	ErrConflict     = errors.New("graph: conflict")
	ErrThrottled    = errors.New("graph: throttled")
	ErrServerError  = errors.New("graph: server error")
)

// ErrTokenFetchFailed is returned when every refresh attempt failed. Callers
// must not proceed with uploads.
var ErrTokenFetchFailed = errors.New("graph: fetching access token failed")

// ErrNoRefreshToken is returned when the credential store holds no refresh
// token, i.e. `login` was never run.
var ErrNoRefreshToken = errors.New("graph: no refresh token stored (run 'motion-uploader login')")

// GraphError carries the status line and body of an unexpected HTTP
// response, wrapping a sentinel for errors.Is().
type GraphError struct {
	StatusCode int
	Reason     string // status text, e.g. "Service Unavailable"
	RequestID  string
	Message    string // response body, invalid UTF-8 replaced
	Err        error  // sentinel, may be nil
}

func (e *GraphError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("graph: HTTP %d %s (request-id: %s): %s", e.StatusCode, e.Reason, e.RequestID, e.Message)
	}

	return fmt.Sprintf("graph: HTTP %d %s: %s", e.StatusCode, e.Reason, e.Message)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

// newGraphError builds a GraphError from a non-success response whose body
// has already been read.
func newGraphError(resp *http.Response, body []byte) *GraphError {
	return &GraphError{
		StatusCode: resp.StatusCode,
		Reason:     reasonPhrase(resp),
		RequestID:  resp.Header.Get("request-id"),
		Message:    decodeBody(body),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// reasonPhrase extracts the reason from the status line ("503 Service
// Unavailable" -> "Service Unavailable"), falling back to the standard text.
func reasonPhrase(resp *http.Response) string {
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}

	return http.StatusText(resp.StatusCode)
}

// decodeBody is a best-effort UTF-8 decode: invalid sequences become U+FFFD.
func decodeBody(body []byte) string {
	return strings.ToValidUTF8(string(body), "�")
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
