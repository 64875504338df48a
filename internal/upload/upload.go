// Package upload moves a single camera still to OneDrive and prepares the
// remote folder layout /{root}/{device}/{date}/.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/motion-uploader/internal/graph"
	"github.com/tonimelisma/motion-uploader/internal/throttle"
	"github.com/tonimelisma/motion-uploader/pkg/quickxorhash"
)

// DefaultRemoteRoot is the top-level OneDrive folder all cameras upload into.
const DefaultRemoteRoot = "motion_uploader"

// contentType is sent with every upload; only JPEG stills are selected.
const contentType = "image/jpeg"

// ErrUploadFailed wraps every failed upload. A failure is routine: the file
// stays in place and is retried on a later cycle.
var ErrUploadFailed = errors.New("upload: upload failed")

// ErrFolderCreateFailed is returned when the remote folder layout cannot be
// created. The daemon cannot start without it.
var ErrFolderCreateFailed = errors.New("upload: creating remote folder failed")

// ErrHashMismatch means the server stored different bytes than were sent.
var ErrHashMismatch = errors.New("upload: content hash mismatch")

// DriveAPI is the part of the Graph client the uploader needs.
// *graph.Client satisfies it.
type DriveAPI interface {
	UploadContent(ctx context.Context, remotePath, contentType string, r io.Reader, size int64) (*graph.Item, error)
	CreateFolder(ctx context.Context, parentPath, name string) (*graph.Item, error)
}

// TokenInvalidator drops a rejected access token. *graph.TokenManager
// satisfies it.
type TokenInvalidator interface {
	Invalidate()
}

// Uploader uploads files for one camera.
type Uploader struct {
	api        DriveAPI
	tokens     TokenInvalidator
	root       string
	verifyHash bool
	limiter    *throttle.Limiter
	logger     *slog.Logger
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithRemoteRoot overrides DefaultRemoteRoot.
func WithRemoteRoot(root string) Option {
	return func(u *Uploader) {
		if r := strings.Trim(root, "/"); r != "" {
			u.root = r
		}
	}
}

// WithHashVerification compares the QuickXorHash reported by the server with
// the hash of the bytes sent. A mismatch fails the upload.
func WithHashVerification(on bool) Option {
	return func(u *Uploader) {
		u.verifyHash = on
	}
}

// WithThrottle caps the upload rate. A nil limiter is unlimited.
func WithThrottle(l *throttle.Limiter) Option {
	return func(u *Uploader) {
		u.limiter = l
	}
}

// NewUploader creates an Uploader. tokens may be nil.
func NewUploader(api DriveAPI, tokens TokenInvalidator, logger *slog.Logger, opts ...Option) *Uploader {
	u := &Uploader{
		api:    api,
		tokens: tokens,
		root:   DefaultRemoteRoot,
		logger: logger,
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// Root returns the remote root folder name.
func (u *Uploader) Root() string {
	return u.root
}

// RemotePath builds "/{root}/{deviceID}/{prefix}/{suffix}". Segments are
// NFC-normalized so names typed on macOS and Linux map to the same item.
func RemotePath(root, deviceID, prefix, suffix string) string {
	if root == "" {
		root = DefaultRemoteRoot
	}

	segs := []string{root, deviceID, prefix, suffix}
	for i, s := range segs {
		segs[i] = norm.NFC.String(strings.Trim(s, "/"))
	}

	return "/" + strings.Join(segs, "/")
}

// Upload sends size bytes from r to the camera's dated folder. Any failure
// is returned wrapping ErrUploadFailed; a failure to obtain an access token
// additionally wraps graph.ErrTokenFetchFailed.
func (u *Uploader) Upload(
	ctx context.Context, deviceID, prefix, suffix string, r io.Reader, size int64,
) (*graph.Item, error) {
	remotePath := RemotePath(u.root, deviceID, prefix, suffix)
	hr := quickxorhash.NewReader(u.limiter.Reader(ctx, r))

	u.logger.Info("uploading",
		slog.String("remote_path", remotePath),
		slog.Int64("size", size),
	)

	item, err := u.api.UploadContent(ctx, remotePath, contentType, hr, size)
	if err != nil {
		u.logFailure(remotePath, err)

		return nil, fmt.Errorf("%w: %s: %w", ErrUploadFailed, remotePath, err)
	}

	u.logger.Info("upload complete",
		slog.String("remote_path", remotePath),
		slog.String("item_id", item.ID),
		slog.String("name", item.Name),
		slog.Int64("size", item.Size),
		slog.String("etag", item.ETag),
		slog.String("web_url", item.WebURL),
	)

	if u.verifyHash && item.QuickXorHash != "" {
		if local := hr.Sum(); local != item.QuickXorHash {
			u.logger.Warn("uploaded content hash differs",
				slog.String("remote_path", remotePath),
				slog.String("local_hash", local),
				slog.String("remote_hash", item.QuickXorHash),
			)

			return nil, fmt.Errorf("%w: %s: %w", ErrUploadFailed, remotePath, ErrHashMismatch)
		}
	}

	return item, nil
}

// logFailure records why an upload failed and invalidates a rejected token.
func (u *Uploader) logFailure(remotePath string, err error) {
	var gerr *graph.GraphError
	if !errors.As(err, &gerr) {
		u.logger.Warn("upload failed",
			slog.String("remote_path", remotePath),
			slog.String("error", err.Error()),
		)

		return
	}

	u.logger.Warn("upload failed",
		slog.String("remote_path", remotePath),
		slog.Int("status", gerr.StatusCode),
		slog.String("reason", gerr.Reason),
		slog.String("request_id", gerr.RequestID),
		slog.String("body", gerr.Message),
	)

	if errors.Is(err, graph.ErrUnauthorized) && u.tokens != nil {
		u.tokens.Invalidate()
	}
}

// EnsureRemoteFolders creates /{root} and /{root}/{deviceID}. A folder that
// already exists (409) counts as success, so the call is idempotent.
func (u *Uploader) EnsureRemoteFolders(ctx context.Context, deviceID string) error {
	if err := u.ensureFolder(ctx, "", u.root); err != nil {
		return err
	}

	return u.ensureFolder(ctx, "/"+u.root, norm.NFC.String(deviceID))
}

func (u *Uploader) ensureFolder(ctx context.Context, parent, name string) error {
	_, err := u.api.CreateFolder(ctx, parent, name)

	switch {
	case err == nil:
		u.logger.Info("remote folder created",
			slog.String("parent", parent),
			slog.String("name", name),
		)

		return nil

	case errors.Is(err, graph.ErrConflict):
		u.logger.Info("remote folder exists",
			slog.String("parent", parent),
			slog.String("name", name),
		)

		return nil

	default:
		var gerr *graph.GraphError
		if errors.As(err, &gerr) {
			u.logger.Error("remote folder creation failed",
				slog.String("name", name),
				slog.Int("status", gerr.StatusCode),
				slog.String("reason", gerr.Reason),
				slog.String("body", gerr.Message),
			)
		}

		return fmt.Errorf("%w: %s/%s: %w", ErrFolderCreateFailed, parent, name, err)
	}
}
