package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// SimpleUploadMaxSize is the documented limit for a single-request upload
// (250 MB). Camera stills are far below it; larger files are rejected
// before any bytes are sent.
const SimpleUploadMaxSize = 250 * 1024 * 1024

// UploadContent uploads r (size bytes) to remotePath, a drive-root-relative
// path such as "/motion_uploader/cam1/20240101/120000.jpg", with a single
// PUT to ".../root:{path}:/content". Missing parent folders are created by
// the service. An existing file is replaced. Only 200 and 201 count as
// success.
func (c *Client) UploadContent(
	ctx context.Context, remotePath, contentType string, r io.Reader, size int64,
) (*Item, error) {
	if size > SimpleUploadMaxSize {
		return nil, fmt.Errorf("graph: %s is %d bytes, above the simple upload limit of %d",
			remotePath, size, SimpleUploadMaxSize)
	}

	c.logger.Debug("simple upload",
		slog.String("remote_path", remotePath),
		slog.Int64("size", size),
	)

	path := rootPathAddress(remotePath) + "/content"

	resp, err := c.Do(ctx, http.MethodPut, path, contentType, r, size)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best-effort read for error message

		return nil, newGraphError(resp, body)
	}

	var dir driveItemResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&dir); decErr != nil {
		return nil, fmt.Errorf("graph: decoding upload response: %w", decErr)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}
