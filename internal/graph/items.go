package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Timestamp validation bounds. Timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// encodePathSegments URL-encodes each segment of a slash-separated path so
// characters like #, ?, % and spaces are safe inside a Graph path address.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// rootPathAddress returns the Graph address of a drive-root-relative path,
// e.g. "/a/b" -> "/me/drive/root:/a/b:". An empty path addresses the root.
func rootPathAddress(remotePath string) string {
	trimmed := strings.Trim(remotePath, "/")
	if trimmed == "" {
		return "/me/drive/root"
	}

	return "/me/drive/root:/" + encodePathSegments(trimmed) + ":"
}

// driveItemResponse mirrors the Graph API driveItem JSON.
// Unexported: callers use Item via toItem().
type driveItemResponse struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	ETag                 string       `json:"eTag"`
	WebURL               string       `json:"webUrl"`
	CreatedDateTime      string       `json:"createdDateTime"`
	LastModifiedDateTime string       `json:"lastModifiedDateTime"`
	ParentReference      *parentRef   `json:"parentReference"`
	File                 *fileFacet   `json:"file"`
	Folder               *folderFacet `json:"folder"`
}

type parentRef struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type fileFacet struct {
	MimeType string       `json:"mimeType"`
	Hashes   *hashesFacet `json:"hashes"`
}

type hashesFacet struct {
	QuickXorHash string `json:"quickXorHash"`
	SHA1Hash     string `json:"sha1Hash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount,omitempty"`
}

type createFolderRequest struct {
	Name             string      `json:"name"`
	Folder           folderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

// toItem normalizes a Graph API driveItem response into an Item.
func (d *driveItemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:       d.ID,
		Name:     d.Name,
		Size:     d.Size,
		ETag:     d.ETag,
		WebURL:   d.WebURL,
		IsFolder: d.Folder != nil,
	}

	if d.ParentReference != nil {
		item.ParentPath = d.ParentReference.Path
	}

	if d.File != nil {
		item.MimeType = d.File.MimeType

		if d.File.Hashes != nil {
			item.QuickXorHash = d.File.Hashes.QuickXorHash
			item.SHA1Hash = d.File.Hashes.SHA1Hash
		}
	}

	item.CreatedAt = parseTimestamp(d.CreatedDateTime, "createdDateTime", d.ID, logger)
	item.ModifiedAt = parseTimestamp(d.LastModifiedDateTime, "lastModifiedDateTime", d.ID, logger)

	return item
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range timestamps are replaced with time.Now().UTC().
func parseTimestamp(raw, field, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		logger.Debug("empty timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
		)

		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

// CreateFolder creates folder name under parentPath (drive-root-relative;
// "" is the root). Uses conflictBehavior "fail": an existing folder yields a
// *GraphError wrapping ErrConflict (409).
func (c *Client) CreateFolder(ctx context.Context, parentPath, name string) (*Item, error) {
	c.logger.Info("creating folder",
		slog.String("parent_path", parentPath),
		slog.String("name", name),
	)

	reqBody := createFolderRequest{
		Name:             name,
		Folder:           folderFacet{},
		ConflictBehavior: "fail",
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling create folder request: %w", err)
	}

	path := rootPathAddress(parentPath) + "/children"

	resp, err := c.Do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(bodyBytes), -1)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Only 201 means the folder was made; 409 arrives as ErrConflict from Do.
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best-effort read for error message

		return nil, newGraphError(resp, body)
	}

	var dir driveItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
		return nil, fmt.Errorf("graph: decoding create folder response: %w", err)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}
