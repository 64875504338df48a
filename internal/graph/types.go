package graph

import "time"

// Item represents a OneDrive drive item as returned by folder creation or
// upload. Fields are normalized from the Graph API response.
type Item struct {
	ID           string
	Name         string
	Size         int64
	ETag         string
	IsFolder     bool
	MimeType     string
	QuickXorHash string // base64-encoded; may be empty
	SHA1Hash     string // hex (Personal accounts only)
	WebURL       string
	ParentPath   string // e.g. "/drive/root:/motion_uploader/cam1"
	CreatedAt    time.Time
	ModifiedAt   time.Time
}
