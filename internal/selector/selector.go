// Package selector finds camera stills that are ready to upload: files in
// the watch directory named like "20240101_120000.jpg" whose writer has
// finished with them.
package selector

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"
)

// DefaultSettleDelay is how old a file's mtime must be before it is
// considered completely written.
const DefaultSettleDelay = 5 * time.Second

// DefaultBatchLimit caps the number of files uploaded per cycle.
const DefaultBatchLimit = 10

// namePattern is an 8-digit date followed by anything ending in ".jpg".
var namePattern = regexp.MustCompile(`(?i)^(\d{8})(.*\.jpg)$`)

// Candidate is a file eligible for upload in the current cycle.
type Candidate struct {
	Name    string // base name in the watch directory
	Path    string // full local path
	Prefix  string // the leading 8-digit date, used as the remote subfolder
	Suffix  string // the remainder of the name, used as the remote file name
	ModTime time.Time
	Size    int64
}

// ParseName splits a file name into its date prefix and suffix.
// ok is false when the name does not match the expected pattern.
func ParseName(name string) (prefix, suffix string, ok bool) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}

	return m[1], m[2], true
}

// Scan lists dir and returns the candidates whose name parses, which are
// regular files (symlinks are followed) and whose mtime is strictly before
// now-settleDelay. Entries removed between listing and stat are skipped, as
// are entries that cannot be stat'ed (symlink loops, permission errors),
// which are logged. Only a failure to list dir is returned. Candidates come
// back in directory-listing order.
func Scan(dir string, settleDelay time.Duration, now time.Time, logger *slog.Logger) ([]Candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("selector: listing %s: %w", dir, err)
	}

	cutoff := now.Add(-settleDelay)

	var out []Candidate

	for _, e := range entries {
		prefix, suffix, ok := ParseName(e.Name())
		if !ok {
			continue
		}

		fullPath := filepath.Join(dir, e.Name())

		info, err := os.Stat(fullPath)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("skipping unreadable file",
					slog.String("path", fullPath),
					slog.String("error", err.Error()),
				)
			}

			continue
		}

		if !info.Mode().IsRegular() {
			continue
		}

		if !info.ModTime().Before(cutoff) {
			continue
		}

		out = append(out, Candidate{
			Name:    e.Name(),
			Path:    fullPath,
			Prefix:  prefix,
			Suffix:  suffix,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}

	return out, nil
}

// SelectBatch orders cands newest first and returns at most limit of them.
// hasMore reports whether candidates were left out. Files with equal mtimes
// keep their listing order. cands is not modified.
func SelectBatch(cands []Candidate, limit int) (batch []Candidate, hasMore bool) {
	if limit <= 0 {
		return nil, len(cands) > 0
	}

	sorted := slices.Clone(cands)
	slices.SortStableFunc(sorted, func(a, b Candidate) int {
		return b.ModTime.Compare(a.ModTime)
	})

	if len(sorted) > limit {
		return sorted[:limit], true
	}

	return sorted, false
}
