// Package journal keeps a local SQLite record of completed uploads and of
// files that keep failing, for the `history` and `status` commands.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// dirPermissions is used for the database's parent directory.
const dirPermissions = 0o700

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlInsertUpload = `INSERT INTO uploads
		(id, device_id, local_name, remote_path, item_id, size, quick_xor_hash, captured_at, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlClearFailure = `DELETE FROM failures WHERE device_id = ? AND local_name = ?`

	sqlUpsertFailure = `INSERT INTO failures (device_id, local_name, attempts, last_error, first_at, last_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT (device_id, local_name) DO UPDATE SET
			attempts = attempts + 1,
			last_error = excluded.last_error,
			last_at = excluded.last_at`

	sqlRecentUploads = `SELECT id, device_id, local_name, remote_path, item_id, size,
		quick_xor_hash, captured_at, uploaded_at
		FROM uploads
		WHERE (? = '' OR device_id = ?)
		ORDER BY uploaded_at DESC
		LIMIT ?`

	sqlListFailures = `SELECT device_id, local_name, attempts, last_error, first_at, last_at
		FROM failures
		WHERE (? = '' OR device_id = ?)
		ORDER BY last_at DESC`

	sqlStats = `SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(MAX(uploaded_at), 0)
		FROM uploads
		WHERE (? = '' OR device_id = ?)`
)

// Entry is one completed upload.
type Entry struct {
	ID           string
	DeviceID     string
	LocalName    string
	RemotePath   string
	ItemID       string
	Size         int64
	QuickXorHash string
	CapturedAt   time.Time // local mtime of the still
	UploadedAt   time.Time
}

// Failure is a local file whose uploads have failed so far.
type Failure struct {
	DeviceID  string
	LocalName string
	Attempts  int
	LastError string
	FirstAt   time.Time
	LastAt    time.Time
}

// Stats summarizes the uploads recorded for a device.
type Stats struct {
	Uploads      int
	Bytes        int64
	LastUploadAt time.Time // zero if nothing was uploaded
}

// Journal is the SQLite-backed upload history.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	// nowFunc is injectable for deterministic tests.
	nowFunc func() time.Time
}

// Open opens (creating if needed) the journal database at dbPath and brings
// its schema up to date.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), dirPermissions); err != nil {
		return nil, fmt.Errorf("journal: creating directory for %s: %w", dbPath, err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: opening database %s: %w", dbPath, err)
	}

	// Sole-writer: the daemon records, the CLI only reads.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	logger.Debug("journal opened", slog.String("db_path", dbPath))

	return &Journal{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// runMigrations applies all pending schema migrations with the goose v3
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("journal: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("journal: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("journal: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordUpload stores a completed upload and clears any failure record for
// the same file. A missing ID is generated; a zero UploadedAt becomes now.
func (j *Journal) RecordUpload(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	if e.UploadedAt.IsZero() {
		e.UploadedAt = j.nowFunc()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return e, fmt.Errorf("journal: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, sqlInsertUpload,
		e.ID, e.DeviceID, e.LocalName, e.RemotePath, e.ItemID, e.Size,
		e.QuickXorHash, e.CapturedAt.UnixNano(), e.UploadedAt.UnixNano(),
	); err != nil {
		return e, fmt.Errorf("journal: recording upload of %s: %w", e.LocalName, err)
	}

	if _, err := tx.ExecContext(ctx, sqlClearFailure, e.DeviceID, e.LocalName); err != nil {
		return e, fmt.Errorf("journal: clearing failure of %s: %w", e.LocalName, err)
	}

	if err := tx.Commit(); err != nil {
		return e, fmt.Errorf("journal: committing upload of %s: %w", e.LocalName, err)
	}

	return e, nil
}

// RecordFailure counts a failed attempt for localName.
func (j *Journal) RecordFailure(ctx context.Context, deviceID, localName string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	now := j.nowFunc().UnixNano()

	if _, err := j.db.ExecContext(ctx, sqlUpsertFailure, deviceID, localName, msg, now, now); err != nil {
		return fmt.Errorf("journal: recording failure of %s: %w", localName, err)
	}

	return nil
}

// Recent returns up to limit uploads, newest first. An empty deviceID
// matches every device.
func (j *Journal) Recent(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := j.db.QueryContext(ctx, sqlRecentUploads, deviceID, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: querying uploads: %w", err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		var (
			e                    Entry
			capturedAt, uploaded int64
		)

		if err := rows.Scan(&e.ID, &e.DeviceID, &e.LocalName, &e.RemotePath, &e.ItemID,
			&e.Size, &e.QuickXorHash, &capturedAt, &uploaded); err != nil {
			return nil, fmt.Errorf("journal: scanning upload row: %w", err)
		}

		e.CapturedAt = time.Unix(0, capturedAt)
		e.UploadedAt = time.Unix(0, uploaded)
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating uploads: %w", err)
	}

	return out, nil
}

// Failures lists files with failed attempts, most recent first.
func (j *Journal) Failures(ctx context.Context, deviceID string) ([]Failure, error) {
	rows, err := j.db.QueryContext(ctx, sqlListFailures, deviceID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("journal: querying failures: %w", err)
	}
	defer rows.Close()

	var out []Failure

	for rows.Next() {
		var (
			f             Failure
			first, latest int64
		)

		if err := rows.Scan(&f.DeviceID, &f.LocalName, &f.Attempts, &f.LastError, &first, &latest); err != nil {
			return nil, fmt.Errorf("journal: scanning failure row: %w", err)
		}

		f.FirstAt = time.Unix(0, first)
		f.LastAt = time.Unix(0, latest)
		out = append(out, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating failures: %w", err)
	}

	return out, nil
}

// Stats summarizes uploads for deviceID ("" for all devices).
func (j *Journal) Stats(ctx context.Context, deviceID string) (Stats, error) {
	var (
		s    Stats
		last int64
	)

	err := j.db.QueryRowContext(ctx, sqlStats, deviceID, deviceID).Scan(&s.Uploads, &s.Bytes, &last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, fmt.Errorf("journal: computing stats: %w", err)
	}

	if last > 0 {
		s.LastUploadAt = time.Unix(0, last)
	}

	return s, nil
}
