package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/motion-uploader/internal/config"
	"github.com/tonimelisma/motion-uploader/internal/journal"
	"github.com/tonimelisma/motion-uploader/internal/selector"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, pending stills and upload totals",
		RunE:  runStatus,
	}
}

// statusOutput is the JSON schema of `status --json`.
type statusOutput struct {
	CameraID        string          `json:"camera_id"`
	WatchDir        string          `json:"watch_dir"`
	RemoteFolder    string          `json:"remote_folder"`
	ConfigPath      string          `json:"config_path"`
	RefreshToken    bool            `json:"refresh_token_present"`
	ServicePID      int             `json:"service_pid,omitempty"`
	Pending         int             `json:"pending"`
	ScanError       string          `json:"scan_error,omitempty"`
	Journal         *journalStatus  `json:"journal,omitempty"`
	FailingUploads  []failingUpload `json:"failing_uploads,omitempty"`
	JournalDisabled bool            `json:"journal_disabled,omitempty"`
}

type journalStatus struct {
	Uploads      int        `json:"uploads"`
	Bytes        int64      `json:"bytes"`
	LastUploadAt *time.Time `json:"last_upload_at,omitempty"`
}

type failingUpload struct {
	Name      string    `json:"name"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	LastAt    time.Time `json:"last_at"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	st, err := collectStatus(cmd.Context(), resolvedCfg, resolvedCfgPath, logger, time.Now())
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, st)
	}

	printStatusText(os.Stdout, st)

	return nil
}

// collectStatus gathers everything `status` reports. It never creates the
// journal: a missing database just means nothing was uploaded yet.
func collectStatus(
	ctx context.Context, cfg *config.Config, cfgPath string, logger *slog.Logger, now time.Time,
) (statusOutput, error) {
	st := statusOutput{
		CameraID:     cfg.Camera.ID,
		WatchDir:     cfg.Camera.WatchDir,
		RemoteFolder: path.Join("/", cfg.Upload.RemoteRoot, cfg.Camera.ID),
		ConfigPath:   cfgPath,
		ServicePID:   runningPID(config.PIDFilePath(cfg.Camera.ID)),
	}

	token, err := config.NewStore(cfgPath, cfg, logger).RefreshToken()
	if err != nil {
		return st, err
	}

	st.RefreshToken = token != ""

	cands, err := selector.Scan(cfg.Camera.WatchDir, cfg.Durations().SettleDelay, now, logger)
	if err != nil {
		st.ScanError = err.Error()
	}

	st.Pending = len(cands)

	if !cfg.Journal.Enabled {
		st.JournalDisabled = true

		return st, nil
	}

	j, err := openExistingJournal(ctx, cfg.Journal.Path, logger)
	if err != nil || j == nil {
		return st, err
	}
	defer j.Close()

	stats, err := j.Stats(ctx, cfg.Camera.ID)
	if err != nil {
		return st, err
	}

	st.Journal = &journalStatus{Uploads: stats.Uploads, Bytes: stats.Bytes}
	if !stats.LastUploadAt.IsZero() {
		last := stats.LastUploadAt
		st.Journal.LastUploadAt = &last
	}

	failures, err := j.Failures(ctx, cfg.Camera.ID)
	if err != nil {
		return st, err
	}

	for _, f := range failures {
		st.FailingUploads = append(st.FailingUploads, failingUpload{
			Name:      f.LocalName,
			Attempts:  f.Attempts,
			LastError: f.LastError,
			LastAt:    f.LastAt,
		})
	}

	return st, nil
}

// openExistingJournal returns nil, nil when no journal has been written yet.
func openExistingJournal(ctx context.Context, dbPath string, logger *slog.Logger) (*journal.Journal, error) {
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("checking journal %s: %w", dbPath, err)
	}

	return journal.Open(ctx, dbPath, logger)
}

func printStatusText(w io.Writer, st statusOutput) {
	token := "missing (run 'motion-uploader login')"
	if st.RefreshToken {
		token = "present"
	}

	service := "not running"
	if st.ServicePID != 0 {
		service = fmt.Sprintf("running (PID %d)", st.ServicePID)
	}

	fmt.Fprintf(w, "Camera:        %s\n", st.CameraID)
	fmt.Fprintf(w, "Watch dir:     %s\n", st.WatchDir)
	fmt.Fprintf(w, "Remote folder: %s\n", st.RemoteFolder)
	fmt.Fprintf(w, "Config:        %s\n", st.ConfigPath)
	fmt.Fprintf(w, "Refresh token: %s\n", token)
	fmt.Fprintf(w, "Service:       %s\n", service)

	if st.ScanError != "" {
		fmt.Fprintf(w, "Pending:       unknown (%s)\n", st.ScanError)
	} else {
		fmt.Fprintf(w, "Pending:       %d settled stills\n", st.Pending)
	}

	switch {
	case st.JournalDisabled:
		fmt.Fprintln(w, "Journal:       disabled")
	case st.Journal == nil:
		fmt.Fprintln(w, "Journal:       no uploads recorded")
	default:
		last := time.Time{}
		if st.Journal.LastUploadAt != nil {
			last = *st.Journal.LastUploadAt
		}

		fmt.Fprintf(w, "Journal:       %d uploads, %s, last %s\n",
			st.Journal.Uploads, formatSize(st.Journal.Bytes), formatTime(last.Local()))
	}

	if len(st.FailingUploads) == 0 {
		return
	}

	fmt.Fprintln(w, "\nFailing uploads:")

	rows := make([][]string, 0, len(st.FailingUploads))
	for _, f := range st.FailingUploads {
		rows = append(rows, []string{f.Name, fmt.Sprint(f.Attempts), formatTime(f.LastAt.Local()), f.LastError})
	}

	printTable(w, []string{"NAME", "ATTEMPTS", "LAST", "ERROR"}, rows)
}
