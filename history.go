package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/motion-uploader/internal/config"
)

const defaultHistoryLimit = 20

var errJournalDisabled = errors.New("the upload journal is disabled ([journal] enabled = false)")

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent uploads from the local journal",
		RunE:  runHistory,
	}

	cmd.Flags().Int("limit", defaultHistoryLimit, "number of uploads to show")
	cmd.Flags().Bool("all-cameras", false, "include uploads recorded for other camera ids")

	return cmd
}

// historyEntry is the JSON schema of one `history --json` element.
type historyEntry struct {
	ID           string    `json:"id"`
	CameraID     string    `json:"camera_id"`
	Name         string    `json:"name"`
	RemotePath   string    `json:"remote_path"`
	ItemID       string    `json:"item_id,omitempty"`
	Size         int64     `json:"size"`
	QuickXorHash string    `json:"quick_xor_hash,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

func runHistory(cmd *cobra.Command, _ []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	all, err := cmd.Flags().GetBool("all-cameras")
	if err != nil {
		return err
	}

	entries, err := loadHistory(cmd.Context(), resolvedCfg, limit, all, buildLogger())
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, entries)
	}

	printHistoryText(os.Stdout, entries)

	return nil
}

// loadHistory returns up to limit uploads, newest first. A journal that was
// never written yields no entries.
func loadHistory(
	ctx context.Context, cfg *config.Config, limit int, allCameras bool, logger *slog.Logger,
) ([]historyEntry, error) {
	if !cfg.Journal.Enabled {
		return nil, errJournalDisabled
	}

	j, err := openExistingJournal(ctx, cfg.Journal.Path, logger)
	if err != nil {
		return nil, err
	}

	entries := []historyEntry{}
	if j == nil {
		return entries, nil
	}
	defer j.Close()

	device := cfg.Camera.ID
	if allCameras {
		device = ""
	}

	recent, err := j.Recent(ctx, device, limit)
	if err != nil {
		return nil, err
	}

	for _, e := range recent {
		entries = append(entries, historyEntry{
			ID:           e.ID,
			CameraID:     e.DeviceID,
			Name:         e.LocalName,
			RemotePath:   e.RemotePath,
			ItemID:       e.ItemID,
			Size:         e.Size,
			QuickXorHash: e.QuickXorHash,
			CapturedAt:   e.CapturedAt,
			UploadedAt:   e.UploadedAt,
		})
	}

	return entries, nil
}

func printHistoryText(w io.Writer, entries []historyEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No uploads recorded.")

		return
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			formatTime(e.UploadedAt.Local()),
			e.CameraID,
			e.Name,
			formatSize(e.Size),
			e.RemotePath,
		})
	}

	printTable(w, []string{"UPLOADED", "CAMERA", "NAME", "SIZE", "REMOTE PATH"}, rows)
}
