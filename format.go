package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// recentWindow is how far back timestamps are shown relative to now.
const recentWindow = 24 * time.Hour

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatSize renders bytes in binary units, e.g. "1.5 MiB".
func formatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}

	return humanize.IBytes(uint64(bytes))
}

func formatTime(t time.Time) string {
	return formatTimeAt(t, time.Now())
}

// formatTimeAt shows recent times relative to now ("3 minutes ago") and
// older ones as a date.
func formatTimeAt(t, now time.Time) string {
	switch {
	case t.IsZero():
		return "never"
	case !t.After(now) && now.Sub(t) < recentWindow:
		return humanize.RelTime(t, now, "ago", "from now")
	case t.Year() == now.Year():
		return t.Format("Jan _2 15:04")
	default:
		return t.Format("Jan _2  2006")
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// printTable writes headers and rows as space-aligned columns.
func printTable(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}
