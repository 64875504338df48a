package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 29, "1.5 GiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.bytes), tt.bytes)
	}
}

func TestFormatTimeAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.October, 15, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "never", formatTimeAt(time.Time{}, now))
	assert.Equal(t, "3 minutes ago", formatTimeAt(now.Add(-3*time.Minute), now))
	assert.Equal(t, "Mar 15 10:30", formatTimeAt(time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC), now))
	assert.Equal(t, "Dec 25  2020", formatTimeAt(time.Date(2020, time.December, 25, 8, 0, 0, 0, time.UTC), now))
}

func TestPrintJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, printJSON(&buf, map[string]int{"uploads": 3}))
	assert.Equal(t, "{\n  \"uploads\": 3\n}\n", buf.String())
}

func TestPrintTable_AlignsColumns(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	printTable(&buf, []string{"NAME", "SIZE"}, [][]string{
		{"20240101_a.jpg", "1.2 MiB"},
		{"20240101_long_name.jpg", "0 B"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)

	col := strings.Index(lines[0], "SIZE")
	assert.Equal(t, col, strings.Index(lines[1], "1.2 MiB"))
	assert.Equal(t, col, strings.Index(lines[2], "0 B"))
}
