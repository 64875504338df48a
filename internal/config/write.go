package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is owner read/write only: the file carries the
// client secret and the refresh token.
const configFilePermissions = 0o600

// configDirPermissions is the permission mode for config directories.
const configDirPermissions = 0o700

// SetSectionKey sets key = value inside [section] of the TOML file at path.
// The edit is line-based so comments and ordering survive. An existing key
// line is replaced; otherwise the key is inserted right after the section
// header; a missing section is appended at the end of the file. The value
// is always written as a quoted string.
func SetSectionKey(path, section, key, value string, logger *slog.Logger) error {
	// Never log the value: it is typically a refresh token.
	logger.Info("setting config key",
		slog.String("path", path),
		slog.String("section", section),
		slog.String("key", key),
	)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	newLine := fmt.Sprintf("%s = %q", key, value)
	lines := strings.Split(string(data), "\n")

	headerLine := findSectionHeader(lines, section)
	if headerLine < 0 {
		content := string(data)
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}

		content += fmt.Sprintf("\n[%s]\n%s\n", section, newLine)

		return atomicWriteFile(path, []byte(content))
	}

	lines = setKeyInSection(lines, headerLine, key, newLine)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findSectionHeader returns the line index of the [section] header, or -1.
func findSectionHeader(lines []string, section string) int {
	header := "[" + section + "]"

	for i, line := range lines {
		if stripComment(line) == header {
			return i
		}
	}

	return -1
}

// findSectionEnd returns the index of the next section header after
// headerLine, or len(lines).
func findSectionEnd(lines []string, headerLine int) int {
	for i := headerLine + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			return i
		}
	}

	return len(lines)
}

// setKeyInSection either replaces an existing key line or inserts a new
// one after the section header.
func setKeyInSection(lines []string, headerLine int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, headerLine)

	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])

		name, _, found := strings.Cut(trimmed, "=")
		if found && strings.TrimSpace(name) == key {
			lines[i] = newLine

			return lines
		}
	}

	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// stripComment trims whitespace and a trailing "# comment" from a header line.
func stripComment(line string) string {
	before, _, _ := strings.Cut(line, "#")

	return strings.TrimSpace(before)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it over the target, so a crash never leaves a partially
// written config behind. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()
	succeeded := false

	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
