package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of every section.
var knownKeys = map[string][]string{
	"camera":        {"id", "watch_dir"},
	"app":           {"client_id", "client_secret", "redirect_uri", "tenant", "persist_rotated_refresh_token"},
	"refresh_token": {"value"},
	"upload": {
		"batch_limit", "settle_delay", "failure_cooldown", "idle_interval",
		"watchdog_margin", "remote_root", "verify_hash", "watch",
	},
	"logging": {"log_level", "log_format"},
	"network": {"connect_timeout", "data_timeout", "user_agent", "bandwidth_limit"},
	"metrics": {"listen"},
	"journal": {"enabled", "path"},
}

// knownSectionsList is the sorted list of section names, for suggestions.
var knownSectionsList = func() []string {
	sections := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		sections = append(sections, s)
	}

	sort.Strings(sections)

	return sections
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		errs = append(errs, buildKeyError(key))
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an undecoded key, suggesting
// the closest known section or key.
func buildKeyError(key toml.Key) error {
	if len(key) == 1 {
		if _, ok := knownKeys[key[0]]; !ok {
			return suggest(fmt.Sprintf("unknown config section or key %q", key[0]), key[0], knownSectionsList)
		}

		return fmt.Errorf("config key %q must be a section", key[0])
	}

	section, field := key[0], strings.Join(key[1:], ".")

	keys, ok := knownKeys[section]
	if !ok {
		return suggest(fmt.Sprintf("unknown config section [%s]", section), section, knownSectionsList)
	}

	return suggest(fmt.Sprintf("unknown key %q in [%s]", field, section), field, keys)
}

func suggest(msg, unknown string, known []string) error {
	if s := closestMatch(unknown, known); s != "" {
		return fmt.Errorf("%s, did you mean %q?", msg, s)
	}

	return errors.New(msg)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using two
// rolling rows instead of a full matrix.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
