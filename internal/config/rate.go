package config

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseRate converts a throughput such as "5MB/s", "200KiB/s" or "1024" to
// bytes per second. SI and IEC suffixes are both accepted; the "/s" suffix is
// optional. Empty and "0" mean unlimited and return 0.
func ParseRate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	size := s
	if strings.HasSuffix(strings.ToLower(size), "/s") {
		size = strings.TrimSpace(size[:len(size)-len("/s")])
	}

	if strings.HasPrefix(size, "-") {
		return 0, fmt.Errorf("invalid rate %q: must be non-negative", s)
	}

	n, err := humanize.ParseBytes(size)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", s, err)
	}

	return int64(n), nil
}

// BandwidthLimit returns the parsed network.bandwidth_limit in bytes per
// second, 0 when unlimited. Validate guarantees it parses.
func (c *Config) BandwidthLimit() int64 {
	n, err := ParseRate(c.Network.BandwidthLimit)
	if err != nil {
		return 0
	}

	return n
}
