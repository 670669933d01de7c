package token

import (
	"regexp"
	"strconv"
	"time"
)

// DefaultTTL is used whenever a configured duration cannot be parsed.
const DefaultTTL = 7 * 24 * time.Hour

var durationPattern = regexp.MustCompile(`^(\d+)([dhms])$`)

// ParseDuration reads compact durations such as "7d", "24h", "30m" or "45s".
// Anything else, including zero, falls back to DefaultTTL instead of failing.
func ParseDuration(s string) time.Duration {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return DefaultTTL
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return DefaultTTL
	}
	var unit time.Duration
	switch m[2] {
	case "d":
		unit = 24 * time.Hour
	case "h":
		unit = time.Hour
	case "m":
		unit = time.Minute
	default:
		unit = time.Second
	}
	// guard against overflow for absurd values
	if n > int64((1<<63-1)/int64(unit)) {
		return DefaultTTL
	}
	return time.Duration(n) * unit
}
