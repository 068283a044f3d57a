// Package timeutil parses the relative time windows accepted by --since and
// --older-than flags.
package timeutil

import (
	"strconv"
	"strings"
	"time"
)

// ParseSince resolves a window spec to an absolute UTC instant. Accepted
// forms, tried in order: "7d" (days back from now), "2006-01-02" (midnight
// UTC), RFC 3339. An empty or unparseable spec yields the zero time and the
// filter is ignored by callers.
func ParseSince(s string, now time.Time) time.Time {
	if s == "" {
		return time.Time{}
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.ParseInt(days, 10, 64); err == nil && n > 0 {
			return now.UTC().Add(-time.Duration(n) * 24 * time.Hour)
		}
	}
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d.UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
