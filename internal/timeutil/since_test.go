package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestParseSinceDayWindow(t *testing.T) {
	got := ParseSince("7d", now)
	assert.Equal(t, now.Add(-7*24*time.Hour), got)
}

func TestParseSinceDate(t *testing.T) {
	got := ParseSince("2025-01-01", now)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestParseSinceRFC3339(t *testing.T) {
	got := ParseSince("2025-03-04T05:06:07Z", now)
	assert.Equal(t, time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC), got)
}

func TestParseSinceUnparseableIgnored(t *testing.T) {
	assert.True(t, ParseSince("yesterday", now).IsZero())
	assert.True(t, ParseSince("", now).IsZero())
	assert.True(t, ParseSince("0d", now).IsZero())
	assert.True(t, ParseSince("-3d", now).IsZero())
}
