package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoverage(t *testing.T) {
	cov := coverage(200, 150)
	assert.Equal(t, int64(200), cov.Chunks)
	assert.Equal(t, int64(150), cov.Embedded)
	assert.Equal(t, int64(50), cov.Missing)
	assert.InDelta(t, 75.0, cov.Pct, 1e-9)
}

func TestCoverageEmptyCorpus(t *testing.T) {
	cov := coverage(0, 0)
	assert.Zero(t, cov.Pct)
	assert.Zero(t, cov.Missing)
}
