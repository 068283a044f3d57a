package maintain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicLists(t *testing.T) {
	tests := []struct {
		rows int64
		want int32
	}{
		{0, 32},
		{-5, 32},
		{100, 32},      // sqrt(100)=10, clamped up
		{1_024, 32},    // sqrt=32 exactly
		{10_000, 100},  // sqrt=100
		{250_000, 500}, // sqrt=500
		{100_000_000, 4096},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HeuristicLists(tt.rows), "rows=%d", tt.rows)
	}
}

func TestHeuristicListsRounds(t *testing.T) {
	// sqrt(20000) ≈ 141.42
	assert.Equal(t, int32(141), HeuristicLists(20_000))
}

func TestParseVacuumMode(t *testing.T) {
	for _, s := range []string{"analyze", "full", "off"} {
		mode, err := ParseVacuumMode(s)
		require.NoError(t, err)
		assert.Equal(t, VacuumMode(s), mode)
	}

	_, err := ParseVacuumMode("gentle")
	require.Error(t, err)
}
