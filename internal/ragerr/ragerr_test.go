package ragerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("%w: fetch http://x: HTTP 503", ErrIO)
	assert.Equal(t, "io", Kind(err))

	err = fmt.Errorf("outer: %w", fmt.Errorf("%w: dim mismatch", ErrConfig))
	assert.Equal(t, "config", Kind(err))
}

func TestKindUnknown(t *testing.T) {
	assert.Empty(t, Kind(fmt.Errorf("plain error")))
}

func TestFatalKinds(t *testing.T) {
	assert.True(t, Fatal(fmt.Errorf("%w: x", ErrConfig)))
	assert.True(t, Fatal(fmt.Errorf("%w: x", ErrModel)))
	assert.True(t, Fatal(fmt.Errorf("%w: x", ErrStore)))
	assert.True(t, Fatal(fmt.Errorf("%w: x", ErrInvariant)))

	assert.False(t, Fatal(fmt.Errorf("%w: x", ErrIO)))
	assert.False(t, Fatal(fmt.Errorf("%w: x", ErrParse)))
	assert.False(t, Fatal(fmt.Errorf("%w: x", ErrNotFound)))
}
