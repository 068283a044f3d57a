package hub

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCacheHitSkipsNetwork(t *testing.T) {
	dir := t.TempDir()
	c := NewClient(dir)

	local := filepath.Join(dir, "ragline", "intfloat--e5-small-v2", "tokenizer.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o750))
	require.NoError(t, os.WriteFile(local, []byte("{}"), 0o644))

	got, err := c.Resolve(context.Background(), "intfloat/e5-small-v2", "tokenizer.json")
	require.NoError(t, err)
	assert.Equal(t, local, got)
}

func TestResolveNestedFilenameCacheLayout(t *testing.T) {
	dir := t.TempDir()
	c := NewClient(dir)

	local := filepath.Join(dir, "ragline", "intfloat--e5-small-v2", "onnx", "model.onnx")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o750))
	require.NoError(t, os.WriteFile(local, []byte("onnx"), 0o644))

	got, err := c.Resolve(context.Background(), "intfloat/e5-small-v2", "onnx/model.onnx")
	require.NoError(t, err)
	assert.Equal(t, local, got)
}

func TestSanitizeReplacesSlashes(t *testing.T) {
	assert.Equal(t, "a--b", sanitize("a/b"))
}
