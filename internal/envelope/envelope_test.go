package envelope

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/internal/config"
)

func TestPlanEnvelopeShape(t *testing.T) {
	var buf bytes.Buffer
	em := New(&buf, config.OutputJSON, false)

	err := em.Plan("chunk", map[string]any{"docs": 5}, nil)
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	assert.Equal(t, "plan", env["kind"])
	assert.Equal(t, SchemaVersion, env["schema_version"])
	assert.Equal(t, "chunk", env["op"])
	assert.Equal(t, false, env["apply"])
	assert.NotNil(t, env["plan"])
	assert.Nil(t, env["result"])
	assert.NotEmpty(t, env["request_id"])
}

func TestResultEnvelopeShape(t *testing.T) {
	var buf bytes.Buffer
	em := New(&buf, config.OutputJSON, false)

	err := em.Result("gc", map[string]any{"deleted": 3}, &Meta{DurationMS: 12, RunID: "r1"})
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	assert.Equal(t, "result", env["kind"])
	assert.Equal(t, true, env["apply"])
	assert.NotNil(t, env["result"])

	meta, ok := env["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "r1", meta["run_id"])
}

func TestNDJSONOneLinePerEnvelope(t *testing.T) {
	var buf bytes.Buffer
	em := New(&buf, config.OutputJSON, false)

	require.NoError(t, em.Plan("ingest", map[string]int{"feeds": 1}, nil))
	require.NoError(t, em.Result("ingest", map[string]int{"inserted": 2}, nil))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	for _, l := range lines {
		var obj map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &obj))
	}
}

func TestMCPWrapsAsNotification(t *testing.T) {
	var buf bytes.Buffer
	em := New(&buf, config.OutputMCP, false)

	require.NoError(t, em.Plan("reindex", map[string]int{"rows": 10}, nil))

	var note map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &note))
	assert.Equal(t, "2.0", note["jsonrpc"])
	assert.Equal(t, "notifications/plan", note["method"])

	params, ok := note["params"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "reindex", params["op"])
}

func TestTextModeWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	em := New(&buf, config.OutputText, false)

	require.NoError(t, em.Plan("feed", nil, nil))
	assert.Zero(t, buf.Len())
	assert.False(t, em.Enabled())
}

func TestPrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	em := New(&buf, config.OutputJSON, true)

	require.NoError(t, em.Result("embed", map[string]int{"embedded": 1}, nil))
	assert.Contains(t, buf.String(), "\n  \"kind\"")
}
