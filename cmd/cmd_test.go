package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findCommand(t *testing.T, path ...string) *cobra.Command {
	t.Helper()
	cur := rootCmd
	for _, name := range path {
		found := false
		for _, c := range cur.Commands() {
			if c.Name() == name {
				cur = c
				found = true
				break
			}
		}
		require.True(t, found, "command %q not registered", name)
	}
	return cur
}

func TestAllCommandsRegistered(t *testing.T) {
	want := []string{"feed", "ingest", "chunk", "embed", "query", "stats", "reindex", "gc", "init", "mcp", "version"}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, have[name], "missing command %q", name)
	}
}

func TestGlobalFlags(t *testing.T) {
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("dsn"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("json"))
}

func TestChunkDefaults(t *testing.T) {
	f := findCommand(t, "chunk").Flags()
	assert.Equal(t, "350", f.Lookup("tokens-target").DefValue)
	assert.Equal(t, "80", f.Lookup("overlap").DefValue)
	assert.Equal(t, "false", f.Lookup("apply").DefValue)
}

func TestEmbedDefaults(t *testing.T) {
	for _, c := range rootCmd.Commands() {
		if c.Name() == "embed" {
			f := c.Flags()
			assert.Equal(t, "intfloat/e5-small-v2", f.Lookup("model-id").DefValue)
			assert.Equal(t, "384", f.Lookup("dim").DefValue)
			assert.Equal(t, "cpu", f.Lookup("device").DefValue)
			assert.Equal(t, "128", f.Lookup("batch").DefValue)
			return
		}
	}
	t.Fatal("embed command not registered")
}

func TestGCDefaults(t *testing.T) {
	for _, c := range rootCmd.Commands() {
		if c.Name() == "gc" {
			f := c.Flags()
			assert.Equal(t, "30d", f.Lookup("older-than").DefValue)
			assert.Equal(t, "analyze", f.Lookup("vacuum").DefValue)
			return
		}
	}
	t.Fatal("gc command not registered")
}

func TestFeedSubcommands(t *testing.T) {
	findCommand(t, "feed", "add")
	findCommand(t, "feed", "ls")
}

func TestStatsSubcommands(t *testing.T) {
	findCommand(t, "stats", "feed")
	findCommand(t, "stats", "doc")
	findCommand(t, "stats", "chunk")
}

func TestVersionOutput(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, buf.String(), "ragline v")
}
