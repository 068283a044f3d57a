package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/internal/ragerr"
)

func TestLoadMissingDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load("", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingDSN))
	assert.Equal(t, "config", ragerr.Kind(err))
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/db")

	cfg, err := Load("postgres://flag-host/db", false)
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag-host/db", cfg.DSN)
}

func TestLoadRejectsNonPostgresScheme(t *testing.T) {
	_, err := Load("mysql://host/db", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDSN))
}

func TestOutputFormatFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://host/db")
	t.Setenv("RAG_OUTPUT_FORMAT", "mcp")

	cfg, err := Load("", false)
	require.NoError(t, err)
	assert.Equal(t, OutputMCP, cfg.Output)
	assert.True(t, cfg.JSONMode())
}

func TestJSONFlagUpgradesText(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://host/db")
	t.Setenv("RAG_OUTPUT_FORMAT", "")

	cfg, err := Load("", true)
	require.NoError(t, err)
	assert.Equal(t, OutputJSON, cfg.Output)
}

func TestJSONFlagDoesNotDowngradeMCP(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://host/db")
	t.Setenv("RAG_OUTPUT_FORMAT", "mcp")

	cfg, err := Load("", true)
	require.NoError(t, err)
	assert.Equal(t, OutputMCP, cfg.Output)
}

func TestInvalidOutputFormat(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://host/db")
	t.Setenv("RAG_OUTPUT_FORMAT", "yaml")

	_, err := Load("", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOutputFormat))
}

func TestModelCacheDirFromHFHome(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://host/db")
	t.Setenv("RAG_OUTPUT_FORMAT", "")
	t.Setenv("HF_HOME", "/models/cache")

	cfg, err := Load("", false)
	require.NoError(t, err)
	assert.Equal(t, "/models/cache", cfg.ModelCacheDir)
}

func TestRedactedHidesPassword(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load("postgres://rag:s3cret@db:5432/rag", false)
	require.NoError(t, err)
	assert.NotContains(t, cfg.Redacted(), "s3cret")
}
