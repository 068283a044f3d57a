// Package config resolves runtime configuration for ragline.
//
// Configuration sources (highest to lowest priority):
//  1. Command-line flags (--dsn, --json)
//  2. Environment variables (DATABASE_URL, RAG_* knobs, HF_HOME)
//  3. Default values
//
// Sensitive values (the DSN password) are never logged.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ragline/ragline/internal/ragerr"
)

var (
	// ErrMissingDSN indicates neither --dsn nor DATABASE_URL was provided.
	ErrMissingDSN = errors.New("missing DSN: pass --dsn or set DATABASE_URL")

	// ErrInvalidDSN indicates the DSN is not a postgres:// URL.
	ErrInvalidDSN = errors.New("invalid DSN")

	// ErrInvalidOutputFormat indicates RAG_OUTPUT_FORMAT is unknown.
	ErrInvalidOutputFormat = errors.New("invalid RAG_OUTPUT_FORMAT")
)

// OutputFormat selects how envelopes are written to stdout.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputMCP  OutputFormat = "mcp"
)

// Config is the resolved per-process configuration.
type Config struct {
	// DSN is the Postgres connection URL.
	DSN string

	// Output selects text, json (NDJSON envelopes), or mcp (JSON-RPC
	// notification wrapped envelopes) on stdout.
	Output OutputFormat

	// Pretty indents JSON envelopes (RAG_OUTPUT_PRETTY).
	Pretty bool

	// NoColor disables ANSI color in text output (NO_COLOR convention).
	NoColor bool

	// ModelCacheDir is the root of the Hugging Face style model cache
	// (HF_HOME, default ~/.cache/huggingface).
	ModelCacheDir string
}

// Load resolves configuration. dsnFlag and jsonFlag are the values of the
// global --dsn and --json flags; either may be empty/false.
func Load(dsnFlag string, jsonFlag bool) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RAG")
	v.AutomaticEnv()
	v.SetDefault("output_format", string(OutputText))
	v.SetDefault("output_pretty", false)
	_ = v.BindEnv("output_format", "RAG_OUTPUT_FORMAT")
	_ = v.BindEnv("output_pretty", "RAG_OUTPUT_PRETTY")

	dsn := dsnFlag
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, fmt.Errorf("%w: %w", ragerr.ErrConfig, ErrMissingDSN)
	}
	if err := validateDSN(dsn); err != nil {
		return nil, fmt.Errorf("%w: %w", ragerr.ErrConfig, err)
	}

	out := OutputFormat(strings.ToLower(v.GetString("output_format")))
	switch out {
	case OutputText, OutputJSON, OutputMCP:
	default:
		return nil, fmt.Errorf("%w: %w: %q", ragerr.ErrConfig, ErrInvalidOutputFormat, out)
	}
	// --json wins over the env knob, but never downgrades mcp mode.
	if jsonFlag && out == OutputText {
		out = OutputJSON
	}

	cfg := &Config{
		DSN:           dsn,
		Output:        out,
		Pretty:        v.GetBool("output_pretty"),
		NoColor:       os.Getenv("NO_COLOR") != "",
		ModelCacheDir: modelCacheDir(),
	}
	return cfg, nil
}

// JSONMode reports whether stdout carries machine-readable envelopes.
func (c *Config) JSONMode() bool {
	return c.Output == OutputJSON || c.Output == OutputMCP
}

func validateDSN(dsn string) error {
	u, err := url.Parse(dsn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return nil
	default:
		return fmt.Errorf("%w: scheme %q (expected postgres or postgresql)", ErrInvalidDSN, u.Scheme)
	}
}

func modelCacheDir() string {
	if dir := os.Getenv("HF_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "huggingface")
	}
	return filepath.Join(home, ".cache", "huggingface")
}

// Redacted returns the DSN with any password replaced, safe for logs.
func (c *Config) Redacted() string {
	u, err := url.Parse(c.DSN)
	if err != nil {
		return "(unparseable dsn)"
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
