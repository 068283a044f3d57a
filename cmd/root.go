// Package cmd implements the ragline command-line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragline/ragline/internal/log"
	"github.com/ragline/ragline/internal/ragerr"
)

var (
	flagDSN  string
	flagJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "ragline",
	Short: "RAG pipeline over RSS feeds",
	Long: `ragline turns RSS feeds into a vector-searchable corpus.

The pipeline runs in stages: ingest fetches articles, chunk windows the
cleaned text, embed encodes chunks with a local ONNX model, and query answers
semantic questions against the pgvector index. Mutating commands preview
their work by default; pass --apply to execute.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", "", "Postgres connection URL (default $DATABASE_URL)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit machine-readable envelopes on stdout")
}

// Execute is the entry point called from main. It installs the logger and
// signal handling, runs the selected command, and reports failures on stderr.
func Execute() error {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		kind := ragerr.Kind(err)
		if kind == "" {
			kind = "unknown"
		}
		logger.Error("command failed", "error", err, "error_kind", kind)
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
