package cmd

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ragline/ragline/internal/config"
	"github.com/ragline/ragline/internal/database"
	"github.com/ragline/ragline/internal/encoder"
	"github.com/ragline/ragline/internal/envelope"
	"github.com/ragline/ragline/internal/hub"
	"github.com/ragline/ragline/internal/store"
)

// app bundles the per-command dependencies: resolved config, the connection
// pool, the typed store, and the stdout envelope emitter.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
	store  *store.Store
	emit   *envelope.Emitter
	start  time.Time
}

// withApp opens the shared resources, runs fn, and closes them. Commands use
// this as their RunE body.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()

	cfg, err := config.Load(flagDSN, flagJSON)
	if err != nil {
		return err
	}

	pool, err := database.Open(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger := slog.Default()
	a := &app{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		store:  store.New(pool, logger),
		emit:   envelope.New(os.Stdout, cfg.Output, cfg.Pretty),
		start:  time.Now(),
	}
	return fn(ctx, a)
}

// finish records the rag.run row for an applied command and emits the result
// envelope. Plan-only paths never reach here.
func (a *app) finish(ctx context.Context, op string, payload any) error {
	status := "ok"
	runID, err := a.store.RecordRun(ctx, op, status, payload)
	if err != nil {
		// The command's work is committed; a failed bookkeeping row should
		// not flip the exit code.
		a.logger.Warn("record run failed", "op", op, "error", err)
	}
	meta := &envelope.Meta{DurationMS: time.Since(a.start).Milliseconds()}
	if runID > 0 {
		meta.RunID = strconv.FormatInt(runID, 10)
	}
	return a.emit.Result(op, payload, meta)
}

// plan emits the plan envelope.
func (a *app) plan(op string, payload any) error {
	meta := &envelope.Meta{DurationMS: time.Since(a.start).Milliseconds()}
	return a.emit.Plan(op, payload, meta)
}

// buildEncoder loads the tokenizer and ONNX model through the shared cache.
func (a *app) buildEncoder(ctx context.Context, opts encoder.Options) (*encoder.Encoder, error) {
	resolver := hub.NewClient(a.cfg.ModelCacheDir)
	return encoder.New(ctx, resolver, opts)
}
