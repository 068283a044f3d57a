package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragline/ragline/internal/maintain"
	"github.com/ragline/ragline/internal/timeutil"
)

var (
	gcOlderThan       string
	gcMax             int64
	gcFeed            int32
	gcVacuum          string
	gcDropTempIndexes bool
	gcFixStatus       bool
	gcApply           bool
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage-collect orphans and stale rows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			vacuum, err := maintain.ParseVacuumMode(gcVacuum)
			if err != nil {
				return err
			}

			opts := maintain.GCOptions{
				Cutoff:          timeutil.ParseSince(gcOlderThan, time.Now()),
				Max:             gcMax,
				Vacuum:          vacuum,
				DropTempIndexes: gcDropTempIndexes,
				FixStatus:       gcFixStatus,
			}
			if cmd.Flags().Changed("feed") {
				opts.FeedID = &gcFeed
			}

			m := maintain.New(a.pool, a.store, a.logger)

			plan, err := m.PlanGC(ctx, opts)
			if err != nil {
				return err
			}

			if !gcApply {
				if a.emit.Enabled() {
					return a.plan("gc", plan)
				}
				a.logger.Info("gc plan",
					"orphan_embeddings", plan.OrphanEmbeddings,
					"orphan_chunks", plan.OrphanChunks,
					"error_docs", plan.ErrorDocs,
					"stale_ingested", plan.StaleIngested,
					"bad_chunks", plan.BadChunks,
					"fix_status", plan.FixStatus,
					"vacuum", plan.Vacuum)
				fmt.Fprintln(cmd.ErrOrStderr(), "Use --apply to execute.")
				return nil
			}

			res, err := m.ApplyGC(ctx, opts)
			if err != nil {
				return err
			}
			if !a.emit.Enabled() {
				fmt.Fprintf(cmd.OutOrStdout(),
					"GC done: orphan_embeddings=%d orphan_chunks=%d error_docs=%d stale=%d bad_chunks=%d\n",
					res.OrphanEmbeddings, res.OrphanChunks, res.ErrorDocs, res.StaleIngested, res.BadChunks)
			}
			return a.finish(ctx, "gc", res)
		})
	},
}

func init() {
	gcCmd.Flags().StringVar(&gcOlderThan, "older-than", "30d", "staleness window (7d | YYYY-MM-DD | RFC3339)")
	gcCmd.Flags().Int64Var(&gcMax, "max", 10_000, "rows per delete batch")
	gcCmd.Flags().Int32Var(&gcFeed, "feed", 0, "scope age-based deletes to one feed")
	gcCmd.Flags().StringVar(&gcVacuum, "vacuum", "analyze", "vacuum mode after GC (analyze|full|off)")
	gcCmd.Flags().BoolVar(&gcDropTempIndexes, "drop-temp-indexes", false, "drop leftovers of an interrupted reindex")
	gcCmd.Flags().BoolVar(&gcFixStatus, "fix-status", false, "recompute document status from chunks/embeddings")
	gcCmd.Flags().BoolVar(&gcApply, "apply", false, "execute instead of planning")
	rootCmd.AddCommand(gcCmd)
}
