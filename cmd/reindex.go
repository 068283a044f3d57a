package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragline/ragline/internal/maintain"
)

var (
	reindexLists int32
	reindexApply bool
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the ivfflat index (in place or by swap)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			m := maintain.New(a.pool, a.store, a.logger)

			var lists *int32
			if cmd.Flags().Changed("lists") {
				lists = &reindexLists
			}

			plan, err := m.PlanReindex(ctx, lists)
			if err != nil {
				return err
			}

			if !reindexApply {
				if a.emit.Enabled() {
					return a.plan("reindex", plan)
				}
				a.logger.Info("reindex plan", "rows", plan.Rows, "action", plan.Action,
					"desired_lists", plan.DesiredLists)
				fmt.Fprintln(cmd.ErrOrStderr(), "Use --apply to execute.")
				return nil
			}

			// Recompute inside the apply path: the embedding count may have
			// moved since the preview.
			plan, err = m.PlanReindex(ctx, lists)
			if err != nil {
				return err
			}
			res, err := m.ApplyReindex(ctx, plan)
			if err != nil {
				return err
			}
			if !a.emit.Enabled() {
				fmt.Fprintf(cmd.OutOrStdout(), "Reindex done: action=%s lists=%d\n", res.Action, res.DesiredLists)
			}
			return a.finish(ctx, "reindex", res)
		})
	},
}

func init() {
	reindexCmd.Flags().Int32Var(&reindexLists, "lists", 0, "ivfflat lists (default sqrt(rows) clamped to [32,4096])")
	reindexCmd.Flags().BoolVar(&reindexApply, "apply", false, "execute instead of planning")
	rootCmd.AddCommand(reindexCmd)
}
