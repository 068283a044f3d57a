package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragline/ragline/internal/ingest"
)

var (
	ingestFeed         int32
	ingestFeedURL      string
	ingestLimit        int
	ingestConcurrency  int
	ingestPlanLimit    int
	ingestForceRefetch bool
	ingestApply        bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch RSS feeds and ingest article documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			opts := ingest.Options{
				Limit:        ingestLimit,
				PlanLimit:    ingestPlanLimit,
				Concurrency:  ingestConcurrency,
				ForceRefetch: ingestForceRefetch,
			}
			if cmd.Flags().Changed("feed") {
				opts.FeedID = &ingestFeed
			}
			if ingestFeedURL != "" {
				opts.FeedURL = &ingestFeedURL
			}

			ing := ingest.New(a.store, nil, nil, a.logger)

			if !ingestApply {
				plan, err := ing.BuildPlan(ctx, opts)
				if err != nil {
					return err
				}
				if a.emit.Enabled() {
					return a.plan("ingest", plan)
				}
				a.logger.Info("ingest plan", "feeds", plan.Feeds, "mode", plan.Mode, "limit", plan.Limit)
				for _, f := range plan.SampleFeeds {
					a.logger.Info("  feed", "feed_id", f.FeedID, "url", f.URL)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "Use --apply to execute.")
				return nil
			}

			res, err := ing.Run(ctx, opts)
			if err != nil {
				return err
			}
			if !a.emit.Enabled() {
				fmt.Fprintf(cmd.OutOrStdout(), "Ingested: inserted=%d updated=%d skipped=%d errors=%d\n",
					res.Totals.Inserted, res.Totals.Updated, res.Totals.Skipped, res.Totals.Errors)
			}
			return a.finish(ctx, "ingest", res)
		})
	},
}

func init() {
	ingestCmd.Flags().Int32Var(&ingestFeed, "feed", 0, "restrict to one feed id")
	ingestCmd.Flags().StringVar(&ingestFeedURL, "feed-url", "", "restrict to one feed URL")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 200, "max items per feed")
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 2, "parallel article fetches")
	ingestCmd.Flags().IntVar(&ingestPlanLimit, "plan-limit", 10, "sample rows shown in plan mode")
	ingestCmd.Flags().BoolVar(&ingestForceRefetch, "force-refetch", false, "refetch and upsert known articles")
	ingestCmd.Flags().BoolVar(&ingestApply, "apply", false, "execute instead of planning")
	rootCmd.AddCommand(ingestCmd)
}
