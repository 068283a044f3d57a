package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ragline/ragline/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Operational views over the corpus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			svc := stats.New(a.pool)
			summary, err := svc.Summary(ctx)
			if err != nil {
				return err
			}
			if a.emit.Enabled() {
				return a.emit.Result("stats", summary, nil)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Feeds:")
			for _, f := range summary.Feeds {
				name := ""
				if f.Name != nil {
					name = *f.Name
				}
				fmt.Fprintf(out, "  [%d] %s  name=%q  active=%t\n", f.FeedID, f.URL, name, f.IsActive)
			}
			fmt.Fprintln(out, "Documents by status:")
			for _, sc := range summary.DocumentsByStatus {
				fmt.Fprintf(out, "  %-10s %d\n", sc.Status, sc.Count)
			}
			fmt.Fprintf(out, "Chunks: total=%d avg_tokens=%.1f\n", summary.Chunks.Total, summary.Chunks.AvgTokens)
			fmt.Fprintf(out, "Embeddings: total=%d coverage=%.1f%%\n", summary.Embeddings, summary.Coverage.Pct)
			for _, m := range summary.Models {
				fmt.Fprintf(out, "  model=%s count=%d\n", m.Model, m.Count)
			}
			if summary.Index.Lists != nil {
				fmt.Fprintf(out, "Index: lists=%d size=%s\n", *summary.Index.Lists, summary.Index.Size)
			}
			return nil
		})
	},
}

var statsFeedCmd = &cobra.Command{
	Use:   "feed <feed-id>",
	Short: "Per-feed view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid feed id %q: %w", args[0], err)
			}
			view, err := stats.New(a.pool).Feed(ctx, int32(id))
			if err != nil {
				return err
			}
			return printView(cmd, a, "stats.feed", view)
		})
	},
}

var statsDocCmd = &cobra.Command{
	Use:   "doc <doc-id>",
	Short: "Per-document view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid doc id %q: %w", args[0], err)
			}
			view, err := stats.New(a.pool).Doc(ctx, id)
			if err != nil {
				return err
			}
			return printView(cmd, a, "stats.doc", view)
		})
	},
}

var statsChunkCmd = &cobra.Command{
	Use:   "chunk <chunk-id>",
	Short: "Per-chunk view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chunk id %q: %w", args[0], err)
			}
			view, err := stats.New(a.pool).Chunk(ctx, id)
			if err != nil {
				return err
			}
			return printView(cmd, a, "stats.chunk", view)
		})
	},
}

// printView renders a detail view: envelope in json mode, indented JSON for
// humans otherwise (these views are too nested for columns).
func printView(cmd *cobra.Command, a *app, op string, view any) error {
	if a.emit.Enabled() {
		return a.emit.Result(op, view, nil)
	}
	buf, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(buf))
	return nil
}

func init() {
	statsCmd.AddCommand(statsFeedCmd, statsDocCmd, statsChunkCmd)
	rootCmd.AddCommand(statsCmd)
}
