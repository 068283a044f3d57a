package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Manage RSS feed subscriptions",
}

var (
	feedAddName   string
	feedAddActive bool
	feedAddApply  bool
)

var feedAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Subscribe a feed (or update it by URL)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			url := args[0]
			var name *string
			if feedAddName != "" {
				name = &feedAddName
			}

			type feedAddPlan struct {
				URL    string  `json:"url"`
				Name   *string `json:"name,omitempty"`
				Active bool    `json:"active"`
			}
			plan := feedAddPlan{URL: url, Name: name, Active: feedAddActive}

			if !feedAddApply {
				if a.emit.Enabled() {
					return a.plan("feed.add", plan)
				}
				a.logger.Info("feed add plan", "url", url, "active", feedAddActive)
				fmt.Fprintln(cmd.ErrOrStderr(), "Use --apply to execute.")
				return nil
			}

			feed, err := a.store.UpsertFeed(ctx, url, name, feedAddActive)
			if err != nil {
				return err
			}
			if !a.emit.Enabled() {
				fmt.Fprintf(cmd.OutOrStdout(), "Feed added: [%d] %s\n", feed.FeedID, feed.URL)
			}
			return a.finish(ctx, "feed.add", feed)
		})
	},
}

var feedLsActive bool

var feedLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List feeds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var active *bool
			if cmd.Flags().Changed("active") {
				active = &feedLsActive
			}
			feeds, err := a.store.ListFeeds(ctx, active)
			if err != nil {
				return err
			}
			if a.emit.Enabled() {
				// A listing is read-only; it reports as a result envelope.
				return a.emit.Result("feed.ls", feeds, nil)
			}
			for _, f := range feeds {
				name := ""
				if f.Name != nil {
					name = *f.Name
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s  name=%q  active=%t  added=%s\n",
					f.FeedID, f.URL, name, f.IsActive, f.AddedAt.Format("2006-01-02"))
			}
			return nil
		})
	},
}

func init() {
	feedAddCmd.Flags().StringVar(&feedAddName, "name", "", "display name for the feed")
	feedAddCmd.Flags().BoolVar(&feedAddActive, "active", true, "subscribe as active")
	feedAddCmd.Flags().BoolVar(&feedAddApply, "apply", false, "execute instead of planning")

	feedLsCmd.Flags().BoolVar(&feedLsActive, "active", true, "filter by is_active")

	feedCmd.AddCommand(feedAddCmd, feedLsCmd)
	rootCmd.AddCommand(feedCmd)
}
