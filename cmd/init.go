package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragline/ragline/db"
)

var initApply bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or upgrade the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			type initPlan struct {
				Migrations []string `json:"migrations"`
			}
			plan := initPlan{Migrations: db.MigrationNames()}

			if !initApply {
				if a.emit.Enabled() {
					return a.plan("init", plan)
				}
				a.logger.Info("init plan", "migrations", len(plan.Migrations))
				for _, name := range plan.Migrations {
					a.logger.Info("  migration", "file", name)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "Use --apply to execute.")
				return nil
			}

			if err := db.Migrate(a.cfg.DSN); err != nil {
				return err
			}
			type initResult struct {
				Migrated bool `json:"migrated"`
			}
			if !a.emit.Enabled() {
				fmt.Fprintln(cmd.OutOrStdout(), "Database initialized")
			}
			return a.finish(ctx, "init", initResult{Migrated: true})
		})
	},
}

func init() {
	initCmd.Flags().BoolVar(&initApply, "apply", false, "execute instead of planning")
	rootCmd.AddCommand(initCmd)
}
