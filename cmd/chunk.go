package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragline/ragline/internal/chunker"
	"github.com/ragline/ragline/internal/encoder"
	"github.com/ragline/ragline/internal/hub"
	"github.com/ragline/ragline/internal/timeutil"
	"github.com/ragline/ragline/internal/tokenize"
)

var (
	chunkDocID     int64
	chunkSince     string
	chunkTarget    int
	chunkOverlap   int
	chunkMaxPerDoc int
	chunkForce     bool
	chunkApply     bool
	chunkPlanLimit int
	chunkModelID   string
)

var chunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Split ingested documents into overlapping token windows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			opts := chunker.Options{
				Since:     timeutil.ParseSince(chunkSince, time.Now()),
				Force:     chunkForce,
				PlanLimit: chunkPlanLimit,
				Params: chunker.Params{
					TokensTarget:    chunkTarget,
					Overlap:         chunkOverlap,
					MaxChunksPerDoc: chunkMaxPerDoc,
				},
			}
			if cmd.Flags().Changed("doc-id") {
				opts.DocID = &chunkDocID
			}

			if !chunkApply {
				// The plan never loads the tokenizer; it only counts.
				svc := chunker.New(a.store, nil, a.logger)
				plan, err := svc.BuildPlan(ctx, opts)
				if err != nil {
					return err
				}
				if a.emit.Enabled() {
					return a.plan("chunk", plan)
				}
				a.logger.Info("chunk plan", "docs", plan.Docs, "tokens_target", plan.TokensTarget,
					"overlap", plan.Overlap, "force", plan.Force)
				fmt.Fprintln(cmd.ErrOrStderr(), "Use --apply to execute.")
				return nil
			}

			// The chunker tokenizes with the same definition the encoder
			// uses at inference time.
			resolver := hub.NewClient(a.cfg.ModelCacheDir)
			tokPath, err := resolver.Resolve(ctx, chunkModelID, "tokenizer.json")
			if err != nil {
				return err
			}
			tok, err := tokenize.NewFromFile(tokPath, 0)
			if err != nil {
				return err
			}

			svc := chunker.New(a.store, tok, a.logger)
			res, err := svc.Run(ctx, opts)
			if err != nil {
				return err
			}
			if !a.emit.Enabled() {
				fmt.Fprintf(cmd.OutOrStdout(), "Chunked %d doc(s) into %d chunk(s)\n", res.Docs, res.TotalChunks)
			}
			return a.finish(ctx, "chunk", res)
		})
	},
}

func init() {
	chunkCmd.Flags().Int64Var(&chunkDocID, "doc-id", 0, "chunk only this document")
	chunkCmd.Flags().StringVar(&chunkSince, "since", "", "only documents fetched since (7d | YYYY-MM-DD | RFC3339)")
	chunkCmd.Flags().IntVar(&chunkTarget, "tokens-target", 350, "window size in tokens")
	chunkCmd.Flags().IntVar(&chunkOverlap, "overlap", 80, "token overlap between adjacent windows")
	chunkCmd.Flags().IntVar(&chunkMaxPerDoc, "max-chunks-per-doc", 0, "cap chunks per document (0 = uncapped)")
	chunkCmd.Flags().BoolVar(&chunkForce, "force", false, "re-chunk regardless of status")
	chunkCmd.Flags().BoolVar(&chunkApply, "apply", false, "execute instead of planning")
	chunkCmd.Flags().IntVar(&chunkPlanLimit, "plan-limit", 10, "sample rows shown in plan mode")
	chunkCmd.Flags().StringVar(&chunkModelID, "model-id", encoder.DefaultModelID, "model whose tokenizer to use")
	rootCmd.AddCommand(chunkCmd)
}
