package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragline/ragline/internal/encoder"
	"github.com/ragline/ragline/internal/retriever"
	"github.com/ragline/ragline/internal/timeutil"
)

var (
	queryTopN        int
	queryTopK        int
	queryDocCap      int
	queryProbes      int32
	queryFeed        int32
	querySince       string
	queryShowContext bool
	queryModelID     string
	queryONNXFile    string
	queryDevice      string
	queryDim         int
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Semantic search over the embedded corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			q := strings.Join(args, " ")

			device, err := encoder.ParseDevice(queryDevice)
			if err != nil {
				return err
			}

			opts := retriever.Options{
				TopN:        queryTopN,
				TopK:        queryTopK,
				DocCap:      queryDocCap,
				Since:       timeutil.ParseSince(querySince, time.Now()),
				ShowContext: queryShowContext,
			}
			if cmd.Flags().Changed("probes") {
				opts.Probes = &queryProbes
			}
			if cmd.Flags().Changed("feed") {
				opts.FeedID = &queryFeed
			}

			enc, err := a.buildEncoder(ctx, encoder.Options{
				ModelID:      queryModelID,
				ONNXFilename: queryONNXFile,
				Device:       device,
				Dim:          queryDim,
			})
			if err != nil {
				return err
			}
			defer func() { _ = enc.Close() }()

			r := retriever.New(a.pool, a.logger)
			out, err := r.Query(ctx, enc, q, opts)
			if err != nil {
				return err
			}

			if a.emit.Enabled() {
				// The query is read-only; its envelope is a result either way.
				return a.emit.Result("query", out, nil)
			}

			if len(out.Hits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No results")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Results (probes=%d):\n", out.Probes)
			for _, h := range out.Hits {
				title := ""
				if h.Title != nil {
					title = *h.Title
				}
				fmt.Fprintf(cmd.OutOrStdout(), "#%d  dist=%.4f  chunk=%d doc=%d  %s\n",
					h.Rank, h.Distance, h.ChunkID, h.DocID, title)
				if queryShowContext && h.Text != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "   %s\n", strings.ReplaceAll(*h.Text, "\n", " "))
				}
			}
			return nil
		})
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryTopN, "top-n", 5, "documents to return")
	queryCmd.Flags().IntVar(&queryTopK, "topk", 50, "candidate chunks fetched from the index")
	queryCmd.Flags().IntVar(&queryDocCap, "doc-cap", 2, "max chunks per document")
	queryCmd.Flags().Int32Var(&queryProbes, "probes", 0, "ivfflat probes override (default lists/10)")
	queryCmd.Flags().Int32Var(&queryFeed, "feed", 0, "restrict to one feed id")
	queryCmd.Flags().StringVar(&querySince, "since", "", "only documents published since (7d | YYYY-MM-DD | RFC3339)")
	queryCmd.Flags().BoolVar(&queryShowContext, "show-context", false, "include chunk text in results")
	queryCmd.Flags().StringVar(&queryModelID, "model-id", encoder.DefaultModelID, "Hugging Face model id")
	queryCmd.Flags().StringVar(&queryONNXFile, "onnx-filename", "", "ONNX file inside the model repo")
	queryCmd.Flags().StringVar(&queryDevice, "device", "cpu", "inference device (cpu|cuda)")
	queryCmd.Flags().IntVar(&queryDim, "dim", 384, "expected embedding dimension")
	rootCmd.AddCommand(queryCmd)
}
