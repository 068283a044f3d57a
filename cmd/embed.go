package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragline/ragline/internal/embed"
	"github.com/ragline/ragline/internal/encoder"
)

var (
	embedModelID  string
	embedONNXFile string
	embedDevice   string
	embedDim      int
	embedBatch    int
	embedMax      int64
	embedForce    bool
	embedApply    bool
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Encode chunks into normalized embedding vectors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			device, err := encoder.ParseDevice(embedDevice)
			if err != nil {
				return err
			}

			svc := embed.New(a.store, a.logger)
			opts := embed.Options{
				Model: embedModelID,
				Dim:   embedDim,
				Batch: embedBatch,
				Max:   embedMax,
				Force: embedForce,
			}

			if !embedApply {
				plan, err := svc.BuildPlan(ctx, opts)
				if err != nil {
					return err
				}
				if a.emit.Enabled() {
					return a.plan("embed", plan)
				}
				a.logger.Info("embed plan", "chunks", plan.Chunks, "model", plan.Model,
					"dim", plan.Dim, "batch", plan.Batch, "force", plan.Force)
				fmt.Fprintln(cmd.ErrOrStderr(), "Use --apply to execute.")
				return nil
			}

			enc, err := a.buildEncoder(ctx, encoder.Options{
				ModelID:      embedModelID,
				ONNXFilename: embedONNXFile,
				Device:       device,
				Dim:          embedDim,
			})
			if err != nil {
				return err
			}
			defer func() { _ = enc.Close() }()

			res, err := svc.Run(ctx, enc, opts)
			if err != nil {
				return err
			}
			if !a.emit.Enabled() {
				fmt.Fprintf(cmd.OutOrStdout(), "Embedded %d chunk(s) in %d batch(es); %d doc(s) promoted\n",
					res.Embedded, res.Batches, res.PromotedDocs)
			}
			return a.finish(ctx, "embed", res)
		})
	},
}

func init() {
	embedCmd.Flags().StringVar(&embedModelID, "model-id", encoder.DefaultModelID, "Hugging Face model id")
	embedCmd.Flags().StringVar(&embedONNXFile, "onnx-filename", "", "ONNX file inside the model repo")
	embedCmd.Flags().StringVar(&embedDevice, "device", "cpu", "inference device (cpu|cuda)")
	embedCmd.Flags().IntVar(&embedDim, "dim", 384, "expected embedding dimension")
	embedCmd.Flags().IntVar(&embedBatch, "batch", 128, "chunks per inference batch")
	embedCmd.Flags().Int64Var(&embedMax, "max", 0, "cap total chunks embedded (0 = unbounded)")
	embedCmd.Flags().BoolVar(&embedForce, "force", false, "re-embed chunks that already have vectors")
	embedCmd.Flags().BoolVar(&embedApply, "apply", false, "execute instead of planning")
	rootCmd.AddCommand(embedCmd)
}
