package cmd

import (
	"context"

	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/ragline/ragline/internal/encoder"
	"github.com/ragline/ragline/internal/mcpserver"
	"github.com/ragline/ragline/internal/retriever"
)

var (
	mcpModelID  string
	mcpONNXFile string
	mcpDim      int
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the corpus over the Model Context Protocol on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			srv, err := mcpserver.NewServer(mcpserver.Config{
				Name:      "ragline",
				Version:   Version,
				Store:     a.store,
				Retriever: retriever.New(a.pool, a.logger),
				Encoder: func(ctx context.Context) (retriever.QueryEmbedder, error) {
					return a.buildEncoder(ctx, encoder.Options{
						ModelID:      mcpModelID,
						ONNXFilename: mcpONNXFile,
						Device:       encoder.DeviceCPU,
						Dim:          mcpDim,
					})
				},
				Logger: a.logger,
			})
			if err != nil {
				return err
			}

			a.logger.Info("MCP server ready", "name", "ragline", "version", Version, "transport", "stdio")
			return srv.Run(ctx, &mcpSdk.StdioTransport{})
		})
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpModelID, "model-id", encoder.DefaultModelID, "Hugging Face model id")
	mcpCmd.Flags().StringVar(&mcpONNXFile, "onnx-filename", "", "ONNX file inside the model repo")
	mcpCmd.Flags().IntVar(&mcpDim, "dim", 384, "expected embedding dimension")
	rootCmd.AddCommand(mcpCmd)
}
