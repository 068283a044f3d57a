// Command ragline is a retrieval-augmented generation pipeline over RSS feeds:
// it ingests articles into Postgres, chunks and embeds them with a local ONNX
// encoder, and answers semantic queries against a pgvector index.
package main

import (
	"os"

	"github.com/ragline/ragline/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
