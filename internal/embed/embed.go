// Package embed drives the batched embedding pass over chunks.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/ragline/ragline/internal/ragerr"
	"github.com/ragline/ragline/internal/store"
)

// Store is the slice of the document store the embed pass depends on.
type Store interface {
	CountEmbedCandidates(ctx context.Context, model string, force bool) (int64, error)
	SelectEmbedCandidates(ctx context.Context, model string, force bool, limit int64) ([]store.EmbedCandidate, error)
	SelectChunksAfter(ctx context.Context, afterID, limit int64) ([]store.EmbedCandidate, error)
	UpsertEmbeddings(ctx context.Context, model string, dim int32, chunkIDs []int64, vecs [][]float32) error
	PromoteEmbedded(ctx context.Context) (int64, error)
}

// Embedder turns chunk texts into vectors. The ONNX encoder satisfies this.
type Embedder interface {
	EmbedPassages(texts []string) ([][]float32, error)
	Dim() int
}

// Options control one embed run.
type Options struct {
	Model string
	Dim   int
	Batch int
	Max   int64 // 0 means unbounded
	Force bool
}

// Plan previews an embed run.
type Plan struct {
	Chunks int64  `json:"chunks"`
	Model  string `json:"model"`
	Dim    int    `json:"dim"`
	Batch  int    `json:"batch"`
	Force  bool   `json:"force"`
}

// Result reports an applied run.
type Result struct {
	Embedded     int64  `json:"embedded"`
	Batches      int    `json:"batches"`
	PromotedDocs int64  `json:"promoted_docs"`
	Model        string `json:"model"`
	Dim          int    `json:"dim"`
}

// Service pages candidate chunks through the encoder in durable batches.
type Service struct {
	store  Store
	logger *slog.Logger
}

// New creates a Service.
func New(st Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger}
}

// BuildPlan counts the work without loading the model or writing.
func (s *Service) BuildPlan(ctx context.Context, opts Options) (Plan, error) {
	n, err := s.store.CountEmbedCandidates(ctx, opts.Model, opts.Force)
	if err != nil {
		return Plan{}, err
	}
	if opts.Max > 0 && n > opts.Max {
		n = opts.Max
	}
	return Plan{Chunks: n, Model: opts.Model, Dim: opts.Dim, Batch: opts.Batch, Force: opts.Force}, nil
}

// Run embeds candidates batch by batch. Each batch commits before the next
// starts, so an interrupted run resumes where it stopped.
func (s *Service) Run(ctx context.Context, enc Embedder, opts Options) (Result, error) {
	if enc.Dim() != opts.Dim {
		return Result{}, fmt.Errorf("%w: encoder dim=%d but --dim=%d", ragerr.ErrConfig, enc.Dim(), opts.Dim)
	}
	batch := opts.Batch
	if batch < 1 {
		batch = 1
	}

	res := Result{Model: opts.Model, Dim: opts.Dim}
	remaining := opts.Max
	if remaining <= 0 {
		remaining = math.MaxInt64
	}

	// Force mode re-embeds rows that already match the target model, so the
	// missing-row query never drains; page by offsetting through stable
	// chunk-id order instead.
	var lastForceID int64
	for remaining > 0 {
		n := min(remaining, int64(batch))

		var cands []store.EmbedCandidate
		var err error
		if opts.Force {
			cands, err = s.store.SelectChunksAfter(ctx, lastForceID, n)
		} else {
			cands, err = s.store.SelectEmbedCandidates(ctx, opts.Model, false, n)
		}
		if err != nil {
			return res, err
		}
		if len(cands) == 0 {
			break
		}

		ids := make([]int64, len(cands))
		texts := make([]string, len(cands))
		for i, c := range cands {
			ids[i] = c.ChunkID
			texts[i] = c.Text
		}

		vecs, err := enc.EmbedPassages(texts)
		if err != nil {
			return res, err
		}
		if err := s.store.UpsertEmbeddings(ctx, opts.Model, int32(opts.Dim), ids, vecs); err != nil {
			return res, err
		}

		res.Embedded += int64(len(cands))
		res.Batches++
		remaining -= int64(len(cands))
		if opts.Force {
			lastForceID = ids[len(ids)-1]
		}
		s.logger.Info("embedded batch", "chunks", len(cands), "total", res.Embedded)
	}

	promoted, err := s.store.PromoteEmbedded(ctx)
	if err != nil {
		return res, err
	}
	res.PromotedDocs = promoted
	return res, nil
}
