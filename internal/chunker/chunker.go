// Package chunker splits a document's cleaned text into overlapping token
// windows and replaces the document's chunk rows atomically.
package chunker

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ragline/ragline/internal/ragerr"
	"github.com/ragline/ragline/internal/store"
	"github.com/ragline/ragline/internal/tokenize"
)

// Window is a half-open token index range [Start, End).
type Window struct {
	Start int
	End   int
}

// Params are the window controls.
type Params struct {
	TokensTarget    int
	Overlap         int
	MaxChunksPerDoc int // 0 means uncapped
}

// DefaultParams mirror the CLI defaults.
func DefaultParams() Params {
	return Params{TokensTarget: 350, Overlap: 80}
}

// Validate rejects windows that cannot make progress.
func (p Params) Validate() error {
	if p.TokensTarget < 1 {
		return fmt.Errorf("%w: tokens-target must be >= 1, got %d", ragerr.ErrConfig, p.TokensTarget)
	}
	if p.Overlap < 0 || p.Overlap >= p.TokensTarget {
		return fmt.Errorf("%w: overlap must be in [0, tokens-target), got %d", ragerr.ErrConfig, p.Overlap)
	}
	if p.MaxChunksPerDoc < 0 {
		return fmt.Errorf("%w: max-chunks-per-doc must be >= 0, got %d", ragerr.ErrConfig, p.MaxChunksPerDoc)
	}
	return nil
}

// Windows computes the token windows over a sequence of n tokens. Adjacent
// windows overlap by exactly p.Overlap tokens. The pass stops at the first
// window that reaches n, so the last window may be shorter than the target
// but always extends past its predecessor; no trailing window lying wholly
// inside the previous one is emitted. With a cap the prefix is kept.
func Windows(n int, p Params) []Window {
	if n <= 0 {
		return nil
	}
	target := p.TokensTarget
	if target < 1 {
		target = 1
	}
	overlap := p.Overlap
	if overlap > target-1 {
		overlap = target - 1
	}

	var out []Window
	start := 0
	for start < n {
		if p.MaxChunksPerDoc > 0 && len(out) >= p.MaxChunksPerDoc {
			break
		}
		end := min(start+target, n)
		out = append(out, Window{Start: start, End: end})
		if end == n {
			break
		}
		start = end - overlap
	}
	return out
}

// Store is the slice of the document store the chunker depends on.
type Store interface {
	SelectChunkCandidates(ctx context.Context, docID *int64, since time.Time, force bool) ([]store.ChunkCandidate, error)
	ReplaceChunks(ctx context.Context, docID int64, chunks []store.NewChunk) error
}

// Tokenizer is what the chunker needs from the encoder's tokenizer.
type Tokenizer interface {
	Encode(text string) (ids []int, spans []tokenize.Span, err error)
}

// Options select documents and shape the run.
type Options struct {
	DocID     *int64
	Since     time.Time
	Force     bool
	PlanLimit int
	Params    Params
}

// Plan is the no-write preview.
type Plan struct {
	Docs            int     `json:"docs"`
	Force           bool    `json:"force"`
	TokensTarget    int     `json:"tokens_target"`
	Overlap         int     `json:"overlap"`
	MaxChunksPerDoc int     `json:"max_chunks_per_doc"`
	SampleDocIDs    []int64 `json:"sample_doc_ids"`
}

// DocResult counts one document's outcome.
type DocResult struct {
	DocID  int64 `json:"doc_id"`
	Chunks int   `json:"chunks"`
}

// Result is the apply-mode outcome.
type Result struct {
	Docs        int         `json:"docs"`
	TotalChunks int         `json:"total_chunks"`
	PerDoc      []DocResult `json:"per_doc"`
}

// Service runs the chunking pass.
type Service struct {
	store  Store
	tok    Tokenizer
	logger *slog.Logger
}

// New creates a Service.
func New(st Store, tok Tokenizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, tok: tok, logger: logger}
}

// BuildPlan selects eligible documents and previews the run.
func (s *Service) BuildPlan(ctx context.Context, opts Options) (Plan, error) {
	if err := opts.Params.Validate(); err != nil {
		return Plan{}, err
	}
	docs, err := s.store.SelectChunkCandidates(ctx, opts.DocID, opts.Since, opts.Force)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{
		Docs:            len(docs),
		Force:           opts.Force,
		TokensTarget:    opts.Params.TokensTarget,
		Overlap:         opts.Params.Overlap,
		MaxChunksPerDoc: opts.Params.MaxChunksPerDoc,
	}
	for _, d := range docs {
		if len(plan.SampleDocIDs) >= opts.PlanLimit {
			break
		}
		plan.SampleDocIDs = append(plan.SampleDocIDs, d.DocID)
	}
	return plan, nil
}

// Run re-selects eligible documents and chunks each one. Every document's
// delete+insert+status change commits in a single transaction, so chunking
// passes across documents may interleave with readers safely.
func (s *Service) Run(ctx context.Context, opts Options) (Result, error) {
	if err := opts.Params.Validate(); err != nil {
		return Result{}, err
	}
	docs, err := s.store.SelectChunkCandidates(ctx, opts.DocID, opts.Since, opts.Force)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, d := range docs {
		chunks, err := s.chunkDoc(d.TextClean, opts.Params)
		if err != nil {
			return res, fmt.Errorf("chunk doc %d: %w", d.DocID, err)
		}
		if err := s.store.ReplaceChunks(ctx, d.DocID, chunks); err != nil {
			return res, err
		}
		s.logger.Debug("chunked document", "doc_id", d.DocID, "chunks", len(chunks))
		res.Docs++
		res.TotalChunks += len(chunks)
		res.PerDoc = append(res.PerDoc, DocResult{DocID: d.DocID, Chunks: len(chunks)})
	}
	return res, nil
}

// chunkDoc tokenizes one document and materializes its windows. A document
// with no tokens yields no chunks: ReplaceChunks then clears any stale rows
// and still marks the document chunked.
func (s *Service) chunkDoc(text string, p Params) ([]store.NewChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	ids, spans, err := s.tok.Encode(text)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(spans) != len(ids) {
		return nil, fmt.Errorf("%w: %d spans for %d tokens", ragerr.ErrInvariant, len(spans), len(ids))
	}

	var chunks []store.NewChunk
	for _, w := range Windows(len(ids), p) {
		span := text[spans[w.Start].Start:spans[w.End-1].End]
		if strings.TrimSpace(span) == "" {
			continue
		}
		chunks = append(chunks, store.NewChunk{
			ChunkIndex: int32(len(chunks)),
			Text:       span,
			TokenCount: int32(w.End - w.Start),
			MD5:        MD5(span),
		})
	}
	return chunks, nil
}

// MD5 is the hex digest recorded per chunk text.
func MD5(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
