// Package retriever answers semantic queries against the pgvector index.
// It is read-only: the only state it touches is the transaction-local
// ivfflat.probes setting.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/ragline/ragline/internal/ragerr"
)

// QueryEmbedder embeds the query string on the same path chunks were
// embedded: same model, same pooling, same normalization.
type QueryEmbedder interface {
	EmbedQuery(query string) ([]float32, error)
}

// Options control one query.
type Options struct {
	TopN        int // documents to return
	TopK        int // chunks fetched from the index before capping
	DocCap      int // max chunks per document in the result
	Probes      *int32
	FeedID      *int32
	Since       time.Time
	ShowContext bool
}

// DefaultOptions mirror the CLI defaults.
func DefaultOptions() Options {
	return Options{TopN: 5, TopK: 50, DocCap: 2}
}

// Hit is one retained chunk. Score is cosine distance: lower is closer.
type Hit struct {
	Rank        int     `json:"rank"`
	Distance    float32 `json:"distance"`
	ChunkID     int64   `json:"chunk_id"`
	DocID       int64   `json:"doc_id"`
	ChunkIndex  int32   `json:"chunk_index"`
	Title       *string `json:"title,omitempty"`
	HeadingPath *string `json:"heading_path,omitempty"`
	Text        *string `json:"text,omitempty"`
}

// Output is the shaped query result.
type Output struct {
	Hits   []Hit `json:"hits"`
	Docs   int   `json:"docs"`
	Probes int32 `json:"probes"`
}

// Retriever executes the ANN query path.
type Retriever struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Retriever.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{pool: pool, logger: logger}
}

// Query embeds q, probes the index inside one transaction, and shapes the
// candidates by per-document cap and document limit.
func (r *Retriever) Query(ctx context.Context, enc QueryEmbedder, q string, opts Options) (Output, error) {
	dim, err := r.storedDim(ctx)
	if err != nil {
		return Output{}, err
	}

	qvec, err := enc.EmbedQuery(q)
	if err != nil {
		return Output{}, err
	}
	if len(qvec) != dim {
		return Output{}, fmt.Errorf("%w: query embedding dim=%d != stored dim=%d", ragerr.ErrConfig, len(qvec), dim)
	}

	probes, err := r.resolveProbes(ctx, opts.Probes)
	if err != nil {
		return Output{}, err
	}

	cands, err := r.fetchCandidates(ctx, qvec, probes, opts)
	if err != nil {
		return Output{}, err
	}

	hits := shapeResults(cands, opts.TopN, opts.DocCap, opts.ShowContext)
	docs := map[int64]struct{}{}
	for _, h := range hits {
		docs[h.DocID] = struct{}{}
	}
	return Output{Hits: hits, Docs: len(docs), Probes: probes}, nil
}

func (r *Retriever) storedDim(ctx context.Context) (int, error) {
	var dim int
	err := r.pool.QueryRow(ctx, `SELECT dim FROM rag.embedding LIMIT 1`).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: no embeddings found; run `ragline embed --apply` first", ragerr.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read embedding dim: %v", ragerr.ErrStore, err)
	}
	return dim, nil
}

// resolveProbes picks the explicit override or the lists/10 heuristic from
// the current index definition.
func (r *Retriever) resolveProbes(ctx context.Context, override *int32) (int32, error) {
	if override != nil {
		return max(*override, 1), nil
	}
	var lists *string
	err := r.pool.QueryRow(ctx, `
		SELECT substring(pg_get_indexdef(i.indexrelid) from 'lists\s*=\s*''?([0-9]+)')
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indexrelid
		JOIN pg_namespace nsp ON nsp.oid = c.relnamespace
		WHERE nsp.nspname = 'rag' AND c.relname = 'embedding_vec_ivf_idx'
	`).Scan(&lists)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && lists == nil) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read index lists: %v", ragerr.ErrStore, err)
	}
	var n int32
	if _, err := fmt.Sscanf(*lists, "%d", &n); err != nil || n < 1 {
		return 1, nil
	}
	return max(n/10, 1), nil
}

type candidate struct {
	chunkID     int64
	docID       int64
	chunkIndex  int32
	distance    float32
	title       *string
	headingPath *string
	text        *string
}

// fetchCandidates runs the ANN scan. The probe setting uses SET LOCAL inside
// this transaction only, so concurrent and subsequent queries keep the
// session default.
func (r *Retriever) fetchCandidates(ctx context.Context, qvec []float32, probes int32, opts Options) ([]candidate, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("%w: begin query tx: %v", ragerr.ErrStore, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// SET LOCAL cannot take bind parameters; probes is a validated int.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("%w: set probes: %v", ragerr.ErrStore, err)
	}

	var sinceArg *time.Time
	if !opts.Since.IsZero() {
		since := opts.Since
		sinceArg = &since
	}
	topK := max(opts.TopK, 1)

	rows, err := tx.Query(ctx, `
		SELECT c.chunk_id, c.doc_id, c.chunk_index, d.source_title,
		       CASE WHEN $5::bool THEN c.heading_path ELSE NULL END AS heading_path,
		       (e.vec <-> $1) AS distance,
		       CASE WHEN $5::bool THEN c.text ELSE NULL END AS text
		FROM rag.embedding e
		JOIN rag.chunk c ON c.chunk_id = e.chunk_id
		JOIN rag.document d ON d.doc_id = c.doc_id
		WHERE ($2::int4 IS NULL OR d.feed_id = $2)
		  AND ($3::timestamptz IS NULL OR d.published_at >= $3)
		ORDER BY distance ASC, c.doc_id ASC, c.chunk_index ASC
		LIMIT $4
	`, pgvector.NewVector(qvec), opts.FeedID, sinceArg, topK, opts.ShowContext)
	if err != nil {
		return nil, fmt.Errorf("%w: ann query: %v", ragerr.ErrStore, err)
	}
	defer rows.Close()

	var cands []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.chunkID, &c.docID, &c.chunkIndex, &c.title, &c.headingPath, &c.distance, &c.text); err != nil {
			return nil, fmt.Errorf("%w: scan candidate: %v", ragerr.ErrStore, err)
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: ann rows: %v", ragerr.ErrStore, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit query tx: %v", ragerr.ErrStore, err)
	}
	return cands, nil
}

// shapeResults collapses candidates by document: up to docCap best chunks per
// document, at most topN documents. Candidates arrive ordered by ascending
// distance with deterministic tie-breaks. Without showContext a hit carries
// only identifiers, score, and title; the SQL already withholds text and
// heading path, and this gate keeps them out even if a caller hands in fully
// populated candidates.
func shapeResults(cands []candidate, topN, docCap int, showContext bool) []Hit {
	if topN < 1 {
		topN = 1
	}
	if docCap < 1 {
		docCap = 1
	}

	perDoc := map[int64]int{}
	var hits []Hit
	for _, c := range cands {
		seen, known := perDoc[c.docID]
		if !known && len(perDoc) >= topN {
			continue
		}
		if seen >= docCap {
			continue
		}
		perDoc[c.docID] = seen + 1
		hit := Hit{
			Rank:       len(hits) + 1,
			Distance:   c.distance,
			ChunkID:    c.chunkID,
			DocID:      c.docID,
			ChunkIndex: c.chunkIndex,
			Title:      c.title,
		}
		if showContext {
			hit.HeadingPath = c.headingPath
			hit.Text = c.text
		}
		hits = append(hits, hit)
	}
	return hits
}
