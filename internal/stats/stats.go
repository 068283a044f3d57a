// Package stats provides the read-only operational views: a corpus overview
// plus per-feed, per-document, and per-chunk snapshots.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragline/ragline/internal/ragerr"
)

// FeedRow is one feed in the overview.
type FeedRow struct {
	FeedID   int32      `json:"feed_id"`
	Name     *string    `json:"name,omitempty"`
	URL      string     `json:"url"`
	IsActive bool       `json:"is_active"`
	AddedAt  *time.Time `json:"added_at,omitempty"`
}

// StatusCount is a documents-by-status bucket.
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// ChunkSummary aggregates the chunk table.
type ChunkSummary struct {
	Total     int64   `json:"total"`
	AvgTokens float64 `json:"avg_tokens"`
}

// ModelInfo aggregates embeddings by model.
type ModelInfo struct {
	Model string     `json:"model"`
	Count int64      `json:"count"`
	Last  *time.Time `json:"last,omitempty"`
}

// Coverage reports how much of the chunk set is embedded.
type Coverage struct {
	Chunks   int64   `json:"chunks"`
	Embedded int64   `json:"embedded"`
	Pct      float64 `json:"pct"`
	Missing  int64   `json:"missing"`
}

// IndexMeta describes the ANN index.
type IndexMeta struct {
	Lists *int32 `json:"lists,omitempty"`
	Size  string `json:"size,omitempty"`
}

// Summary is the overview view.
type Summary struct {
	Feeds             []FeedRow     `json:"feeds"`
	DocumentsByStatus []StatusCount `json:"documents_by_status"`
	LastFetched       *time.Time    `json:"last_fetched,omitempty"`
	Chunks            ChunkSummary  `json:"chunks"`
	Embeddings        int64         `json:"embeddings"`
	Models            []ModelInfo   `json:"models"`
	Coverage          Coverage      `json:"coverage"`
	Index             IndexMeta     `json:"index"`
}

// FeedStats is the per-feed view.
type FeedStats struct {
	Feed              FeedRow       `json:"feed"`
	DocumentsByStatus []StatusCount `json:"documents_by_status"`
	LastFetched       *time.Time    `json:"last_fetched,omitempty"`
	Chunks            ChunkSummary  `json:"chunks"`
	Coverage          Coverage      `json:"coverage"`
}

// DocChunkInfo is one chunk line in the per-document view.
type DocChunkInfo struct {
	ChunkID    int64 `json:"chunk_id"`
	ChunkIndex int32 `json:"chunk_index"`
	TokenCount int32 `json:"token_count"`
	Embedded   bool  `json:"embedded"`
}

// DocSnapshot is the per-document view.
type DocSnapshot struct {
	DocID       int64          `json:"doc_id"`
	FeedID      *int32         `json:"feed_id,omitempty"`
	SourceURL   string         `json:"source_url"`
	SourceTitle *string        `json:"source_title,omitempty"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	FetchedAt   *time.Time     `json:"fetched_at,omitempty"`
	Status      *string        `json:"status,omitempty"`
	ErrorMsg    *string        `json:"error_msg,omitempty"`
	Preview     *string        `json:"preview,omitempty"`
	Chunks      []DocChunkInfo `json:"chunks"`
}

// ChunkSnapshot is the per-chunk view.
type ChunkSnapshot struct {
	ChunkID    int64   `json:"chunk_id"`
	DocID      int64   `json:"doc_id"`
	ChunkIndex int32   `json:"chunk_index"`
	TokenCount int32   `json:"token_count"`
	MD5        string  `json:"md5"`
	Model      *string `json:"model,omitempty"`
	Text       string  `json:"text"`
}

// Service reads the views. It never writes.
type Service struct {
	pool *pgxpool.Pool
}

// New creates a Service.
func New(pool *pgxpool.Pool) *Service { return &Service{pool: pool} }

func statErr(op string, err error) error {
	return fmt.Errorf("%w: stats %s: %v", ragerr.ErrStore, op, err)
}

// Summary builds the overview.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	var out Summary

	rows, err := s.pool.Query(ctx, `
		SELECT feed_id, name, url, is_active, added_at FROM rag.feed ORDER BY feed_id
	`)
	if err != nil {
		return out, statErr("feeds", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f FeedRow
		if err := rows.Scan(&f.FeedID, &f.Name, &f.URL, &f.IsActive, &f.AddedAt); err != nil {
			return out, statErr("scan feed", err)
		}
		out.Feeds = append(out.Feeds, f)
	}
	rows.Close()

	if out.DocumentsByStatus, err = s.statusCounts(ctx, nil); err != nil {
		return out, err
	}

	if err := s.pool.QueryRow(ctx, `SELECT MAX(fetched_at) FROM rag.document`).Scan(&out.LastFetched); err != nil {
		return out, statErr("last fetched", err)
	}

	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(token_count), 0) FROM rag.chunk
	`).Scan(&out.Chunks.Total, &out.Chunks.AvgTokens); err != nil {
		return out, statErr("chunks", err)
	}

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rag.embedding`).Scan(&out.Embeddings); err != nil {
		return out, statErr("embeddings", err)
	}

	mrows, err := s.pool.Query(ctx, `
		SELECT model, COUNT(*), MAX(created_at)
		FROM rag.embedding GROUP BY model ORDER BY COUNT(*) DESC
	`)
	if err != nil {
		return out, statErr("models", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		var m ModelInfo
		if err := mrows.Scan(&m.Model, &m.Count, &m.Last); err != nil {
			return out, statErr("scan model", err)
		}
		out.Models = append(out.Models, m)
	}
	mrows.Close()

	out.Coverage = coverage(out.Chunks.Total, out.Embeddings)

	var lists *string
	err = s.pool.QueryRow(ctx, `
		SELECT substring(pg_get_indexdef(i.indexrelid) from 'lists\s*=\s*''?([0-9]+)'),
		       pg_size_pretty(pg_relation_size(i.indexrelid))
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indexrelid
		JOIN pg_namespace nsp ON nsp.oid = c.relnamespace
		WHERE nsp.nspname = 'rag' AND c.relname = 'embedding_vec_ivf_idx'
	`).Scan(&lists, &out.Index.Size)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return out, statErr("index", err)
	}
	if lists != nil {
		var n int32
		if _, err := fmt.Sscanf(*lists, "%d", &n); err == nil {
			out.Index.Lists = &n
		}
	}
	return out, nil
}

// Feed builds the per-feed view.
func (s *Service) Feed(ctx context.Context, feedID int32) (FeedStats, error) {
	var out FeedStats
	err := s.pool.QueryRow(ctx, `
		SELECT feed_id, name, url, is_active, added_at FROM rag.feed WHERE feed_id = $1
	`, feedID).Scan(&out.Feed.FeedID, &out.Feed.Name, &out.Feed.URL, &out.Feed.IsActive, &out.Feed.AddedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, fmt.Errorf("%w: feed %d", ragerr.ErrNotFound, feedID)
	}
	if err != nil {
		return out, statErr("feed", err)
	}

	if out.DocumentsByStatus, err = s.statusCounts(ctx, &feedID); err != nil {
		return out, err
	}

	if err := s.pool.QueryRow(ctx, `
		SELECT MAX(fetched_at) FROM rag.document WHERE feed_id = $1
	`, feedID).Scan(&out.LastFetched); err != nil {
		return out, statErr("feed last fetched", err)
	}

	var embedded int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(c.*), COALESCE(AVG(c.token_count), 0),
		       COUNT(e.chunk_id)
		FROM rag.chunk c
		JOIN rag.document d ON d.doc_id = c.doc_id
		LEFT JOIN rag.embedding e ON e.chunk_id = c.chunk_id
		WHERE d.feed_id = $1
	`, feedID).Scan(&out.Chunks.Total, &out.Chunks.AvgTokens, &embedded); err != nil {
		return out, statErr("feed chunks", err)
	}
	out.Coverage = coverage(out.Chunks.Total, embedded)
	return out, nil
}

// Doc builds the per-document view.
func (s *Service) Doc(ctx context.Context, docID int64) (DocSnapshot, error) {
	var out DocSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT doc_id, feed_id, source_url, source_title, published_at, fetched_at,
		       status, error_msg, substring(text_clean, 1, 300)
		FROM rag.document WHERE doc_id = $1
	`, docID).Scan(&out.DocID, &out.FeedID, &out.SourceURL, &out.SourceTitle,
		&out.PublishedAt, &out.FetchedAt, &out.Status, &out.ErrorMsg, &out.Preview)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, fmt.Errorf("%w: document %d", ragerr.ErrNotFound, docID)
	}
	if err != nil {
		return out, statErr("doc", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.chunk_id, c.chunk_index, c.token_count, e.chunk_id IS NOT NULL
		FROM rag.chunk c
		LEFT JOIN rag.embedding e ON e.chunk_id = c.chunk_id
		WHERE c.doc_id = $1
		ORDER BY c.chunk_index
	`, docID)
	if err != nil {
		return out, statErr("doc chunks", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c DocChunkInfo
		if err := rows.Scan(&c.ChunkID, &c.ChunkIndex, &c.TokenCount, &c.Embedded); err != nil {
			return out, statErr("scan doc chunk", err)
		}
		out.Chunks = append(out.Chunks, c)
	}
	return out, rows.Err()
}

// Chunk builds the per-chunk view.
func (s *Service) Chunk(ctx context.Context, chunkID int64) (ChunkSnapshot, error) {
	var out ChunkSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT c.chunk_id, c.doc_id, c.chunk_index, c.token_count, c.md5, e.model, c.text
		FROM rag.chunk c
		LEFT JOIN rag.embedding e ON e.chunk_id = c.chunk_id
		WHERE c.chunk_id = $1
	`, chunkID).Scan(&out.ChunkID, &out.DocID, &out.ChunkIndex, &out.TokenCount, &out.MD5, &out.Model, &out.Text)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, fmt.Errorf("%w: chunk %d", ragerr.ErrNotFound, chunkID)
	}
	if err != nil {
		return out, statErr("chunk", err)
	}
	return out, nil
}

func (s *Service) statusCounts(ctx context.Context, feedID *int32) ([]StatusCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(status, ''), COUNT(*)
		FROM rag.document
		WHERE ($1::int4 IS NULL OR feed_id = $1)
		GROUP BY status ORDER BY status
	`, feedID)
	if err != nil {
		return nil, statErr("status counts", err)
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, statErr("scan status count", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func coverage(chunks, embedded int64) Coverage {
	cov := Coverage{Chunks: chunks, Embedded: embedded, Missing: chunks - embedded}
	if chunks > 0 {
		cov.Pct = float64(embedded) / float64(chunks) * 100
	}
	return cov
}
