// Package store provides typed access to the persistent entities of the
// pipeline: feeds, documents, chunks, and embeddings.
//
// Every write that spans more than one statement runs inside a transaction
// and is atomic from the caller's perspective. Cascade rules live in the
// schema (document → chunk → embedding); deleting a feed never deletes
// documents.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/ragline/ragline/internal/ragerr"
)

// Store wraps the shared connection pool with typed entity operations.
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store. A nil logger falls back to slog.Default().
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Pool exposes the underlying pool for callers that manage their own
// transaction scope.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ragerr.ErrStore, op, err)
}

// ---- feeds ----

// UpsertFeed inserts a feed or updates its name/active flag by URL.
func (s *Store) UpsertFeed(ctx context.Context, url string, name *string, active bool) (Feed, error) {
	var f Feed
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rag.feed (url, name, is_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (url) DO UPDATE SET name = EXCLUDED.name, is_active = EXCLUDED.is_active
		RETURNING feed_id, url, name, added_at, is_active
	`, url, name, active).Scan(&f.FeedID, &f.URL, &f.Name, &f.AddedAt, &f.IsActive)
	if err != nil {
		return Feed{}, storeErr("upsert feed", err)
	}
	return f, nil
}

// ListFeeds returns feeds ordered by id, optionally filtered by is_active.
func (s *Store) ListFeeds(ctx context.Context, active *bool) ([]Feed, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT feed_id, url, name, added_at, is_active
		FROM rag.feed
		WHERE ($1::bool IS NULL OR is_active = $1)
		ORDER BY feed_id
	`, active)
	if err != nil {
		return nil, storeErr("list feeds", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		var f Feed
		if err := rows.Scan(&f.FeedID, &f.URL, &f.Name, &f.AddedAt, &f.IsActive); err != nil {
			return nil, storeErr("scan feed", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// SelectFeeds resolves the ingest feed selection: a specific id, a specific
// URL, or all active feeds when neither is given.
func (s *Store) SelectFeeds(ctx context.Context, feedID *int32, feedURL *string) ([]Feed, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT feed_id, url, name, added_at, is_active
		FROM rag.feed
		WHERE ($1::int4 IS NULL OR feed_id = $1)
		  AND ($2::text  IS NULL OR url = $2)
		  AND ($1::int4 IS NOT NULL OR $2::text IS NOT NULL OR is_active = TRUE)
		ORDER BY feed_id
	`, feedID, feedURL)
	if err != nil {
		return nil, storeErr("select feeds", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		var f Feed
		if err := rows.Scan(&f.FeedID, &f.URL, &f.Name, &f.AddedAt, &f.IsActive); err != nil {
			return nil, storeErr("scan feed", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// ---- documents ----

// ExistingSourceURLs reports which of the given URLs already have a document
// row. Used by insert-only ingestion to skip known articles before fetching
// them.
func (s *Store) ExistingSourceURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	if len(urls) == 0 {
		return map[string]bool{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT source_url FROM rag.document WHERE source_url = ANY($1)
	`, urls)
	if err != nil {
		return nil, storeErr("existing urls", err)
	}
	defer rows.Close()

	seen := make(map[string]bool, len(urls))
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, storeErr("scan url", err)
		}
		seen[u] = true
	}
	return seen, rows.Err()
}

// InsertDocument inserts a document, ignoring the write when source_url
// already exists. Returns whether a row was inserted.
func (s *Store) InsertDocument(ctx context.Context, d DocUpsert) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO rag.document
			(feed_id, source_url, source_title, published_at, fetched_at,
			 etag, last_modified, content_hash, raw_html, text_clean, status, error_msg)
		VALUES ($1, $2, $3, $4, now(), $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source_url) DO NOTHING
	`, d.FeedID, d.SourceURL, d.SourceTitle, d.PublishedAt,
		d.ETag, d.LastMod, d.ContentHash, d.RawHTML, d.TextClean, d.Status, d.ErrorMsg)
	if err != nil {
		return false, storeErr("insert document", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertDocument inserts or overwrites a document by source_url. Only
// document columns are touched; chunks survive an upsert untouched.
// Returns true when the row was newly inserted.
func (s *Store) UpsertDocument(ctx context.Context, d DocUpsert) (bool, error) {
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rag.document
			(feed_id, source_url, source_title, published_at, fetched_at,
			 etag, last_modified, content_hash, raw_html, text_clean, status, error_msg)
		VALUES ($1, $2, $3, $4, now(), $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source_url) DO UPDATE SET
			source_title  = EXCLUDED.source_title,
			published_at  = EXCLUDED.published_at,
			fetched_at    = now(),
			etag          = EXCLUDED.etag,
			last_modified = EXCLUDED.last_modified,
			content_hash  = EXCLUDED.content_hash,
			raw_html      = EXCLUDED.raw_html,
			text_clean    = EXCLUDED.text_clean,
			status        = EXCLUDED.status,
			error_msg     = EXCLUDED.error_msg
		RETURNING (xmax = 0)
	`, d.FeedID, d.SourceURL, d.SourceTitle, d.PublishedAt,
		d.ETag, d.LastMod, d.ContentHash, d.RawHTML, d.TextClean, d.Status, d.ErrorMsg).Scan(&inserted)
	if err != nil {
		return false, storeErr("upsert document", err)
	}
	return inserted, nil
}

// DocumentConditional returns the stored etag/last_modified/content_hash for
// a source URL, for conditional refetches. found is false when no row exists.
func (s *Store) DocumentConditional(ctx context.Context, sourceURL string) (etag, lastMod, hash *string, found bool, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT etag, last_modified, content_hash FROM rag.document WHERE source_url = $1
	`, sourceURL).Scan(&etag, &lastMod, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, nil, false, storeErr("document conditional", err)
	}
	return etag, lastMod, hash, true, nil
}

// MarkDocumentError records a stage failure on an existing document.
func (s *Store) MarkDocumentError(ctx context.Context, sourceURL, msg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rag.document SET status = $2, error_msg = $3 WHERE source_url = $1
	`, sourceURL, StatusError, msg)
	if err != nil {
		return storeErr("mark document error", err)
	}
	return nil
}

// DeleteDocument removes a document; chunks and embeddings follow by cascade.
func (s *Store) DeleteDocument(ctx context.Context, docID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rag.document WHERE doc_id = $1`, docID)
	if err != nil {
		return storeErr("delete document", err)
	}
	return nil
}

// ---- chunks ----

// SelectChunkCandidates returns documents eligible for chunking: status
// 'ingested', documents marked chunked/embedded whose chunk rows are missing,
// or anything with --force; optionally narrowed to one doc id or to documents
// fetched since the given instant. Documents without cleaned text are
// excluded.
func (s *Store) SelectChunkCandidates(ctx context.Context, docID *int64, since time.Time, force bool) ([]ChunkCandidate, error) {
	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}
	rows, err := s.pool.Query(ctx, `
		SELECT doc_id, text_clean
		FROM rag.document
		WHERE ($3::bool
		       OR status = $4
		       OR (status IN ($5, $6) AND NOT EXISTS (
		             SELECT 1 FROM rag.chunk c WHERE c.doc_id = rag.document.doc_id)))
		  AND text_clean IS NOT NULL
		  AND ($1::bigint IS NULL OR doc_id = $1)
		  AND ($2::timestamptz IS NULL OR fetched_at >= $2)
		ORDER BY doc_id DESC
		LIMIT 1000
	`, docID, sinceArg, force, StatusIngested, StatusChunked, StatusEmbedded)
	if err != nil {
		return nil, storeErr("select chunk candidates", err)
	}
	defer rows.Close()

	var docs []ChunkCandidate
	for rows.Next() {
		var c ChunkCandidate
		if err := rows.Scan(&c.DocID, &c.TextClean); err != nil {
			return nil, storeErr("scan chunk candidate", err)
		}
		docs = append(docs, c)
	}
	return docs, rows.Err()
}

// ReplaceChunks atomically replaces a document's chunks: delete all existing
// rows, insert the new windows with dense indices, and set the document's
// status to 'chunked'. Embeddings of the old chunks are removed by cascade,
// so a previously embedded document regresses to 'chunked'.
func (s *Store) ReplaceChunks(ctx context.Context, docID int64, chunks []NewChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin replace chunks", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM rag.chunk WHERE doc_id = $1`, docID); err != nil {
		return storeErr("delete chunks", err)
	}
	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO rag.chunk (doc_id, chunk_index, text, token_count, md5, heading_path)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, docID, c.ChunkIndex, c.Text, c.TokenCount, c.MD5, c.HeadingPath)
		if err != nil {
			return storeErr("insert chunk", err)
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE rag.document SET status = $2, error_msg = NULL WHERE doc_id = $1
	`, docID, StatusChunked); err != nil {
		return storeErr("mark chunked", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit replace chunks", err)
	}
	return nil
}

// ChunksByDoc returns a document's chunks ordered by index.
func (s *Store) ChunksByDoc(ctx context.Context, docID int64) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, doc_id, chunk_index, text, token_count, md5, heading_path
		FROM rag.chunk
		WHERE doc_id = $1
		ORDER BY chunk_index
	`, docID)
	if err != nil {
		return nil, storeErr("chunks by doc", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.ChunkIndex, &c.Text, &c.TokenCount, &c.MD5, &c.HeadingPath); err != nil {
			return nil, storeErr("scan chunk", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ---- embeddings ----

// SelectEmbedCandidates returns chunks missing an embedding for the target
// model (or all chunks with force), ordered by chunk id.
func (s *Store) SelectEmbedCandidates(ctx context.Context, model string, force bool, limit int64) ([]EmbedCandidate, error) {
	var rows pgx.Rows
	var err error
	if force {
		rows, err = s.pool.Query(ctx, `
			SELECT c.chunk_id, c.text
			FROM rag.chunk c
			ORDER BY c.chunk_id
			LIMIT $1
		`, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT c.chunk_id, c.text
			FROM rag.chunk c
			LEFT JOIN rag.embedding e ON e.chunk_id = c.chunk_id
			WHERE e.chunk_id IS NULL OR e.model <> $1
			ORDER BY c.chunk_id
			LIMIT $2
		`, model, limit)
	}
	if err != nil {
		return nil, storeErr("select embed candidates", err)
	}
	defer rows.Close()

	var out []EmbedCandidate
	for rows.Next() {
		var c EmbedCandidate
		if err := rows.Scan(&c.ChunkID, &c.Text); err != nil {
			return nil, storeErr("scan embed candidate", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertEmbeddings writes one batch of vectors inside a single transaction,
// overwriting any prior row per chunk. Partial progress is durable once the
// transaction commits.
func (s *Store) UpsertEmbeddings(ctx context.Context, model string, dim int32, chunkIDs []int64, vecs [][]float32) error {
	if len(chunkIDs) != len(vecs) {
		return fmt.Errorf("%w: %d chunk ids for %d vectors", ragerr.ErrInvariant, len(chunkIDs), len(vecs))
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin upsert embeddings", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, id := range chunkIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO rag.embedding (chunk_id, model, dim, vec)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (chunk_id) DO UPDATE SET
				model      = EXCLUDED.model,
				dim        = EXCLUDED.dim,
				vec        = EXCLUDED.vec,
				created_at = now()
		`, id, model, dim, pgvector.NewVector(vecs[i]))
		if err != nil {
			return storeErr("upsert embedding", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit upsert embeddings", err)
	}
	return nil
}

// SelectChunksAfter pages all chunks in id order past a watermark. Used by
// force re-embedding, where the missing-row query never drains.
func (s *Store) SelectChunksAfter(ctx context.Context, afterID, limit int64) ([]EmbedCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.chunk_id, c.text
		FROM rag.chunk c
		WHERE c.chunk_id > $1
		ORDER BY c.chunk_id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, storeErr("select chunks after", err)
	}
	defer rows.Close()

	var out []EmbedCandidate
	for rows.Next() {
		var c EmbedCandidate
		if err := rows.Scan(&c.ChunkID, &c.Text); err != nil {
			return nil, storeErr("scan chunk", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountEmbedCandidates counts chunks an embed run would touch.
func (s *Store) CountEmbedCandidates(ctx context.Context, model string, force bool) (int64, error) {
	var n int64
	var err error
	if force {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rag.chunk`).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM rag.chunk c
			LEFT JOIN rag.embedding e ON e.chunk_id = c.chunk_id
			WHERE e.chunk_id IS NULL OR e.model <> $1
		`, model).Scan(&n)
	}
	if err != nil {
		return 0, storeErr("count embed candidates", err)
	}
	return n, nil
}

// EmbeddingDim returns the dim of any stored embedding. ok is false when the
// table is empty.
func (s *Store) EmbeddingDim(ctx context.Context) (int32, bool, error) {
	var dim int32
	err := s.pool.QueryRow(ctx, `SELECT dim FROM rag.embedding LIMIT 1`).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr("embedding dim", err)
	}
	return dim, true, nil
}

// CountEmbeddings returns the total embedding row count.
func (s *Store) CountEmbeddings(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rag.embedding`).Scan(&n); err != nil {
		return 0, storeErr("count embeddings", err)
	}
	return n, nil
}

// PromoteEmbedded advances documents from 'chunked' to 'embedded' once every
// chunk carries an embedding. Returns how many documents moved.
func (s *Store) PromoteEmbedded(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rag.document d SET status = $1
		WHERE d.status = $2
		  AND EXISTS (SELECT 1 FROM rag.chunk c WHERE c.doc_id = d.doc_id)
		  AND NOT EXISTS (
			SELECT 1 FROM rag.chunk c
			LEFT JOIN rag.embedding e ON e.chunk_id = c.chunk_id
			WHERE c.doc_id = d.doc_id AND e.chunk_id IS NULL
		  )
	`, StatusEmbedded, StatusChunked)
	if err != nil {
		return 0, storeErr("promote embedded", err)
	}
	return tag.RowsAffected(), nil
}

// IndexLists parses the lists parameter out of the canonical ivfflat index
// definition. ok is false when the index does not exist or carries no lists.
func (s *Store) IndexLists(ctx context.Context) (int32, bool, error) {
	var lists *string
	err := s.pool.QueryRow(ctx, `
		SELECT substring(pg_get_indexdef(i.indexrelid) from 'lists\s*=\s*''?([0-9]+)')
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indexrelid
		JOIN pg_namespace nsp ON nsp.oid = c.relnamespace
		WHERE nsp.nspname = 'rag' AND c.relname = 'embedding_vec_ivf_idx'
	`).Scan(&lists)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr("index lists", err)
	}
	if lists == nil {
		return 0, false, nil
	}
	var n int32
	if _, err := fmt.Sscanf(*lists, "%d", &n); err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// ---- runs ----

// RecordRun writes one rag.run row for a command execution. details is
// marshaled to JSONB; marshal failures degrade to null details.
func (s *Store) RecordRun(ctx context.Context, op, status string, details any) (int64, error) {
	var payload []byte
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			payload = b
		} else {
			s.logger.Warn("run details not serializable", "op", op, "error", err)
		}
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rag.run (op, status, details, finished_at)
		VALUES ($1, $2, $3, now())
		RETURNING run_id
	`, op, status, payload).Scan(&id)
	if err != nil {
		return 0, storeErr("record run", err)
	}
	return id, nil
}
