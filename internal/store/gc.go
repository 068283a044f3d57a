package store

import (
	"context"
	"time"
)

// GC deletion helpers. Counts feed the plan envelope; deletes run in batches
// of at most max rows until the predicate drains, each batch in its own
// implicit transaction so partial application is well-defined.

// CountOrphanEmbeddings counts embeddings whose chunk is gone. The FK should
// prevent these; a nonzero count means detected corruption.
func (s *Store) CountOrphanEmbeddings(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM rag.embedding e
		WHERE NOT EXISTS (SELECT 1 FROM rag.chunk c WHERE c.chunk_id = e.chunk_id)
	`).Scan(&n)
	if err != nil {
		return 0, storeErr("count orphan embeddings", err)
	}
	return n, nil
}

// DeleteOrphanEmbeddings removes orphan embeddings. Returns rows deleted.
func (s *Store) DeleteOrphanEmbeddings(ctx context.Context, max int64) (int64, error) {
	var total int64
	for {
		tag, err := s.pool.Exec(ctx, `
			DELETE FROM rag.embedding e
			WHERE e.ctid IN (
				SELECT e2.ctid FROM rag.embedding e2
				WHERE NOT EXISTS (SELECT 1 FROM rag.chunk c WHERE c.chunk_id = e2.chunk_id)
				LIMIT $1
			)
		`, max)
		if err != nil {
			return total, storeErr("delete orphan embeddings", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() == 0 {
			return total, nil
		}
	}
}

// CountOrphanChunks counts chunks whose document is gone.
func (s *Store) CountOrphanChunks(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM rag.chunk c
		WHERE NOT EXISTS (SELECT 1 FROM rag.document d WHERE d.doc_id = c.doc_id)
	`).Scan(&n)
	if err != nil {
		return 0, storeErr("count orphan chunks", err)
	}
	return n, nil
}

// DeleteOrphanChunks removes orphan chunks. Returns rows deleted.
func (s *Store) DeleteOrphanChunks(ctx context.Context, max int64) (int64, error) {
	var total int64
	for {
		tag, err := s.pool.Exec(ctx, `
			DELETE FROM rag.chunk c
			WHERE c.ctid IN (
				SELECT c2.ctid FROM rag.chunk c2
				WHERE NOT EXISTS (SELECT 1 FROM rag.document d WHERE d.doc_id = c2.doc_id)
				LIMIT $1
			)
		`, max)
		if err != nil {
			return total, storeErr("delete orphan chunks", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() == 0 {
			return total, nil
		}
	}
}

// CountErrorDocs counts status='error' documents fetched before the cutoff.
// A zero cutoff matches all error documents.
func (s *Store) CountErrorDocs(ctx context.Context, cutoff time.Time, feedID *int32) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM rag.document d
		WHERE d.status = $1
		  AND ($2::timestamptz IS NULL OR d.fetched_at < $2)
		  AND ($3::int4 IS NULL OR d.feed_id = $3)
	`, StatusError, nullableTime(cutoff), feedID).Scan(&n)
	if err != nil {
		return 0, storeErr("count error docs", err)
	}
	return n, nil
}

// DeleteErrorDocs removes stale error documents in batches.
func (s *Store) DeleteErrorDocs(ctx context.Context, cutoff time.Time, feedID *int32, max int64) (int64, error) {
	var total int64
	for {
		tag, err := s.pool.Exec(ctx, `
			DELETE FROM rag.document d
			WHERE d.ctid IN (
				SELECT d2.ctid FROM rag.document d2
				WHERE d2.status = $1
				  AND ($2::timestamptz IS NULL OR d2.fetched_at < $2)
				  AND ($3::int4 IS NULL OR d2.feed_id = $3)
				LIMIT $4
			)
		`, StatusError, nullableTime(cutoff), feedID, max)
		if err != nil {
			return total, storeErr("delete error docs", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() == 0 {
			return total, nil
		}
	}
}

// CountStaleIngested counts documents that never progressed past 'ingested'
// and have no chunks, fetched before the cutoff.
func (s *Store) CountStaleIngested(ctx context.Context, cutoff time.Time, feedID *int32) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM rag.document d
		WHERE d.status = $1
		  AND ($2::timestamptz IS NULL OR d.fetched_at < $2)
		  AND ($3::int4 IS NULL OR d.feed_id = $3)
		  AND NOT EXISTS (SELECT 1 FROM rag.chunk c WHERE c.doc_id = d.doc_id)
	`, StatusIngested, nullableTime(cutoff), feedID).Scan(&n)
	if err != nil {
		return 0, storeErr("count stale ingested docs", err)
	}
	return n, nil
}

// DeleteStaleIngested removes never-chunked stale documents in batches.
func (s *Store) DeleteStaleIngested(ctx context.Context, cutoff time.Time, feedID *int32, max int64) (int64, error) {
	var total int64
	for {
		tag, err := s.pool.Exec(ctx, `
			DELETE FROM rag.document d
			WHERE d.ctid IN (
				SELECT d2.ctid FROM rag.document d2
				WHERE d2.status = $1
				  AND ($2::timestamptz IS NULL OR d2.fetched_at < $2)
				  AND ($3::int4 IS NULL OR d2.feed_id = $3)
				  AND NOT EXISTS (SELECT 1 FROM rag.chunk c WHERE c.doc_id = d2.doc_id)
				LIMIT $4
			)
		`, StatusIngested, nullableTime(cutoff), feedID, max)
		if err != nil {
			return total, storeErr("delete stale ingested docs", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() == 0 {
			return total, nil
		}
	}
}

// CountBadChunks counts chunks with empty text or a non-positive token count.
func (s *Store) CountBadChunks(ctx context.Context, feedID *int32) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM rag.chunk c
		JOIN rag.document d ON d.doc_id = c.doc_id
		WHERE ($1::int4 IS NULL OR d.feed_id = $1)
		  AND (btrim(c.text) = '' OR c.token_count <= 0)
	`, feedID).Scan(&n)
	if err != nil {
		return 0, storeErr("count bad chunks", err)
	}
	return n, nil
}

// DeleteBadChunks removes empty or zero-token chunks in batches.
func (s *Store) DeleteBadChunks(ctx context.Context, feedID *int32, max int64) (int64, error) {
	var total int64
	for {
		tag, err := s.pool.Exec(ctx, `
			DELETE FROM rag.chunk c
			WHERE c.ctid IN (
				SELECT c2.ctid FROM rag.chunk c2
				JOIN rag.document d ON d.doc_id = c2.doc_id
				WHERE ($1::int4 IS NULL OR d.feed_id = $1)
				  AND (btrim(c2.text) = '' OR c2.token_count <= 0)
				LIMIT $2
			)
		`, feedID, max)
		if err != nil {
			return total, storeErr("delete bad chunks", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() == 0 {
			return total, nil
		}
	}
}

// FixStatuses recomputes document status from the existence of chunks and
// embeddings: embedded when every chunk has a vector, chunked when some are
// missing, ingested when there are no chunks. Error rows are left alone.
func (s *Store) FixStatuses(ctx context.Context, feedID *int32) (embedded, chunked, ingested int64, err error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rag.document d SET status = $1
		WHERE ($2::int4 IS NULL OR d.feed_id = $2)
		  AND d.status IS DISTINCT FROM $3
		  AND EXISTS (SELECT 1 FROM rag.chunk c WHERE c.doc_id = d.doc_id)
		  AND NOT EXISTS (
			SELECT 1 FROM rag.chunk c
			LEFT JOIN rag.embedding e ON e.chunk_id = c.chunk_id
			WHERE c.doc_id = d.doc_id AND e.chunk_id IS NULL
		  )
		  AND d.status IS DISTINCT FROM $1
	`, StatusEmbedded, feedID, StatusError)
	if err != nil {
		return 0, 0, 0, storeErr("fix status embedded", err)
	}
	embedded = tag.RowsAffected()

	tag, err = s.pool.Exec(ctx, `
		UPDATE rag.document d SET status = $1
		WHERE ($2::int4 IS NULL OR d.feed_id = $2)
		  AND d.status IS DISTINCT FROM $3
		  AND EXISTS (SELECT 1 FROM rag.chunk c WHERE c.doc_id = d.doc_id)
		  AND EXISTS (
			SELECT 1 FROM rag.chunk c
			LEFT JOIN rag.embedding e ON e.chunk_id = c.chunk_id
			WHERE c.doc_id = d.doc_id AND e.chunk_id IS NULL
		  )
		  AND d.status IS DISTINCT FROM $1
	`, StatusChunked, feedID, StatusError)
	if err != nil {
		return embedded, 0, 0, storeErr("fix status chunked", err)
	}
	chunked = tag.RowsAffected()

	tag, err = s.pool.Exec(ctx, `
		UPDATE rag.document d SET status = $1
		WHERE ($2::int4 IS NULL OR d.feed_id = $2)
		  AND d.status IS DISTINCT FROM $3
		  AND NOT EXISTS (SELECT 1 FROM rag.chunk c WHERE c.doc_id = d.doc_id)
		  AND d.status IS DISTINCT FROM $1
	`, StatusIngested, feedID, StatusError)
	if err != nil {
		return embedded, chunked, 0, storeErr("fix status ingested", err)
	}
	ingested = tag.RowsAffected()
	return embedded, chunked, ingested, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
