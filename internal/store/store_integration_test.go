package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/internal/encoder"
	"github.com/ragline/ragline/internal/log"
	"github.com/ragline/ragline/internal/store"
	"github.com/ragline/ragline/internal/testutil"
)

func TestMain(m *testing.M) {
	if os.Getenv("RAGLINE_INTEGRATION") == "" {
		// Container tests are opt-in: RAGLINE_INTEGRATION=1 go test ./...
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func setup(t *testing.T) (*store.Store, *testutil.TestDB) {
	t.Helper()
	tdb, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)
	return store.New(tdb.Pool, log.NewNop()), tdb
}

func str(s string) *string { return &s }

func seedDoc(t *testing.T, st *store.Store, url, text string) int64 {
	t.Helper()
	ctx := context.Background()
	_, err := st.InsertDocument(ctx, store.DocUpsert{
		SourceURL: url,
		TextClean: &text,
		Status:    store.StatusIngested,
	})
	require.NoError(t, err)

	docs, err := st.SelectChunkCandidates(ctx, nil, time.Time{}, true)
	require.NoError(t, err)
	for _, d := range docs {
		if d.TextClean == text {
			return d.DocID
		}
	}
	t.Fatalf("seeded document %s not found", url)
	return 0
}

func unitVec(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = 1
	}
	return encoder.L2Normalize(v)
}

func TestFeedAddAndList(t *testing.T) {
	st, _ := setup(t)
	ctx := context.Background()

	f, err := st.UpsertFeed(ctx, "https://example.com/rss.xml", str("Example"), true)
	require.NoError(t, err)
	assert.Positive(t, f.FeedID)

	active := true
	feeds, err := st.ListFeeds(ctx, &active)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "https://example.com/rss.xml", feeds[0].URL)
	require.NotNil(t, feeds[0].Name)
	assert.Equal(t, "Example", *feeds[0].Name)
	assert.True(t, feeds[0].IsActive)
}

func TestUpsertFeedIsIdempotentByURL(t *testing.T) {
	st, _ := setup(t)
	ctx := context.Background()

	first, err := st.UpsertFeed(ctx, "https://example.com/rss.xml", nil, true)
	require.NoError(t, err)
	second, err := st.UpsertFeed(ctx, "https://example.com/rss.xml", str("renamed"), false)
	require.NoError(t, err)
	assert.Equal(t, first.FeedID, second.FeedID)
	assert.False(t, second.IsActive)
}

func TestInsertDocumentDedupsBySourceURL(t *testing.T) {
	st, _ := setup(t)
	ctx := context.Background()

	doc := store.DocUpsert{SourceURL: "https://example.com/a", Status: store.StatusIngested}
	inserted, err := st.InsertDocument(ctx, doc)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = st.InsertDocument(ctx, doc)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert is a no-op")
}

func TestUpsertDocumentNeverTouchesChunks(t *testing.T) {
	st, _ := setup(t)
	ctx := context.Background()

	docID := seedDoc(t, st, "https://example.com/a", "original text")
	require.NoError(t, st.ReplaceChunks(ctx, docID, []store.NewChunk{
		{ChunkIndex: 0, Text: "original text", TokenCount: 2, MD5: "x"},
	}))

	_, err := st.UpsertDocument(ctx, store.DocUpsert{
		SourceURL: "https://example.com/a",
		TextClean: str("newer text"),
		Status:    store.StatusIngested,
	})
	require.NoError(t, err)

	chunks, err := st.ChunksByDoc(ctx, docID)
	require.NoError(t, err)
	require.Len(t, chunks, 1, "document upsert must leave chunks alone")
	assert.Equal(t, "original text", chunks[0].Text)
}

func TestReplaceChunksDenseAndAtomic(t *testing.T) {
	st, _ := setup(t)
	ctx := context.Background()

	docID := seedDoc(t, st, "https://example.com/a", "text")
	require.NoError(t, st.ReplaceChunks(ctx, docID, []store.NewChunk{
		{ChunkIndex: 0, Text: "zero", TokenCount: 1, MD5: "m0"},
		{ChunkIndex: 1, Text: "one", TokenCount: 1, MD5: "m1"},
		{ChunkIndex: 2, Text: "two", TokenCount: 1, MD5: "m2"},
	}))

	chunks, err := st.ChunksByDoc(ctx, docID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, int32(i), c.ChunkIndex)
	}

	// Replacing shrinks the set; the old rows are gone, indices dense again.
	require.NoError(t, st.ReplaceChunks(ctx, docID, []store.NewChunk{
		{ChunkIndex: 0, Text: "only", TokenCount: 1, MD5: "m3"},
	}))
	chunks, err = st.ChunksByDoc(ctx, docID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, int32(0), chunks[0].ChunkIndex)
}

func TestCascadeDocumentDeletesChunksAndEmbeddings(t *testing.T) {
	st, _ := setup(t)
	ctx := context.Background()

	docID := seedDoc(t, st, "https://example.com/a", "text")
	require.NoError(t, st.ReplaceChunks(ctx, docID, []store.NewChunk{
		{ChunkIndex: 0, Text: "chunk", TokenCount: 1, MD5: "m"},
	}))
	chunks, err := st.ChunksByDoc(ctx, docID)
	require.NoError(t, err)
	require.NoError(t, st.UpsertEmbeddings(ctx, "m", 384, []int64{chunks[0].ChunkID}, [][]float32{unitVec(384)}))

	require.NoError(t, st.DeleteDocument(ctx, docID))

	left, err := st.ChunksByDoc(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, left)

	n, err := st.CountEmbeddings(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRechunkingInvalidatesEmbeddings(t *testing.T) {
	st, _ := setup(t)
	ctx := context.Background()

	docID := seedDoc(t, st, "https://example.com/a", "text")
	require.NoError(t, st.ReplaceChunks(ctx, docID, []store.NewChunk{
		{ChunkIndex: 0, Text: "chunk", TokenCount: 1, MD5: "m"},
	}))
	chunks, err := st.ChunksByDoc(ctx, docID)
	require.NoError(t, err)
	require.NoError(t, st.UpsertEmbeddings(ctx, "m", 384, []int64{chunks[0].ChunkID}, [][]float32{unitVec(384)}))

	promoted, err := st.PromoteEmbedded(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), promoted)

	// Re-chunking cascades the embedding away and regresses the status.
	require.NoError(t, st.ReplaceChunks(ctx, docID, []store.NewChunk{
		{ChunkIndex: 0, Text: "new chunk", TokenCount: 2, MD5: "m2"},
	}))
	n, err := st.CountEmbeddings(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	missing, err := st.CountEmbedCandidates(ctx, "m", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), missing)
}

func TestEmbeddingSingleRowPerChunk(t *testing.T) {
	st, _ := setup(t)
	ctx := context.Background()

	docID := seedDoc(t, st, "https://example.com/a", "text")
	require.NoError(t, st.ReplaceChunks(ctx, docID, []store.NewChunk{
		{ChunkIndex: 0, Text: "chunk", TokenCount: 1, MD5: "m"},
	}))
	chunks, err := st.ChunksByDoc(ctx, docID)
	require.NoError(t, err)
	id := chunks[0].ChunkID

	require.NoError(t, st.UpsertEmbeddings(ctx, "model-a", 384, []int64{id}, [][]float32{unitVec(384)}))
	require.NoError(t, st.UpsertEmbeddings(ctx, "model-b", 384, []int64{id}, [][]float32{unitVec(384)}))

	n, err := st.CountEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "re-embedding overwrites, never duplicates")

	missing, err := st.CountEmbedCandidates(ctx, "model-b", false)
	require.NoError(t, err)
	assert.Zero(t, missing)
	missing, err = st.CountEmbedCandidates(ctx, "model-a", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), missing, "model switch re-selects the chunk")
}

func TestGCStaleDocsAndOrphans(t *testing.T) {
	st, _ := setup(t)
	ctx := context.Background()

	seedDoc(t, st, "https://example.com/stale", "stale text")
	errDoc := store.DocUpsert{SourceURL: "https://example.com/bad", Status: store.StatusError, ErrorMsg: str("boom")}
	_, err := st.InsertDocument(ctx, errDoc)
	require.NoError(t, err)

	// Future cutoff makes both rows stale.
	cutoff := time.Now().Add(time.Hour)

	n, err := st.CountErrorDocs(ctx, cutoff, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	deleted, err := st.DeleteErrorDocs(ctx, cutoff, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	n, err = st.CountStaleIngested(ctx, cutoff, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	deleted, err = st.DeleteStaleIngested(ctx, cutoff, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// Nothing left: no orphans either.
	orphans, err := st.CountOrphanChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, orphans)
	orphanEmb, err := st.CountOrphanEmbeddings(ctx)
	require.NoError(t, err)
	assert.Zero(t, orphanEmb)
}

func TestFixStatusesRecomputes(t *testing.T) {
	st, _ := setup(t)
	ctx := context.Background()

	docID := seedDoc(t, st, "https://example.com/a", "text")
	require.NoError(t, st.ReplaceChunks(ctx, docID, []store.NewChunk{
		{ChunkIndex: 0, Text: "chunk", TokenCount: 1, MD5: "m"},
	}))
	chunks, err := st.ChunksByDoc(ctx, docID)
	require.NoError(t, err)
	require.NoError(t, st.UpsertEmbeddings(ctx, "m", 384, []int64{chunks[0].ChunkID}, [][]float32{unitVec(384)}))

	// Status still says 'chunked'; fix-status promotes it.
	embedded, chunked, ingested, err := st.FixStatuses(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), embedded)
	assert.Zero(t, chunked)
	assert.Zero(t, ingested)
}

func TestRecordRun(t *testing.T) {
	st, tdb := setup(t)
	ctx := context.Background()

	id, err := st.RecordRun(ctx, "gc", "ok", map[string]int{"deleted": 3})
	require.NoError(t, err)
	assert.Positive(t, id)

	var op, status string
	err = tdb.Pool.QueryRow(ctx, `SELECT op, status FROM rag.run WHERE run_id = $1`, id).Scan(&op, &status)
	require.NoError(t, err)
	assert.Equal(t, "gc", op)
	assert.Equal(t, "ok", status)
}

func TestIndexListsParsesDefinition(t *testing.T) {
	st, _ := setup(t)

	lists, ok, err := st.IndexLists(context.Background())
	require.NoError(t, err)
	require.True(t, ok, "migration creates the ivfflat index")
	assert.Equal(t, int32(100), lists)
}
