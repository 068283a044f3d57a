package store

import "time"

// Document lifecycle statuses. Status is monotone across the pipeline except
// for StatusError, which may appear at any stage and is cleared only by a
// successful re-run of that stage.
const (
	StatusIngested = "ingested"
	StatusChunked  = "chunked"
	StatusEmbedded = "embedded"
	StatusError    = "error"
)

// Feed is an RSS feed subscription, the ownership root for documents.
type Feed struct {
	FeedID   int32
	URL      string
	Name     *string
	AddedAt  time.Time
	IsActive bool
}

// Document is one fetched article. SourceURL is the dedup key.
type Document struct {
	DocID       int64
	FeedID      *int32
	SourceURL   string
	SourceTitle *string
	PublishedAt *time.Time
	FetchedAt   *time.Time
	ETag        *string
	LastMod     *string
	ContentHash *string
	RawHTML     []byte
	TextClean   *string
	Status      string
	ErrorMsg    *string
}

// Chunk is one contiguous token window of a document's cleaned text.
// (DocID, ChunkIndex) is unique and dense [0..N) after a chunking pass.
type Chunk struct {
	ChunkID     int64
	DocID       int64
	ChunkIndex  int32
	Text        string
	TokenCount  int32
	MD5         string
	HeadingPath *string
}

// Embedding is the single vector for a chunk. Re-embedding overwrites.
type Embedding struct {
	ChunkID   int64
	Model     string
	Dim       int32
	Vec       []float32
	CreatedAt time.Time
}

// NewChunk is the insert shape used by ReplaceChunks.
type NewChunk struct {
	ChunkIndex  int32
	Text        string
	TokenCount  int32
	MD5         string
	HeadingPath *string
}

// DocUpsert carries the document columns the ingestor is allowed to touch.
// Chunks and embeddings are never written through this path.
type DocUpsert struct {
	FeedID      *int32
	SourceURL   string
	SourceTitle *string
	PublishedAt *time.Time
	ETag        *string
	LastMod     *string
	ContentHash *string
	RawHTML     []byte
	TextClean   *string
	Status      string
	ErrorMsg    *string
}

// ChunkCandidate is a document eligible for chunking.
type ChunkCandidate struct {
	DocID     int64
	TextClean string
}

// EmbedCandidate is a chunk eligible for embedding.
type EmbedCandidate struct {
	ChunkID int64
	Text    string
}
