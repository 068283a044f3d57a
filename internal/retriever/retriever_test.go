package retriever

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(chunkID, docID int64, dist float32) candidate {
	return candidate{chunkID: chunkID, docID: docID, distance: dist}
}

func TestShapeResultsDocCap(t *testing.T) {
	cands := []candidate{
		cand(1, 10, 0.10),
		cand(2, 10, 0.11),
		cand(3, 10, 0.12),
		cand(4, 20, 0.20),
	}

	hits := shapeResults(cands, 5, 2, false)
	require.Len(t, hits, 3)
	assert.Equal(t, int64(1), hits[0].ChunkID)
	assert.Equal(t, int64(2), hits[1].ChunkID)
	assert.Equal(t, int64(4), hits[2].ChunkID, "third chunk of doc 10 is capped out")
}

func TestShapeResultsTopNDocuments(t *testing.T) {
	cands := []candidate{
		cand(1, 10, 0.1),
		cand(2, 20, 0.2),
		cand(3, 30, 0.3),
		cand(4, 10, 0.35),
		cand(5, 40, 0.4),
	}

	hits := shapeResults(cands, 2, 2, false)

	docs := map[int64]bool{}
	for _, h := range hits {
		docs[h.DocID] = true
	}
	assert.Len(t, docs, 2)
	assert.True(t, docs[10])
	assert.True(t, docs[20])
	// doc 10's second chunk still makes it in even though it ranks after
	// candidates from excluded documents.
	require.Len(t, hits, 3)
	assert.Equal(t, int64(4), hits[2].ChunkID)
}

func TestShapeResultsRanksSequential(t *testing.T) {
	cands := []candidate{
		cand(5, 1, 0.1),
		cand(6, 2, 0.2),
		cand(7, 3, 0.3),
	}

	hits := shapeResults(cands, 10, 1, false)
	for i, h := range hits {
		assert.Equal(t, i+1, h.Rank)
	}
}

func TestShapeResultsPreservesDistanceOrder(t *testing.T) {
	cands := []candidate{
		cand(1, 1, 0.10),
		cand(2, 2, 0.20),
		cand(3, 3, 0.30),
	}

	hits := shapeResults(cands, 3, 1, false)
	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance)
	}
}

func TestShapeResultsMonotoneInTopK(t *testing.T) {
	// Growing the candidate pool (larger --topk) must never drop a hit that
	// a smaller pool produced.
	all := []candidate{
		cand(1, 10, 0.1),
		cand(2, 20, 0.2),
		cand(3, 10, 0.3),
		cand(4, 30, 0.4),
		cand(5, 20, 0.5),
	}

	small := shapeResults(all[:3], 5, 2, false)
	large := shapeResults(all, 5, 2, false)

	ids := map[int64]bool{}
	for _, h := range large {
		ids[h.ChunkID] = true
	}
	for _, h := range small {
		assert.True(t, ids[h.ChunkID], "chunk %d lost at larger topk", h.ChunkID)
	}
}

func TestShapeResultsEmpty(t *testing.T) {
	assert.Empty(t, shapeResults(nil, 5, 2, false))
}

func TestShapeResultsFloorsBadLimits(t *testing.T) {
	cands := []candidate{cand(1, 1, 0.1), cand(2, 1, 0.2), cand(3, 2, 0.3)}

	hits := shapeResults(cands, 0, 0, false)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].ChunkID)
}

func contextCand(chunkID, docID int64, dist float32) candidate {
	c := cand(chunkID, docID, dist)
	heading := "Intro > Background"
	text := "full chunk text"
	c.headingPath = &heading
	c.text = &text
	return c
}

func TestShapeResultsSuppressesContextByDefault(t *testing.T) {
	// Even with fully populated candidates, a hit without --show-context
	// carries only identifiers, score, and title.
	cands := []candidate{contextCand(1, 10, 0.1), contextCand(2, 20, 0.2)}

	hits := shapeResults(cands, 5, 2, false)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Nil(t, h.HeadingPath)
		assert.Nil(t, h.Text)
	}
}

func TestShapeResultsIncludesContextWhenRequested(t *testing.T) {
	cands := []candidate{contextCand(1, 10, 0.1)}

	hits := shapeResults(cands, 5, 2, true)
	require.Len(t, hits, 1)
	require.NotNil(t, hits[0].HeadingPath)
	assert.Equal(t, "Intro > Background", *hits[0].HeadingPath)
	require.NotNil(t, hits[0].Text)
	assert.Equal(t, "full chunk text", *hits[0].Text)
}
