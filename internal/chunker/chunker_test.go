package chunker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/internal/log"
	"github.com/ragline/ragline/internal/store"
	"github.com/ragline/ragline/internal/tokenize"
)

func TestWindowsExactScenario(t *testing.T) {
	// 1,000 tokens at target 350 / overlap 80: starts advance by 270.
	got := Windows(1000, Params{TokensTarget: 350, Overlap: 80})

	require.Len(t, got, 4)
	assert.Equal(t, Window{0, 350}, got[0])
	assert.Equal(t, Window{270, 620}, got[1])
	assert.Equal(t, Window{540, 890}, got[2])
	assert.Equal(t, Window{810, 1000}, got[3])

	for i := 1; i < len(got); i++ {
		overlap := got[i-1].End - got[i].Start
		assert.Equal(t, 80, overlap, "adjacent windows %d/%d", i-1, i)
	}
}

func TestWindowsAbsorbsTinyTail(t *testing.T) {
	// 820 tokens: a fourth window at 810 would add fewer than overlap fresh
	// tokens, so the third window runs to the end instead.
	got := Windows(820, Params{TokensTarget: 350, Overlap: 80})

	require.Len(t, got, 3)
	assert.Equal(t, Window{540, 820}, got[2])
}

func TestWindowsSingleShortDoc(t *testing.T) {
	got := Windows(300, Params{TokensTarget: 350, Overlap: 80})
	require.Len(t, got, 1)
	assert.Equal(t, Window{0, 300}, got[0])
}

func TestWindowsExactTarget(t *testing.T) {
	got := Windows(350, Params{TokensTarget: 350, Overlap: 80})
	require.Len(t, got, 1)
	assert.Equal(t, Window{0, 350}, got[0])
}

func TestWindowsCapKeepsPrefix(t *testing.T) {
	got := Windows(10_000, Params{TokensTarget: 350, Overlap: 80, MaxChunksPerDoc: 3})
	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].Start)
}

func TestWindowsCoverage(t *testing.T) {
	for _, n := range []int{1, 79, 80, 349, 351, 701, 5000} {
		got := Windows(n, Params{TokensTarget: 350, Overlap: 80})
		require.NotEmpty(t, got, "n=%d", n)
		assert.Equal(t, 0, got[0].Start)
		assert.Equal(t, n, got[len(got)-1].End, "n=%d", n)
		for i, w := range got {
			assert.LessOrEqual(t, w.End-w.Start, 350, "n=%d window %d", n, i)
			assert.Greater(t, w.End, w.Start)
		}
	}
}

func TestWindowsZeroTokens(t *testing.T) {
	assert.Nil(t, Windows(0, DefaultParams()))
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())
	assert.Error(t, Params{TokensTarget: 0, Overlap: 0}.Validate())
	assert.Error(t, Params{TokensTarget: 100, Overlap: 100}.Validate())
	assert.Error(t, Params{TokensTarget: 100, Overlap: -1}.Validate())
}

// wordTokenizer treats each whitespace-separated word as one token.
type wordTokenizer struct{}

func (wordTokenizer) Encode(text string) ([]int, []tokenize.Span, error) {
	var ids []int
	var spans []tokenize.Span
	off := 0
	for off < len(text) {
		for off < len(text) && text[off] == ' ' {
			off++
		}
		if off >= len(text) {
			break
		}
		start := off
		for off < len(text) && text[off] != ' ' {
			off++
		}
		ids = append(ids, len(ids))
		spans = append(spans, tokenize.Span{Start: start, End: off})
	}
	return ids, spans, nil
}

// chunkStore records ReplaceChunks calls.
type chunkStore struct {
	candidates []store.ChunkCandidate
	replaced   map[int64][]store.NewChunk
}

func (c *chunkStore) SelectChunkCandidates(context.Context, *int64, time.Time, bool) ([]store.ChunkCandidate, error) {
	return c.candidates, nil
}

func (c *chunkStore) ReplaceChunks(_ context.Context, docID int64, chunks []store.NewChunk) error {
	if c.replaced == nil {
		c.replaced = map[int64][]store.NewChunk{}
	}
	c.replaced[docID] = chunks
	return nil
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "w"
	}
	return strings.Join(parts, " ")
}

func TestRunDenseIndicesAndCounts(t *testing.T) {
	st := &chunkStore{candidates: []store.ChunkCandidate{{DocID: 7, TextClean: words(1000)}}}
	svc := New(st, wordTokenizer{}, log.NewNop())

	res, err := svc.Run(context.Background(), Options{Params: DefaultParams(), PlanLimit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Docs)
	assert.Equal(t, 4, res.TotalChunks)

	chunks := st.replaced[7]
	require.Len(t, chunks, 4)
	for i, c := range chunks {
		assert.Equal(t, int32(i), c.ChunkIndex)
		assert.Equal(t, MD5(c.Text), c.MD5)
	}
	assert.Equal(t, int32(350), chunks[0].TokenCount)
	assert.Equal(t, int32(190), chunks[3].TokenCount)
}

func TestRunDeterministicMD5Pairs(t *testing.T) {
	text := words(900)
	st := &chunkStore{candidates: []store.ChunkCandidate{{DocID: 1, TextClean: text}}}
	svc := New(st, wordTokenizer{}, log.NewNop())

	_, err := svc.Run(context.Background(), Options{Params: DefaultParams()})
	require.NoError(t, err)
	first := st.replaced[1]

	_, err = svc.Run(context.Background(), Options{Params: DefaultParams(), Force: true})
	require.NoError(t, err)
	second := st.replaced[1]

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ChunkIndex, second[i].ChunkIndex)
		assert.Equal(t, first[i].MD5, second[i].MD5)
	}
}

func TestRunZeroTokensClearsChunks(t *testing.T) {
	st := &chunkStore{candidates: []store.ChunkCandidate{{DocID: 3, TextClean: "   "}}}
	svc := New(st, wordTokenizer{}, log.NewNop())

	res, err := svc.Run(context.Background(), Options{Params: DefaultParams()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Docs)
	assert.Zero(t, res.TotalChunks)

	chunks, called := st.replaced[3]
	require.True(t, called, "ReplaceChunks must still run to clear stale rows")
	assert.Empty(t, chunks)
}

func TestBuildPlanSamples(t *testing.T) {
	st := &chunkStore{candidates: []store.ChunkCandidate{
		{DocID: 1, TextClean: "a"}, {DocID: 2, TextClean: "b"}, {DocID: 3, TextClean: "c"},
	}}
	svc := New(st, wordTokenizer{}, log.NewNop())

	plan, err := svc.BuildPlan(context.Background(), Options{Params: DefaultParams(), PlanLimit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, plan.Docs)
	assert.Equal(t, []int64{1, 2}, plan.SampleDocIDs)
	assert.Empty(t, st.replaced)
}

func TestRunInvalidParams(t *testing.T) {
	svc := New(&chunkStore{}, wordTokenizer{}, log.NewNop())

	_, err := svc.Run(context.Background(), Options{Params: Params{TokensTarget: 10, Overlap: 10}})
	require.Error(t, err)
}
