package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<html><head><title>T</title></head><body>
<h1>Rust and Tokio</h1>
<article>
<p>First paragraph about async runtimes.</p>
<p>Second paragraph with more detail.</p>
</article>
<footer><p>unrelated footer text</p></footer>
</body></html>`

func TestExtractPrefersArticleParagraphs(t *testing.T) {
	e := NewHTML()

	res, err := e.Extract("https://example.com/post", []byte(articleHTML))
	require.NoError(t, err)
	assert.Contains(t, res.TextClean, "First paragraph about async runtimes.")
	assert.Contains(t, res.TextClean, "Second paragraph with more detail.")
	assert.NotContains(t, res.TextClean, "unrelated footer text")
}

func TestExtractHeadingPath(t *testing.T) {
	e := NewHTML()

	res, err := e.Extract("https://example.com/post", []byte(articleHTML))
	require.NoError(t, err)
	require.NotNil(t, res.HeadingPath)
	assert.Equal(t, "Rust and Tokio", *res.HeadingPath)
}

func TestExtractParagraphFallback(t *testing.T) {
	e := NewHTML()
	html := `<html><body><div><p>bare paragraph</p></div></body></html>`

	res, err := e.Extract("https://example.com/x", []byte(html))
	require.NoError(t, err)
	assert.Equal(t, "bare paragraph", res.TextClean)
	assert.Nil(t, res.HeadingPath)
}

func TestExtractEmptyBodyFails(t *testing.T) {
	e := NewHTML()

	_, err := e.Extract("https://example.com/x", []byte(`<html><body></body></html>`))
	require.Error(t, err)
}

func TestContentHashStableAndSensitive(t *testing.T) {
	a := ContentHash([]byte("same bytes"))
	b := ContentHash([]byte("same bytes"))
	c := ContentHash([]byte("other bytes"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}
