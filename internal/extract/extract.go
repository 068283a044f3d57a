// Package extract turns raw article HTML into clean text for the pipeline.
package extract

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/ragline/ragline/internal/ragerr"
)

// Result is the extractor contract: cleaned text, an optional heading path,
// and the content hash of the raw body.
type Result struct {
	TextClean   string
	HeadingPath *string
	ContentHash string
}

// Extractor converts (url, raw HTML) into a Result. Implementations must be
// safe for concurrent use.
type Extractor interface {
	Extract(pageURL string, rawHTML []byte) (Result, error)
}

// articleSelectors are tried in order; the first selector yielding text wins.
// The bare paragraph selector is the generic fallback.
var articleSelectors = []string{
	"article p",
	"main p",
	"div[itemprop=articleBody] p",
	"p",
}

// HTML extracts with CSS selectors and falls back to readability when the
// selector pass yields nothing usable.
type HTML struct{}

// NewHTML creates the generic HTML extractor.
func NewHTML() *HTML { return &HTML{} }

// Extract implements Extractor.
func (e *HTML) Extract(pageURL string, rawHTML []byte) (Result, error) {
	hash := ContentHash(rawHTML)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawHTML))
	if err != nil {
		return Result{}, fmt.Errorf("%w: parse html: %v", ragerr.ErrParse, err)
	}

	var heading *string
	if h := strings.TrimSpace(doc.Find("h1").First().Text()); h != "" {
		heading = &h
	}

	for _, sel := range articleSelectors {
		var parts []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimSpace(s.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		if len(parts) > 0 {
			return Result{
				TextClean:   strings.Join(parts, "\n"),
				HeadingPath: heading,
				ContentHash: hash,
			}, nil
		}
	}

	// Selector pass found nothing; let readability take a shot at pages
	// that render text outside paragraph tags.
	text, err := readabilityText(pageURL, rawHTML)
	if err != nil {
		return Result{}, err
	}
	return Result{TextClean: text, HeadingPath: heading, ContentHash: hash}, nil
}

func readabilityText(pageURL string, rawHTML []byte) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(bytes.NewReader(rawHTML), u)
	if err != nil {
		return "", fmt.Errorf("%w: readability: %v", ragerr.ErrParse, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("%w: no extractable text", ragerr.ErrParse)
	}
	return text, nil
}

// ContentHash is the md5 hex digest of the raw response body. It changes
// across re-fetches iff the bytes changed.
func ContentHash(raw []byte) string {
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}
