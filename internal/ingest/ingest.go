// Package ingest fetches RSS feeds, resolves articles, extracts clean text,
// and upserts documents. It never writes chunks or embeddings.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ragline/ragline/internal/extract"
	"github.com/ragline/ragline/internal/ragerr"
	"github.com/ragline/ragline/internal/store"
)

// Store is the slice of the document store the ingestor depends on.
// Interfaces are defined by the consumer, not the provider.
type Store interface {
	SelectFeeds(ctx context.Context, feedID *int32, feedURL *string) ([]store.Feed, error)
	ExistingSourceURLs(ctx context.Context, urls []string) (map[string]bool, error)
	InsertDocument(ctx context.Context, d store.DocUpsert) (bool, error)
	UpsertDocument(ctx context.Context, d store.DocUpsert) (bool, error)
	DocumentConditional(ctx context.Context, sourceURL string) (etag, lastMod, hash *string, found bool, err error)
	MarkDocumentError(ctx context.Context, sourceURL, msg string) error
}

// Options selects feeds and controls the run.
type Options struct {
	FeedID       *int32
	FeedURL      *string
	Limit        int // max items per feed
	PlanLimit    int // sample rows shown in plan previews
	Concurrency  int // parallel article fetches per feed
	ForceRefetch bool
}

// DefaultOptions mirror the CLI defaults.
func DefaultOptions() Options {
	return Options{Limit: 200, PlanLimit: 10, Concurrency: 2}
}

// FeedSample previews one feed in the plan envelope.
type FeedSample struct {
	FeedID int32   `json:"feed_id"`
	URL    string  `json:"url"`
	Name   *string `json:"name,omitempty"`
}

// Plan is the no-write preview of an ingest run.
type Plan struct {
	Feeds       int          `json:"feeds"`
	Mode        string       `json:"mode"` // insert-only | upsert
	Limit       int          `json:"limit"`
	SampleFeeds []FeedSample `json:"sample_feeds"`
}

// FeedSummary counts one feed's outcomes.
type FeedSummary struct {
	FeedID   int32 `json:"feed_id"`
	Inserted int   `json:"inserted"`
	Updated  int   `json:"updated"`
	Skipped  int   `json:"skipped"`
	Errors   int   `json:"errors"`
}

// Totals aggregates all feeds.
type Totals struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Result is the apply-mode outcome.
type Result struct {
	Totals  Totals        `json:"totals"`
	PerFeed []FeedSummary `json:"per_feed"`
}

// Ingestor drives the RSS → document path.
type Ingestor struct {
	store     Store
	extractor extract.Extractor
	client    *http.Client
	parser    *gofeed.Parser
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates an Ingestor. A nil client gets a 20 second timeout; a nil
// extractor gets the generic HTML extractor.
func New(st Store, ex extract.Extractor, client *http.Client, logger *slog.Logger) *Ingestor {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if ex == nil {
		ex = extract.NewHTML()
	}
	if logger == nil {
		logger = slog.Default()
	}
	parser := gofeed.NewParser()
	parser.Client = client
	return &Ingestor{
		store:     st,
		extractor: ex,
		client:    client,
		parser:    parser,
		// Article fetches across all workers share one polite limiter.
		limiter: rate.NewLimiter(rate.Limit(4), 2),
		logger:  logger,
	}
}

// BuildPlan resolves the feed selection and previews the run without any
// network traffic or writes.
func (ing *Ingestor) BuildPlan(ctx context.Context, opts Options) (Plan, error) {
	feeds, err := ing.store.SelectFeeds(ctx, opts.FeedID, opts.FeedURL)
	if err != nil {
		return Plan{}, err
	}
	mode := "insert-only"
	if opts.ForceRefetch {
		mode = "upsert"
	}
	plan := Plan{Feeds: len(feeds), Mode: mode, Limit: opts.Limit}
	for _, f := range feeds {
		if len(plan.SampleFeeds) >= opts.PlanLimit {
			break
		}
		plan.SampleFeeds = append(plan.SampleFeeds, FeedSample{FeedID: f.FeedID, URL: f.URL, Name: f.Name})
	}
	return plan, nil
}

// Run executes the ingest across the selected feeds. Per-item io/parse
// failures are counted and the run continues; store failures abort.
func (ing *Ingestor) Run(ctx context.Context, opts Options) (Result, error) {
	feeds, err := ing.store.SelectFeeds(ctx, opts.FeedID, opts.FeedURL)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, f := range feeds {
		summary, err := ing.runFeed(ctx, f, opts)
		if err != nil {
			if ragerr.Fatal(err) || ctx.Err() != nil {
				return res, err
			}
			// Feed-level fetch/parse failure: count and move on.
			ing.logger.Warn("feed failed", "feed_id", f.FeedID, "url", f.URL,
				"error", err, "error_kind", ragerr.Kind(err))
			summary.Errors++
		}
		res.PerFeed = append(res.PerFeed, summary)
		res.Totals.Inserted += summary.Inserted
		res.Totals.Updated += summary.Updated
		res.Totals.Skipped += summary.Skipped
		res.Totals.Errors += summary.Errors
	}
	return res, nil
}

// item is one RSS entry scheduled for fetching.
type item struct {
	link        string
	title       *string
	publishedAt *time.Time
}

func (ing *Ingestor) runFeed(ctx context.Context, f store.Feed, opts Options) (FeedSummary, error) {
	summary := FeedSummary{FeedID: f.FeedID}

	feed, err := ing.parser.ParseURLWithContext(f.URL, ctx)
	if err != nil {
		return summary, fmt.Errorf("%w: fetch feed %s: %v", ragerr.ErrIO, f.URL, err)
	}

	var items []item
	for _, it := range feed.Items {
		if len(items) >= opts.Limit {
			break
		}
		if it.Link == "" {
			summary.Skipped++
			continue
		}
		entry := item{link: it.Link, publishedAt: it.PublishedParsed}
		if it.Title != "" {
			title := it.Title
			entry.title = &title
		}
		items = append(items, entry)
	}

	// Insert-only mode never refetches known articles; drop them before
	// spending network time.
	if !opts.ForceRefetch {
		urls := make([]string, len(items))
		for i, it := range items {
			urls[i] = it.link
		}
		known, err := ing.store.ExistingSourceURLs(ctx, urls)
		if err != nil {
			return summary, err
		}
		fresh := items[:0]
		for _, it := range items {
			if known[it.link] {
				summary.Skipped++
				continue
			}
			fresh = append(fresh, it)
		}
		items = fresh
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	g.SetLimit(concurrency)

	for _, it := range items {
		g.Go(func() error {
			outcome, err := ing.processItem(gctx, f.FeedID, it, opts.ForceRefetch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ragerr.Fatal(err) || gctx.Err() != nil {
					return err
				}
				summary.Errors++
				ing.logger.Warn("item failed", "url", it.link,
					"error", err, "error_kind", ragerr.Kind(err))
				return nil
			}
			switch outcome {
			case outcomeInserted:
				summary.Inserted++
			case outcomeUpdated:
				summary.Updated++
			case outcomeSkipped:
				summary.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

type outcome int

const (
	outcomeInserted outcome = iota
	outcomeUpdated
	outcomeSkipped
)

func (ing *Ingestor) processItem(ctx context.Context, feedID int32, it item, refetch bool) (outcome, error) {
	var condETag, condLastMod *string
	if refetch {
		etag, lastMod, _, found, err := ing.store.DocumentConditional(ctx, it.link)
		if err != nil {
			return outcomeSkipped, err
		}
		if found {
			condETag, condLastMod = etag, lastMod
		}
	}

	raw, decoded, etag, lastMod, notModified, err := ing.fetchArticle(ctx, it.link, condETag, condLastMod)
	if err != nil {
		if refetch {
			// The row may exist from an earlier run; record the failure on it.
			if markErr := ing.store.MarkDocumentError(ctx, it.link, err.Error()); markErr != nil {
				return outcomeSkipped, markErr
			}
		}
		return outcomeSkipped, err
	}
	if notModified {
		return outcomeSkipped, nil
	}

	doc := store.DocUpsert{
		FeedID:      &feedID,
		SourceURL:   it.link,
		SourceTitle: it.title,
		PublishedAt: it.publishedAt,
		ETag:        etag,
		LastMod:     lastMod,
		RawHTML:     raw,
	}

	extracted, exErr := ing.extractor.Extract(it.link, decoded)
	if exErr != nil {
		doc.Status = store.StatusError
		msg := exErr.Error()
		doc.ErrorMsg = &msg
		hash := extract.ContentHash(raw)
		doc.ContentHash = &hash
	} else {
		doc.Status = store.StatusIngested
		doc.TextClean = &extracted.TextClean
		doc.ContentHash = &extracted.ContentHash
	}

	if refetch {
		inserted, err := ing.store.UpsertDocument(ctx, doc)
		if err != nil {
			return outcomeSkipped, err
		}
		if exErr != nil {
			return outcomeSkipped, exErr
		}
		if inserted {
			return outcomeInserted, nil
		}
		return outcomeUpdated, nil
	}

	if exErr != nil {
		// Insert-only mode does not persist failures; the item is retried
		// on the next run.
		return outcomeSkipped, exErr
	}
	inserted, err := ing.store.InsertDocument(ctx, doc)
	if err != nil {
		return outcomeSkipped, err
	}
	if inserted {
		return outcomeInserted, nil
	}
	return outcomeSkipped, nil
}

// fetchArticle downloads one article, honoring the shared rate limiter and
// optional conditional headers. decoded is the body transcoded to UTF-8 for
// extraction; raw is stored and hashed as received.
func (ing *Ingestor) fetchArticle(ctx context.Context, link string, etag, lastMod *string) (raw, decoded []byte, respETag, respLastMod *string, notModified bool, err error) {
	if err := ing.limiter.Wait(ctx); err != nil {
		return nil, nil, nil, nil, false, fmt.Errorf("%w: %v", ragerr.ErrIO, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, nil, nil, nil, false, fmt.Errorf("%w: build request: %v", ragerr.ErrIO, err)
	}
	if etag != nil {
		req.Header.Set("If-None-Match", *etag)
	}
	if lastMod != nil {
		req.Header.Set("If-Modified-Since", *lastMod)
	}

	resp, err := ing.client.Do(req)
	if err != nil {
		return nil, nil, nil, nil, false, fmt.Errorf("%w: fetch %s: %v", ragerr.ErrIO, link, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		return nil, nil, nil, nil, true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, nil, nil, false, fmt.Errorf("%w: fetch %s: HTTP %d", ragerr.ErrIO, link, resp.StatusCode)
	}

	raw, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, nil, nil, false, fmt.Errorf("%w: read %s: %v", ragerr.ErrIO, link, err)
	}

	if v := resp.Header.Get("ETag"); v != "" {
		respETag = &v
	}
	if v := resp.Header.Get("Last-Modified"); v != "" {
		respLastMod = &v
	}

	decoded = raw
	if r, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type")); err == nil {
		if b, err := io.ReadAll(r); err == nil {
			decoded = b
		}
	}
	return raw, decoded, respETag, respLastMod, false, nil
}
