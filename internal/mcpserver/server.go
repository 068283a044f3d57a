// Package mcpserver exposes the pipeline over the Model Context Protocol:
// feed management and semantic query as MCP tools on stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ragline/ragline/internal/retriever"
	"github.com/ragline/ragline/internal/store"
)

// EncoderFactory builds the query embedder on first use, so starting the
// server does not pay for the model load until a query arrives.
type EncoderFactory func(ctx context.Context) (retriever.QueryEmbedder, error)

// Config wires the server.
type Config struct {
	Name      string
	Version   string
	Store     *store.Store
	Retriever *retriever.Retriever
	Encoder   EncoderFactory
	Logger    *slog.Logger
}

// Server wraps the MCP SDK server.
type Server struct {
	mcpServer *mcp.Server
	cfg       Config

	encOnce sync.Once
	enc     retriever.QueryEmbedder
	encErr  error
}

// NewServer creates the MCP server and registers the tool catalog.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" || cfg.Version == "" {
		return nil, fmt.Errorf("server name and version are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		cfg: cfg,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on the given transport until the context ends.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

type feedAddInput struct {
	URL    string `json:"url" jsonschema:"the RSS feed URL to subscribe"`
	Name   string `json:"name,omitempty" jsonschema:"optional display name"`
	Active *bool  `json:"active,omitempty" jsonschema:"subscribe as active (default true)"`
}

type feedLsInput struct {
	ActiveOnly bool `json:"active_only,omitempty" jsonschema:"list only active feeds"`
}

type queryRunInput struct {
	Query  string `json:"query" jsonschema:"the question to search for"`
	TopN   int    `json:"top_n,omitempty" jsonschema:"documents to return (default 5)"`
	TopK   int    `json:"topk,omitempty" jsonschema:"candidate chunks from the index (default 50)"`
	DocCap int    `json:"doc_cap,omitempty" jsonschema:"max chunks per document (default 2)"`
	FeedID *int32 `json:"feed_id,omitempty" jsonschema:"restrict to one feed"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "feed_add",
		Description: "Subscribe an RSS feed to the retrieval corpus.",
	}, s.feedAdd)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "feed_ls",
		Description: "List subscribed RSS feeds.",
	}, s.feedLs)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "query_run",
		Description: "Semantic search over the ingested corpus; returns the closest chunks grouped by document.",
	}, s.queryRun)
}

func (s *Server) feedAdd(ctx context.Context, _ *mcp.CallToolRequest, in feedAddInput) (*mcp.CallToolResult, any, error) {
	if in.URL == "" {
		return errorResult("url is required"), nil, nil
	}
	var name *string
	if in.Name != "" {
		name = &in.Name
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	feed, err := s.cfg.Store.UpsertFeed(ctx, in.URL, name, active)
	if err != nil {
		return nil, nil, fmt.Errorf("upsert feed: %w", err)
	}
	return jsonResult(feed)
}

func (s *Server) feedLs(ctx context.Context, _ *mcp.CallToolRequest, in feedLsInput) (*mcp.CallToolResult, any, error) {
	var active *bool
	if in.ActiveOnly {
		t := true
		active = &t
	}
	feeds, err := s.cfg.Store.ListFeeds(ctx, active)
	if err != nil {
		return nil, nil, fmt.Errorf("list feeds: %w", err)
	}
	return jsonResult(feeds)
}

func (s *Server) queryRun(ctx context.Context, _ *mcp.CallToolRequest, in queryRunInput) (*mcp.CallToolResult, any, error) {
	if in.Query == "" {
		return errorResult("query is required"), nil, nil
	}

	s.encOnce.Do(func() {
		s.enc, s.encErr = s.cfg.Encoder(ctx)
	})
	if s.encErr != nil {
		return nil, nil, fmt.Errorf("load encoder: %w", s.encErr)
	}

	opts := retriever.DefaultOptions()
	opts.ShowContext = true
	if in.TopN > 0 {
		opts.TopN = in.TopN
	}
	if in.TopK > 0 {
		opts.TopK = in.TopK
	}
	if in.DocCap > 0 {
		opts.DocCap = in.DocCap
	}
	opts.FeedID = in.FeedID

	out, err := s.cfg.Retriever.Query(ctx, s.enc, in.Query, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	return jsonResult(out)
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(buf)}},
	}, nil, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
