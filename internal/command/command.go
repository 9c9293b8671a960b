// Package command executes searches and document operations over a
// transport connection.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"

	"github.com/leonunix/esquery/internal/query"
	"github.com/leonunix/esquery/internal/transport"
)

// Transport is the part of *transport.Connection a Command needs.
type Transport interface {
	Request(ctx context.Context, method string, path []string, params url.Values, body []byte) (*transport.Response, error)
	PostNDJSON(ctx context.Context, path []string, params url.Values, body []byte) (*transport.Response, error)
}

var _ Transport = (*transport.Connection)(nil)

// Command runs requests for one engine version. Engines from 7.x on have no
// mapping types, so type segments are dropped from every path.
type Command struct {
	conn          Transport
	builder       *query.Builder
	engineVersion int
}

// New returns a Command. An engineVersion of 0 means "current" and behaves
// like 7.x or later.
func New(conn Transport, engineVersion int) *Command {
	return &Command{
		conn:          conn,
		builder:       query.NewBuilder(engineVersion),
		engineVersion: engineVersion,
	}
}

// Builder returns the request builder matching the engine version.
func (c *Command) Builder() *query.Builder {
	return c.builder
}

func (c *Command) typeless() bool {
	return c.engineVersion == 0 || c.engineVersion >= 7
}

func (c *Command) searchPath(index, types []string, endpoint string) []string {
	path := []string{"_all"}
	if len(index) > 0 {
		path[0] = transport.List(index...)
	}
	if len(types) > 0 && !c.typeless() {
		path = append(path, transport.List(types...))
	}
	return append(path, endpoint)
}

func optionParams(options map[string]string) url.Values {
	if len(options) == 0 {
		return nil
	}
	params := make(url.Values, len(options))
	for k, v := range options {
		params.Set(k, v)
	}
	return params
}

// requestParams merges per-call options over the request's own options.
// Later maps win.
func requestParams(base map[string]string, overrides []map[string]string) url.Values {
	merged := maps.Clone(base)
	for _, o := range overrides {
		if len(o) == 0 {
			continue
		}
		if merged == nil {
			merged = make(map[string]string, len(o))
		}
		maps.Copy(merged, o)
	}
	return optionParams(merged)
}

// Search executes a built request. Per-call options are added to the URL
// and override the request's options of the same name.
func (c *Command) Search(ctx context.Context, req *query.Request, opts ...map[string]string) (*SearchResult, error) {
	parts := req.Parts
	if parts == nil {
		parts = map[string]any{}
	}
	body, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("marshaling search body: %w", err)
	}

	path := c.searchPath(req.Index, req.Type, "_search")
	resp, err := c.conn.Request(ctx, http.MethodPost, path, requestParams(req.Options, opts), body)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", path[0], err)
	}
	if !resp.Found() {
		return nil, fmt.Errorf("searching %s: %w", path[0], ErrNotFound)
	}

	var result SearchResult
	if err := resp.Decode(&result); err != nil {
		return nil, fmt.Errorf("searching %s: %w", path[0], err)
	}
	return &result, nil
}

// Find builds q and executes it.
func (c *Command) Find(ctx context.Context, q *query.Query, opts ...map[string]string) (*SearchResult, error) {
	req, err := c.builder.Build(q)
	if err != nil {
		return nil, err
	}
	return c.Search(ctx, req, opts...)
}

// Scroll fetches the next page of a scroll context and extends it by window.
func (c *Command) Scroll(ctx context.Context, scrollID, window string) (*SearchResult, error) {
	body, err := json.Marshal(map[string]string{
		"scroll":    window,
		"scroll_id": scrollID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling scroll request: %w", err)
	}

	resp, err := c.conn.Request(ctx, http.MethodPost, []string{"_search", "scroll"}, nil, body)
	if err != nil {
		return nil, fmt.Errorf("continuing scroll: %w", err)
	}
	if !resp.Found() {
		return nil, fmt.Errorf("continuing scroll: %w", ErrNotFound)
	}

	var result SearchResult
	if err := resp.Decode(&result); err != nil {
		return nil, fmt.Errorf("continuing scroll: %w", err)
	}
	return &result, nil
}

// ClearScroll releases scroll contexts. Contexts that already expired are
// not an error.
func (c *Command) ClearScroll(ctx context.Context, scrollIDs ...string) error {
	if len(scrollIDs) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string][]string{"scroll_id": scrollIDs})
	if err != nil {
		return fmt.Errorf("marshaling clear scroll request: %w", err)
	}

	resp, err := c.conn.Request(ctx, http.MethodDelete, []string{"_search", "scroll"}, nil, body)
	if err != nil {
		return fmt.Errorf("clearing scroll: %w", err)
	}
	if !resp.Found() {
		slog.Debug("scroll context already gone", "scroll_ids", len(scrollIDs))
	}
	return nil
}

// Count returns the number of documents matching q.
func (c *Command) Count(ctx context.Context, q *query.Query, opts ...map[string]string) (int64, error) {
	counting := q.Clone()
	counting.Limit = 0
	counting.Offset = 0
	counting.OrderBy = nil
	counting.Aggregations = nil
	counting.Suggest = nil
	counting.Highlight = nil

	req, err := c.builder.Build(counting)
	if err != nil {
		return 0, err
	}
	if c.typeless() {
		opts = append([]map[string]string{{"track_total_hits": "true"}}, opts...)
	}

	result, err := c.Search(ctx, req, opts...)
	if err != nil {
		return 0, err
	}
	return result.Hits.Total.Value, nil
}

// DeleteByQuery deletes every document matching the request's query.
func (c *Command) DeleteByQuery(ctx context.Context, req *query.Request, opts ...map[string]string) (*ByQueryResult, error) {
	q, ok := req.Parts["query"]
	if !ok || q == nil {
		return nil, ErrMissingQuery
	}
	body, err := json.Marshal(map[string]any{"query": q})
	if err != nil {
		return nil, fmt.Errorf("marshaling delete_by_query body: %w", err)
	}

	path := c.searchPath(req.Index, req.Type, "_delete_by_query")
	resp, err := c.conn.Request(ctx, http.MethodPost, path, requestParams(req.Options, opts), body)
	if err != nil {
		return nil, fmt.Errorf("delete_by_query on %s: %w", path[0], err)
	}
	if !resp.Found() {
		return nil, fmt.Errorf("delete_by_query on %s: %w", path[0], ErrNotFound)
	}

	var result ByQueryResult
	if err := resp.Decode(&result); err != nil {
		return nil, fmt.Errorf("delete_by_query on %s: %w", path[0], err)
	}
	slog.Debug("delete_by_query finished", "index", path[0], "deleted", result.Deleted, "took_ms", result.Took)
	return &result, nil
}
