package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leonunix/esquery/internal/query"
	"github.com/leonunix/esquery/internal/transport"
)

// MultiSearchItem is one response of a multi-search. Error is set when that
// search failed; the others are unaffected.
type MultiSearchItem struct {
	SearchResult
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// MultiSearch runs several built requests in one round trip. Responses come
// back in request order.
func (c *Command) MultiSearch(ctx context.Context, reqs []*query.Request) ([]MultiSearchItem, error) {
	if len(reqs) == 0 {
		return nil, errors.New("multi-search needs at least one request")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, req := range reqs {
		header := map[string]any{}
		if len(req.Index) > 0 {
			header["index"] = transport.List(req.Index...)
		}
		if len(req.Type) > 0 && !c.typeless() {
			header["type"] = transport.List(req.Type...)
		}
		parts := req.Parts
		if parts == nil {
			parts = map[string]any{}
		}
		if err := enc.Encode(header); err != nil {
			return nil, fmt.Errorf("encoding msearch header %d: %w", i, err)
		}
		if err := enc.Encode(parts); err != nil {
			return nil, fmt.Errorf("encoding msearch body %d: %w", i, err)
		}
	}

	resp, err := c.conn.PostNDJSON(ctx, []string{"_msearch"}, nil, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("executing multi-search: %w", err)
	}
	if !resp.Found() {
		return nil, fmt.Errorf("executing multi-search: %w", ErrNotFound)
	}

	var result struct {
		Responses []MultiSearchItem `json:"responses"`
	}
	if err := resp.Decode(&result); err != nil {
		return nil, fmt.Errorf("executing multi-search: %w", err)
	}
	return result.Responses, nil
}
