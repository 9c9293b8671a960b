package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/leonunix/esquery/internal/transport"
)

// Bulk accumulates bulk actions. Index and Type are the endpoint defaults
// for actions that do not name their own index.
type Bulk struct {
	Index   string
	Type    string
	Options url.Values

	cmd     *Command
	lines   []any
	actions int
}

// NewBulk returns an empty batch targeting the given defaults.
func (c *Command) NewBulk(index, typ string) *Bulk {
	return &Bulk{Index: index, Type: typ, cmd: c}
}

// Len returns the number of actions in the batch.
func (b *Bulk) Len() int { return b.actions }

// AddAction appends a raw action header and an optional body line.
func (b *Bulk) AddAction(header any, body any) {
	b.lines = append(b.lines, header)
	if body != nil {
		b.lines = append(b.lines, body)
	}
	b.actions++
}

func (b *Bulk) meta(index, id string) map[string]any {
	m := map[string]any{}
	if index != "" {
		m["_index"] = index
	}
	if id != "" {
		m["_id"] = id
	}
	if b.Type != "" && !b.cmd.typeless() {
		m["_type"] = b.Type
	}
	return m
}

// AddIndex appends an index action. Empty index and id fall back to the
// endpoint default and an engine-assigned id.
func (b *Bulk) AddIndex(index, id string, doc any) {
	b.AddAction(map[string]any{"index": b.meta(index, id)}, rawDoc(doc))
}

// AddCreate appends a create action, which fails per item if the id exists.
func (b *Bulk) AddCreate(index, id string, doc any) {
	b.AddAction(map[string]any{"create": b.meta(index, id)}, rawDoc(doc))
}

// AddUpdate appends a partial-document update.
func (b *Bulk) AddUpdate(index, id string, partial any) {
	b.AddAction(map[string]any{"update": b.meta(index, id)}, map[string]any{"doc": partial})
}

// AddDelete appends a delete action.
func (b *Bulk) AddDelete(index, id string) {
	b.AddAction(map[string]any{"delete": b.meta(index, id)}, nil)
}

func rawDoc(doc any) any {
	switch d := doc.(type) {
	case nil:
		return map[string]any{}
	case []byte:
		return json.RawMessage(d)
	}
	return doc
}

// Endpoint returns the bulk path for the batch defaults.
func (b *Bulk) Endpoint() ([]string, error) {
	switch {
	case b.Index == "" && b.Type == "":
		return []string{"_bulk"}, nil
	case b.Index == "":
		return nil, &transport.ConfigError{Reason: "bulk endpoint: type is set but index is not"}
	case b.Type == "" || b.cmd.typeless():
		return []string{b.Index, "_bulk"}, nil
	default:
		return []string{b.Index, b.Type, "_bulk"}, nil
	}
}

// Encode renders the batch as newline-delimited JSON, one compact line per
// header or body.
func (b *Bulk) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, line := range b.lines {
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("encoding bulk line %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Execute sends the batch. Per-item failures are reported in the result,
// not as an error.
func (b *Bulk) Execute(ctx context.Context) (*BulkResult, error) {
	endpoint, err := b.Endpoint()
	if err != nil {
		return nil, err
	}
	if b.actions == 0 {
		return nil, ErrEmptyBulk
	}
	body, err := b.Encode()
	if err != nil {
		return nil, err
	}

	resp, err := b.cmd.conn.PostNDJSON(ctx, endpoint, b.Options, body)
	if err != nil {
		return nil, fmt.Errorf("executing bulk request: %w", err)
	}
	if !resp.Found() {
		return nil, fmt.Errorf("executing bulk request: %w", ErrNotFound)
	}

	var result BulkResult
	if err := resp.Decode(&result); err != nil {
		return nil, fmt.Errorf("executing bulk request: %w", err)
	}
	if result.Errors {
		slog.Warn("bulk request had item failures", "actions", b.actions, "failed", result.Failed())
	}
	return &result, nil
}

// BulkResult is the bulk response.
type BulkResult struct {
	Took   int                   `json:"took"`
	Errors bool                  `json:"errors"`
	Items  []map[string]BulkItem `json:"items"`
}

// BulkItem is the outcome of one action.
type BulkItem struct {
	Index   string          `json:"_index"`
	ID      string          `json:"_id"`
	Version int64           `json:"_version"`
	Result  string          `json:"result"`
	Status  int             `json:"status"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Failed counts items that carry an error.
func (r *BulkResult) Failed() int {
	return len(r.FailedItems())
}

// FailedItems returns the items that carry an error.
func (r *BulkResult) FailedItems() []BulkItem {
	var failed []BulkItem
	for _, item := range r.Items {
		for _, outcome := range item {
			if len(outcome.Error) > 0 {
				failed = append(failed, outcome)
			}
		}
	}
	return failed
}
