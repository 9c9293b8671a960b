package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/leonunix/esquery/internal/transport"
)

const defaultType = "_doc"

// WriteOptions are URL options for single-document writes. Setting Version,
// IfSeqNo or OpType "create" makes the write conditional: a 409 from the
// engine is then reported as *StaleResourceError.
type WriteOptions struct {
	Version       *int64
	VersionType   string
	IfSeqNo       *int64
	IfPrimaryTerm *int64
	OpType        string
	Refresh       string
	Routing       string
	Timeout       string
	// DetectNoop is only sent with updates.
	DetectNoop *bool
}

func (o WriteOptions) conditional() bool {
	return o.Version != nil || o.IfSeqNo != nil || o.OpType == "create"
}

func (o WriteOptions) params() url.Values {
	params := url.Values{}
	if o.Version != nil {
		params.Set("version", strconv.FormatInt(*o.Version, 10))
	}
	if o.VersionType != "" {
		params.Set("version_type", o.VersionType)
	}
	if o.IfSeqNo != nil {
		params.Set("if_seq_no", strconv.FormatInt(*o.IfSeqNo, 10))
	}
	if o.IfPrimaryTerm != nil {
		params.Set("if_primary_term", strconv.FormatInt(*o.IfPrimaryTerm, 10))
	}
	if o.OpType != "" {
		params.Set("op_type", o.OpType)
	}
	if o.Refresh != "" {
		params.Set("refresh", o.Refresh)
	}
	if o.Routing != "" {
		params.Set("routing", o.Routing)
	}
	if o.Timeout != "" {
		params.Set("timeout", o.Timeout)
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

func (c *Command) docPath(index, typ string, tail ...string) []string {
	if c.typeless() || typ == "" {
		typ = defaultType
	}
	return append([]string{index, typ}, tail...)
}

// Get fetches one document. A missing document is returned with Found false.
func (c *Command) Get(ctx context.Context, index, typ, id string, params url.Values) (*Document, error) {
	resp, err := c.conn.Request(ctx, http.MethodGet, c.docPath(index, typ, id), params, nil)
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s: %w", index, id, err)
	}
	if !resp.Found() {
		return &Document{Index: index, ID: id}, nil
	}
	var doc Document
	if err := resp.Decode(&doc); err != nil {
		return nil, fmt.Errorf("getting %s/%s: %w", index, id, err)
	}
	return &doc, nil
}

// Mget fetches several documents by id, in the order requested.
func (c *Command) Mget(ctx context.Context, index, typ string, ids []string, params url.Values) ([]Document, error) {
	body, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("marshaling mget body: %w", err)
	}
	path := []string{index, "_mget"}
	if typ != "" && !c.typeless() {
		path = []string{index, typ, "_mget"}
	}
	resp, err := c.conn.Request(ctx, http.MethodPost, path, params, body)
	if err != nil {
		return nil, fmt.Errorf("mget on %s: %w", index, err)
	}
	if !resp.Found() {
		return nil, fmt.Errorf("mget on %s: %w", index, ErrNotFound)
	}
	var result struct {
		Docs []Document `json:"docs"`
	}
	if err := resp.Decode(&result); err != nil {
		return nil, fmt.Errorf("mget on %s: %w", index, err)
	}
	return result.Docs, nil
}

// Exists reports whether a document exists.
func (c *Command) Exists(ctx context.Context, index, typ, id string) (bool, error) {
	resp, err := c.conn.Request(ctx, http.MethodHead, c.docPath(index, typ, id), nil, nil)
	if err != nil {
		return false, fmt.Errorf("checking %s/%s: %w", index, id, err)
	}
	return resp.Found(), nil
}

// Insert indexes doc. With an empty id the engine assigns one.
func (c *Command) Insert(ctx context.Context, index, typ, id string, doc any, opts WriteOptions) (*WriteResult, error) {
	body, err := marshalDoc(doc)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return c.write(ctx, http.MethodPost, c.docPath(index, typ), opts, body, index, id)
	}
	return c.write(ctx, http.MethodPut, c.docPath(index, typ, id), opts, body, index, id)
}

// Update applies a partial document.
func (c *Command) Update(ctx context.Context, index, typ, id string, partial any, opts WriteOptions) (*WriteResult, error) {
	if partial == nil {
		partial = map[string]any{}
	}
	payload := map[string]any{"doc": partial}
	if opts.DetectNoop != nil {
		payload["detect_noop"] = *opts.DetectNoop
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling update body: %w", err)
	}

	path := []string{index, "_update", id}
	if !c.typeless() {
		path = c.docPath(index, typ, id, "_update")
	}
	return c.write(ctx, http.MethodPost, path, opts, body, index, id)
}

// Delete removes one document. A missing document is returned with Found
// false.
func (c *Command) Delete(ctx context.Context, index, typ, id string, opts WriteOptions) (*WriteResult, error) {
	return c.write(ctx, http.MethodDelete, c.docPath(index, typ, id), opts, nil, index, id)
}

func (c *Command) write(ctx context.Context, method string, path []string, opts WriteOptions, body []byte, index, id string) (*WriteResult, error) {
	resp, err := c.conn.Request(ctx, method, path, opts.params(), body)
	if err != nil {
		if opts.conditional() && transport.IsStatus(err, http.StatusConflict) {
			return nil, &StaleResourceError{Index: index, ID: id, Err: err}
		}
		return nil, fmt.Errorf("writing %s/%s: %w", index, id, err)
	}

	result := WriteResult{Index: index, ID: id}
	if len(resp.Body) > 0 {
		if err := resp.Decode(&result); err != nil {
			return nil, fmt.Errorf("writing %s/%s: %w", index, id, err)
		}
	}
	result.Found = resp.Found()
	return &result, nil
}

func marshalDoc(doc any) ([]byte, error) {
	switch d := doc.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		return d, nil
	case []byte:
		return d, nil
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling document: %w", err)
	}
	return body, nil
}
