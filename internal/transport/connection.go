// Package transport talks HTTP to an Elasticsearch-compatible cluster. A
// Connection holds the node registry, picks one node at random when it is
// opened and sends every request to that node until it is closed.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "application/x-ndjson"
	userAgent         = "esquery"
)

// Options configures a Connection.
type Options struct {
	Nodes []Node
	// Auth is used for every node without its own override.
	Auth *Credentials
	// DefaultProtocol applies to nodes without a protocol and to all
	// discovered nodes. Defaults to http.
	DefaultProtocol string
	// AutodetectCluster replaces Nodes with the cluster's live HTTP members
	// on Open, using the first configured node as the seed.
	AutodetectCluster bool

	ConnectTimeout time.Duration
	DataTimeout    time.Duration
	TLS            *tls.Config

	// Pick returns an index in [0, n). Defaults to a uniform random choice.
	Pick func(n int) int
}

// Connection is a lazily opened connection to one cluster node. It is not
// safe for concurrent use.
type Connection struct {
	opts   Options
	seeds  []Node
	nodes  []Node
	active int
	client *http.Client
}

// New validates opts and returns a closed connection.
func New(opts Options) (*Connection, error) {
	if opts.DefaultProtocol == "" {
		opts.DefaultProtocol = ProtocolHTTP
	}
	opts.DefaultProtocol = strings.ToLower(opts.DefaultProtocol)
	if opts.DefaultProtocol != ProtocolHTTP && opts.DefaultProtocol != ProtocolHTTPS {
		return nil, &ConfigError{Reason: fmt.Sprintf("default protocol must be http or https, got %q", opts.DefaultProtocol)}
	}
	if len(opts.Nodes) == 0 {
		return nil, &ConfigError{Reason: "at least one node is required"}
	}
	if err := opts.Auth.validate("connection"); err != nil {
		return nil, err
	}

	seeds := make([]Node, 0, len(opts.Nodes))
	for _, n := range opts.Nodes {
		normalized, err := n.normalize(opts.DefaultProtocol)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, normalized)
	}
	if opts.Pick == nil {
		opts.Pick = rand.IntN
	}
	return &Connection{opts: opts, seeds: seeds, active: -1}, nil
}

// IsActive reports whether the connection is open.
func (c *Connection) IsActive() bool {
	return c.active >= 0
}

// ActiveNode returns the node requests are sent to.
func (c *Connection) ActiveNode() (Node, bool) {
	if c.active < 0 {
		return Node{}, false
	}
	return c.nodes[c.active], true
}

// Nodes returns the node registry. Before Open it is the configured list.
func (c *Connection) Nodes() []Node {
	if c.active < 0 {
		return slices.Clone(c.seeds)
	}
	return slices.Clone(c.nodes)
}

// Open discovers the cluster if configured and selects the active node.
// It is a no-op on an open connection.
func (c *Connection) Open(ctx context.Context) error {
	if c.active >= 0 {
		return nil
	}
	client := c.newHTTPClient()

	nodes := c.seeds
	if c.opts.AutodetectCluster {
		discovered, err := c.discover(ctx, client)
		if err != nil {
			client.CloseIdleConnections()
			return err
		}
		nodes = discovered
	}

	c.client = client
	c.nodes = nodes
	c.active = c.opts.Pick(len(nodes))
	slog.Info("opened elasticsearch connection",
		"nodes", len(nodes), "active_node", c.nodes[c.active].Host())
	return nil
}

// Close forgets the active node and releases idle HTTP connections. It is
// a no-op on a closed connection.
func (c *Connection) Close() error {
	if c.active < 0 {
		return nil
	}
	slog.Info("closing elasticsearch connection", "active_node", c.nodes[c.active].Host())
	c.active = -1
	c.nodes = nil
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	return nil
}

func (c *Connection) newHTTPClient() *http.Client {
	base, _ := http.DefaultTransport.(*http.Transport)
	var tr *http.Transport
	if base != nil {
		tr = base.Clone()
	} else {
		tr = &http.Transport{}
	}
	if c.opts.ConnectTimeout > 0 {
		dialer := &net.Dialer{Timeout: c.opts.ConnectTimeout, KeepAlive: 30 * time.Second}
		tr.DialContext = dialer.DialContext
	}
	if c.opts.TLS != nil {
		tr.TLSClientConfig = c.opts.TLS
	}
	return &http.Client{Transport: tr, Timeout: c.opts.DataTimeout}
}

type nodesInfo struct {
	Nodes map[string]struct {
		HTTP struct {
			PublishAddress string `json:"publish_address"`
		} `json:"http"`
	} `json:"nodes"`
}

func (c *Connection) discover(ctx context.Context, client *http.Client) ([]Node, error) {
	seed := c.seeds[0]
	seedURL := seed.BaseURL() + "/_nodes/_all/http"

	resp, err := c.do(ctx, client, seed, http.MethodGet, seedURL, nil, "")
	if err != nil {
		return nil, fmt.Errorf("autodetecting cluster nodes: %w", err)
	}
	var info nodesInfo
	if resp.Found() {
		if err := resp.Decode(&info); err != nil {
			return nil, fmt.Errorf("autodetecting cluster nodes: %w", err)
		}
	}

	ids := make([]string, 0, len(info.Nodes))
	for id := range info.Nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var nodes []Node
	for _, id := range ids {
		addr := info.Nodes[id].HTTP.PublishAddress
		if addr == "" {
			slog.Debug("skipping node without http publish address", "node", id)
			continue
		}
		nodes = append(nodes, Node{
			Address:  Node{Address: addr}.Host(),
			Protocol: c.opts.DefaultProtocol,
		})
	}
	if len(nodes) == 0 {
		return nil, &ClusterUnavailableError{Seed: seed.Host()}
	}
	return nodes, nil
}

// Get performs a GET request against the active node.
func (c *Connection) Get(ctx context.Context, path []string, params url.Values, body []byte) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, params, body)
}

// Head reports whether the resource exists. A 404 yields false.
func (c *Connection) Head(ctx context.Context, path []string, params url.Values) (bool, error) {
	resp, err := c.Request(ctx, http.MethodHead, path, params, nil)
	if err != nil {
		return false, err
	}
	return resp.Found(), nil
}

// Post performs a POST request with a JSON body.
func (c *Connection) Post(ctx context.Context, path []string, params url.Values, body []byte) (*Response, error) {
	return c.Request(ctx, http.MethodPost, path, params, body)
}

// PostNDJSON performs a POST request with a newline-delimited JSON body.
func (c *Connection) PostNDJSON(ctx context.Context, path []string, params url.Values, body []byte) (*Response, error) {
	return c.send(ctx, http.MethodPost, path, params, body, contentTypeNDJSON)
}

// Put performs a PUT request with a JSON body.
func (c *Connection) Put(ctx context.Context, path []string, params url.Values, body []byte) (*Response, error) {
	return c.Request(ctx, http.MethodPut, path, params, body)
}

// Delete performs a DELETE request.
func (c *Connection) Delete(ctx context.Context, path []string, params url.Values, body []byte) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, path, params, body)
}

// Request performs a request with a JSON body, opening the connection first
// if needed.
func (c *Connection) Request(ctx context.Context, method string, path []string, params url.Values, body []byte) (*Response, error) {
	return c.send(ctx, method, path, params, body, contentTypeJSON)
}

func (c *Connection) send(ctx context.Context, method string, path []string, params url.Values, body []byte, contentType string) (*Response, error) {
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	node := c.nodes[c.active]
	return c.do(ctx, c.client, node, method, node.BaseURL()+"/"+buildPath(path, params), body, contentType)
}

// URL returns the URL a request with the given path and params would use.
func (c *Connection) URL(path []string, params url.Values) (string, error) {
	node, ok := c.ActiveNode()
	if !ok {
		return "", errors.New("connection is not open")
	}
	return node.BaseURL() + "/" + buildPath(path, params), nil
}

func buildPath(path []string, params url.Values) string {
	segments := make([]string, 0, len(path))
	for _, s := range path {
		if s == "" {
			continue
		}
		segments = append(segments, url.PathEscape(s))
	}
	p := strings.Join(segments, "/")
	if len(params) > 0 {
		p += "?" + params.Encode()
	}
	return p
}

// List joins several values, such as index names, into one path segment.
func List(values ...string) string {
	return strings.Join(values, ",")
}

func (c *Connection) do(ctx context.Context, client *http.Client, node Node, method, rawURL string, body []byte, contentType string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", method, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.setAuth(req, node)

	slog.Debug("sending elasticsearch request", "method", method, "url", rawURL, "body_bytes", len(body))
	start := time.Now()

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	slog.Debug("elasticsearch response", "method", method, "url", rawURL,
		"status", resp.StatusCode, "took", time.Since(start))

	return classify(method, rawURL, body, resp, respBody, readErr)
}

func (c *Connection) setAuth(req *http.Request, node Node) {
	auth := c.opts.Auth
	if node.Auth != nil {
		auth = node.Auth
	}
	if auth == nil || auth.disabled() {
		return
	}
	req.SetBasicAuth(auth.Username, auth.Password)
}

func classify(method, rawURL string, reqBody []byte, resp *http.Response, body []byte, readErr error) (*Response, error) {
	incomplete := func() error {
		return &IncompleteResponseError{Method: method, URL: rawURL, Received: len(body), Expected: resp.ContentLength}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if method == http.MethodHead {
			return &Response{StatusCode: resp.StatusCode, Header: resp.Header}, nil
		}
		if readErr != nil {
			if errors.Is(readErr, io.ErrUnexpectedEOF) {
				return nil, incomplete()
			}
			return nil, &TransportError{Method: method, URL: rawURL, Err: readErr}
		}
		if resp.ContentLength > 0 && int64(len(body)) < resp.ContentLength {
			return nil, incomplete()
		}
		ct := resp.Header.Get("Content-Type")
		switch {
		case strings.HasPrefix(ct, contentTypeJSON):
			if len(body) > 0 && !json.Valid(body) {
				return nil, &MalformedResponseError{Method: method, URL: rawURL, Body: body, Err: errors.New("invalid json")}
			}
		case strings.HasPrefix(ct, "text/plain"):
		default:
			return nil, &UnsupportedResponseError{
				Method: method, URL: rawURL, StatusCode: resp.StatusCode, ContentType: ct, Body: body,
			}
		}
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil

	case resp.StatusCode == http.StatusNotFound:
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil

	default:
		if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			return nil, &TransportError{Method: method, URL: rawURL, Err: readErr}
		}
		failed := &RequestFailedError{
			Method:      method,
			URL:         rawURL,
			RequestBody: string(reqBody),
			StatusCode:  resp.StatusCode,
			Header:      resp.Header,
			Body:        body,
		}
		var decoded any
		if len(body) > 0 && json.Unmarshal(body, &decoded) == nil {
			failed.Decoded = decoded
		}
		slog.Debug("elasticsearch request failed", "method", method, "url", rawURL,
			"status", resp.StatusCode, "reason", failed.Reason())
		return nil, failed
	}
}
