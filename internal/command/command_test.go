package command

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sync"
	"testing"

	"github.com/leonunix/esquery/internal/condition"
	"github.com/leonunix/esquery/internal/query"
	"github.com/leonunix/esquery/internal/transport"
)

type recorded struct {
	Method      string
	Path        string
	Query       url.Values
	ContentType string
	Body        string
}

// engine is a fake cluster that records requests and answers with reply.
type engine struct {
	mu       sync.Mutex
	requests []recorded
	reply    func(r recorded) (int, string)
}

func (e *engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec := recorded{
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       r.URL.Query(),
		ContentType: r.Header.Get("Content-Type"),
		Body:        string(body),
	}
	e.mu.Lock()
	e.requests = append(e.requests, rec)
	e.mu.Unlock()

	status, resp := http.StatusOK, `{}`
	if e.reply != nil {
		status, resp = e.reply(rec)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(resp))
}

func (e *engine) last(t *testing.T) recorded {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.requests) == 0 {
		t.Fatal("no requests recorded")
	}
	return e.requests[len(e.requests)-1]
}

func newTestCommand(t *testing.T, version int, reply func(r recorded) (int, string)) (*Command, *engine) {
	t.Helper()
	e := &engine{reply: reply}
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	conn, err := transport.New(transport.Options{Nodes: []transport.Node{{Address: srv.URL}}})
	if err != nil {
		t.Fatalf("transport.New() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return New(conn, version), e
}

func jsonEqual(t *testing.T, got, want string) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal([]byte(got), &g); err != nil {
		t.Fatalf("got is not json: %s", got)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("want is not json: %s", want)
	}
	if !reflect.DeepEqual(g, w) {
		t.Errorf("body = %s\nwant   %s", got, want)
	}
}

func TestSearch_PathBodyAndOptions(t *testing.T) {
	cmd, e := newTestCommand(t, 7, func(r recorded) (int, string) {
		return http.StatusOK, `{"took":3,"hits":{"total":{"value":2,"relation":"eq"},"hits":[
			{"_index":"logs","_id":"1","_source":{"msg":"a"}},
			{"_index":"logs","_id":"2","_source":{"msg":"b"}}
		]}}`
	})

	q := query.New("logs", "logs-old").Filter(condition.Hash{"level": "error"})
	q.Type = []string{"ignored"}
	q.Timeout = "2s"
	result, err := cmd.Find(context.Background(), q)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}

	req := e.last(t)
	if req.Method != http.MethodPost || req.Path != "/logs,logs-old/_search" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}
	if req.Query.Get("timeout") != "2s" {
		t.Errorf("timeout option = %q", req.Query.Get("timeout"))
	}
	jsonEqual(t, req.Body, `{"size":10,"query":{"constant_score":{"filter":{"bool":{"must":[{"term":{"level":"error"}}]}}}}}`)

	if result.Hits.Total.Value != 2 || len(result.Hits.Hits) != 2 {
		t.Fatalf("hits = %+v", result.Hits)
	}
	if v, ok := result.Hits.Hits[1].Value("msg"); !ok || v != "b" {
		t.Errorf("Value(msg) = %v, %v", v, ok)
	}
}

func TestSearch_CallOptionsOverrideQueryOptions(t *testing.T) {
	cmd, e := newTestCommand(t, 7, func(r recorded) (int, string) {
		if r.Path == "/logs/_delete_by_query" {
			return http.StatusOK, `{"deleted":0}`
		}
		return http.StatusOK, `{"hits":{"total":{"value":0},"hits":[]}}`
	})
	ctx := context.Background()

	q := query.New("logs").AddOptions(map[string]string{"routing": "a", "preference": "_local"})
	q.Timeout = "2s"
	if _, err := cmd.Find(ctx, q, map[string]string{"timeout": "5s", "routing": "b"}); err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	req := e.last(t)
	if got := req.Query.Get("timeout"); got != "5s" {
		t.Errorf("timeout = %q, want 5s", got)
	}
	if got := req.Query.Get("routing"); got != "b" {
		t.Errorf("routing = %q, want b", got)
	}
	if got := req.Query.Get("preference"); got != "_local" {
		t.Errorf("preference = %q, want _local", got)
	}
	if q.Options["routing"] != "a" || q.Timeout != "2s" {
		t.Error("call options must not modify the query")
	}

	built, err := cmd.Builder().Build(query.New("logs").Filter(condition.Hash{"status": "old"}))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, err := cmd.DeleteByQuery(ctx, built, map[string]string{"conflicts": "proceed"}); err != nil {
		t.Fatalf("DeleteByQuery() error = %v", err)
	}
	if got := e.last(t).Query.Get("conflicts"); got != "proceed" {
		t.Errorf("conflicts = %q, want proceed", got)
	}
	if built.Options != nil {
		t.Errorf("request options modified: %v", built.Options)
	}
}

func TestSearch_AllIndicesAndLegacyType(t *testing.T) {
	cmd, e := newTestCommand(t, 6, func(r recorded) (int, string) {
		return http.StatusOK, `{"hits":{"total":5,"hits":[]}}`
	})

	if _, err := cmd.Search(context.Background(), &query.Request{Type: []string{"event"}}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	req := e.last(t)
	if req.Path != "/_all/event/_search" {
		t.Errorf("path = %s, want /_all/event/_search", req.Path)
	}
	if req.Body != "{}" {
		t.Errorf("body = %s, want {}", req.Body)
	}
}

func TestSearch_NotFound(t *testing.T) {
	cmd, _ := newTestCommand(t, 7, func(r recorded) (int, string) {
		return http.StatusNotFound, `{"error":{"type":"index_not_found_exception"},"status":404}`
	})
	_, err := cmd.Search(context.Background(), &query.Request{Index: []string{"missing"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScrollAndClear(t *testing.T) {
	cmd, e := newTestCommand(t, 7, func(r recorded) (int, string) {
		if r.Method == http.MethodDelete {
			return http.StatusNotFound, `{"succeeded":true,"num_freed":0}`
		}
		return http.StatusOK, `{"_scroll_id":"next","hits":{"total":{"value":1},"hits":[{"_id":"x"}]}}`
	})
	ctx := context.Background()

	page, err := cmd.Scroll(ctx, "abc", "1m")
	if err != nil {
		t.Fatalf("Scroll() error = %v", err)
	}
	req := e.last(t)
	if req.Method != http.MethodPost || req.Path != "/_search/scroll" {
		t.Errorf("scroll request = %s %s", req.Method, req.Path)
	}
	jsonEqual(t, req.Body, `{"scroll":"1m","scroll_id":"abc"}`)
	if page.ScrollID != "next" {
		t.Errorf("ScrollID = %q", page.ScrollID)
	}

	if err := cmd.ClearScroll(ctx, "next"); err != nil {
		t.Fatalf("ClearScroll() on expired context error = %v", err)
	}
	req = e.last(t)
	if req.Method != http.MethodDelete || req.Path != "/_search/scroll" {
		t.Errorf("clear request = %s %s", req.Method, req.Path)
	}
	jsonEqual(t, req.Body, `{"scroll_id":["next"]}`)

	before := len(e.requests)
	if err := cmd.ClearScroll(ctx); err != nil {
		t.Fatalf("ClearScroll() without ids error = %v", err)
	}
	if len(e.requests) != before {
		t.Error("ClearScroll() without ids should not send a request")
	}
}

func TestCount(t *testing.T) {
	tests := []struct {
		name      string
		version   int
		response  string
		wantTrack bool
	}{
		{"object total", 7, `{"hits":{"total":{"value":42,"relation":"eq"},"hits":[]}}`, true},
		{"numeric total", 6, `{"hits":{"total":42,"hits":[]}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, e := newTestCommand(t, tt.version, func(r recorded) (int, string) {
				return http.StatusOK, tt.response
			})
			q := query.New("logs").AddOrderBy("ts", query.Desc)
			q.Offset = 20
			n, err := cmd.Count(context.Background(), q)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if n != 42 {
				t.Errorf("Count() = %d, want 42", n)
			}
			req := e.last(t)
			jsonEqual(t, req.Body, `{"size":0}`)
			if got := req.Query.Get("track_total_hits") == "true"; got != tt.wantTrack {
				t.Errorf("track_total_hits sent = %v, want %v", got, tt.wantTrack)
			}
			if q.Limit != query.DefaultLimit || q.Offset != 20 {
				t.Error("Count must not modify the query")
			}
		})
	}
}

func TestDeleteByQuery(t *testing.T) {
	cmd, e := newTestCommand(t, 7, func(r recorded) (int, string) {
		return http.StatusOK, `{"took":5,"total":3,"deleted":3,"failures":[]}`
	})
	ctx := context.Background()

	if _, err := cmd.DeleteByQuery(ctx, &query.Request{Index: []string{"logs"}, Parts: map[string]any{"size": 10}}); !errors.Is(err, ErrMissingQuery) {
		t.Fatalf("expected ErrMissingQuery, got %v", err)
	}

	req, err := cmd.Builder().Build(query.New("logs").Filter(condition.Compare(condition.OpLt, "ts", "now-30d")))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	result, err := cmd.DeleteByQuery(ctx, req)
	if err != nil {
		t.Fatalf("DeleteByQuery() error = %v", err)
	}
	if result.Deleted != 3 {
		t.Errorf("Deleted = %d, want 3", result.Deleted)
	}
	rec := e.last(t)
	if rec.Path != "/logs/_delete_by_query" {
		t.Errorf("path = %s", rec.Path)
	}
	jsonEqual(t, rec.Body, `{"query":{"constant_score":{"filter":{"range":{"ts":{"lt":"now-30d"}}}}}}`)
}

func TestMultiSearch(t *testing.T) {
	cmd, e := newTestCommand(t, 7, func(r recorded) (int, string) {
		return http.StatusOK, `{"responses":[
			{"hits":{"total":{"value":1},"hits":[{"_id":"a"}]},"status":200},
			{"error":{"type":"index_not_found_exception"},"status":404}
		]}`
	})

	reqs := []*query.Request{
		{Index: []string{"a"}, Parts: map[string]any{"size": 1}},
		{Index: []string{"b", "c"}},
	}
	items, err := cmd.MultiSearch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("MultiSearch() error = %v", err)
	}
	rec := e.last(t)
	if rec.Path != "/_msearch" || rec.ContentType != "application/x-ndjson" {
		t.Errorf("request = %s (%s)", rec.Path, rec.ContentType)
	}
	want := "{\"index\":\"a\"}\n{\"size\":1}\n{\"index\":\"b,c\"}\n{}\n"
	if rec.Body != want {
		t.Errorf("body = %q, want %q", rec.Body, want)
	}
	if len(items) != 2 || items[0].Hits.Hits[0].ID != "a" || items[1].Status != 404 || len(items[1].Error) == 0 {
		t.Errorf("items = %+v", items)
	}

	if _, err := cmd.MultiSearch(context.Background(), nil); err == nil {
		t.Error("expected error for empty multi-search")
	}
}
