package reindex

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/leonunix/esquery/internal/command"
	"github.com/leonunix/esquery/internal/transport"
)

type storedDoc struct {
	source json.RawMessage
	seqNo  int64
}

type scrollState struct {
	index string
	ids   []string
	docs  map[string]storedDoc
	pos   int
	size  int
}

// fakeCluster is an in-memory engine covering the endpoints the reindexer
// and the lock use. Search ignores the query but records every body.
type fakeCluster struct {
	mu          sync.Mutex
	indices     map[string]map[string]storedDoc
	noAutoIndex bool
	seq         int64
	scrolls     map[string]*scrollState
	nextScroll  int
	cleared     []string
	searches    []string
	deletes     []string
	failIDs     map[string]bool // bulk items that fail
	requests    []string
	// beforeDelete runs under the lock when a delete_by_query arrives.
	beforeDelete func()
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		indices: make(map[string]map[string]storedDoc),
		scrolls: make(map[string]*scrollState),
		failIDs: make(map[string]bool),
	}
}

func (f *fakeCluster) seed(index string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := f.index(index)
	for i := 1; i <= n; i++ {
		f.seq++
		docs[fmt.Sprintf("d%03d", i)] = storedDoc{source: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)), seqNo: f.seq}
	}
}

func (f *fakeCluster) index(name string) map[string]storedDoc {
	docs, ok := f.indices[name]
	if !ok {
		docs = make(map[string]storedDoc)
		f.indices[name] = docs
	}
	return docs
}

func (f *fakeCluster) docs(index string) map[string]storedDoc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indices[index]
}

func (f *fakeCluster) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requests)
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	status, resp := f.route(r, parts, body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(resp))
}

func (f *fakeCluster) route(r *http.Request, parts []string, body []byte) (int, string) {
	switch {
	case len(parts) == 2 && parts[0] == "_search" && parts[1] == "scroll":
		return f.scroll(r, body)
	case len(parts) == 2 && parts[1] == "_search":
		return f.search(parts[0], body)
	case len(parts) == 2 && parts[1] == "_bulk":
		return f.bulk(parts[0], body)
	case len(parts) == 2 && parts[1] == "_delete_by_query":
		return f.deleteByQuery(parts[0], body)
	case len(parts) == 3 && parts[1] == "_doc":
		return f.doc(r, parts[0], parts[2], body)
	}
	return http.StatusBadRequest, `{"error":"unexpected request"}`
}

// deleteByQuery removes the documents named by an ids clause in the query,
// or the whole index when there is none. Other clauses are ignored.
func (f *fakeCluster) deleteByQuery(index string, body []byte) (int, string) {
	f.deletes = append(f.deletes, string(body))
	if f.beforeDelete != nil {
		f.beforeDelete()
	}
	var req map[string]any
	json.Unmarshal(body, &req)

	docs := f.indices[index]
	ids, ok := findIDs(req["query"])
	if !ok {
		n := len(docs)
		delete(f.indices, index)
		return http.StatusOK, fmt.Sprintf(`{"took":1,"total":%d,"deleted":%d}`, n, n)
	}
	n := 0
	for _, id := range ids {
		if _, exists := docs[id]; exists {
			delete(docs, id)
			n++
		}
	}
	return http.StatusOK, fmt.Sprintf(`{"took":1,"total":%d,"deleted":%d}`, n, n)
}

func findIDs(v any) ([]string, bool) {
	switch t := v.(type) {
	case map[string]any:
		if clause, ok := t["ids"].(map[string]any); ok {
			var ids []string
			values, _ := clause["values"].([]any)
			for _, id := range values {
				ids = append(ids, fmt.Sprint(id))
			}
			return ids, true
		}
		for _, child := range t {
			if ids, ok := findIDs(child); ok {
				return ids, true
			}
		}
	case []any:
		for _, child := range t {
			if ids, ok := findIDs(child); ok {
				return ids, true
			}
		}
	}
	return nil, false
}

func (f *fakeCluster) search(index string, body []byte) (int, string) {
	f.searches = append(f.searches, string(body))
	docs, ok := f.indices[index]
	if !ok {
		return http.StatusNotFound, `{"error":{"type":"index_not_found_exception"},"status":404}`
	}
	var req struct {
		Size int `json:"size"`
	}
	json.Unmarshal(body, &req)

	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	st := &scrollState{index: index, ids: ids, docs: docs, size: req.Size}
	return http.StatusOK, f.nextPage(st)
}

func (f *fakeCluster) nextPage(st *scrollState) string {
	f.nextScroll++
	id := "scroll-" + strconv.Itoa(f.nextScroll)
	f.scrolls[id] = st

	end := min(st.pos+st.size, len(st.ids))
	hits := make([]map[string]any, 0, end-st.pos)
	for _, docID := range st.ids[st.pos:end] {
		hits = append(hits, map[string]any{"_index": st.index, "_id": docID, "_source": st.docs[docID].source})
	}
	st.pos = end

	out, _ := json.Marshal(map[string]any{
		"_scroll_id": id,
		"hits":       map[string]any{"total": map[string]any{"value": len(st.ids), "relation": "eq"}, "hits": hits},
	})
	return string(out)
}

func (f *fakeCluster) scroll(r *http.Request, body []byte) (int, string) {
	if r.Method == http.MethodDelete {
		var req struct {
			ScrollID []string `json:"scroll_id"`
		}
		json.Unmarshal(body, &req)
		for _, id := range req.ScrollID {
			f.cleared = append(f.cleared, id)
			delete(f.scrolls, id)
		}
		return http.StatusOK, `{"succeeded":true}`
	}

	var req struct {
		ScrollID string `json:"scroll_id"`
	}
	json.Unmarshal(body, &req)
	st, ok := f.scrolls[req.ScrollID]
	if !ok {
		return http.StatusNotFound, `{"error":{"type":"search_context_missing_exception"}}`
	}
	delete(f.scrolls, req.ScrollID)
	return http.StatusOK, f.nextPage(st)
}

func (f *fakeCluster) bulk(index string, body []byte) (int, string) {
	docs := f.index(index)
	var items []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		var header map[string]map[string]string
		if err := json.Unmarshal(sc.Bytes(), &header); err != nil {
			return http.StatusBadRequest, `{"error":"bad header"}`
		}
		meta := header["index"]
		if !sc.Scan() {
			return http.StatusBadRequest, `{"error":"missing body"}`
		}
		id := meta["_id"]
		if f.failIDs[id] {
			items = append(items, map[string]any{"index": map[string]any{
				"_index": index, "_id": id, "status": 400,
				"error": map[string]any{"type": "mapper_parsing_exception", "reason": "failed to parse"},
			}})
			continue
		}
		f.seq++
		docs[id] = storedDoc{source: json.RawMessage(slices.Clone(sc.Bytes())), seqNo: f.seq}
		items = append(items, map[string]any{"index": map[string]any{"_index": index, "_id": id, "status": 201, "result": "created"}})
	}
	failed := false
	for _, it := range items {
		if it["index"].(map[string]any)["status"] != 201 {
			failed = true
		}
	}
	out, _ := json.Marshal(map[string]any{"took": 1, "errors": failed, "items": items})
	return http.StatusOK, string(out)
}

func (f *fakeCluster) doc(r *http.Request, index, id string, body []byte) (int, string) {
	docs, exists := f.indices[index]
	q := r.URL.Query()

	switch r.Method {
	case http.MethodGet:
		d, ok := docs[id]
		if !ok {
			return http.StatusNotFound, fmt.Sprintf(`{"_index":%q,"_id":%q,"found":false}`, index, id)
		}
		return http.StatusOK, fmt.Sprintf(`{"_index":%q,"_id":%q,"_seq_no":%d,"_primary_term":1,"found":true,"_source":%s}`,
			index, id, d.seqNo, d.source)

	case http.MethodPut:
		if !exists {
			if f.noAutoIndex {
				return http.StatusNotFound, `{"error":{"type":"index_not_found_exception"},"status":404}`
			}
			docs = f.index(index)
		}
		if _, taken := docs[id]; taken && q.Get("op_type") == "create" {
			return http.StatusConflict, `{"error":{"type":"version_conflict_engine_exception","reason":"document already exists"},"status":409}`
		}
		f.seq++
		docs[id] = storedDoc{source: slices.Clone(body), seqNo: f.seq}
		return http.StatusCreated, fmt.Sprintf(`{"_index":%q,"_id":%q,"result":"created","_seq_no":%d,"_primary_term":1}`, index, id, f.seq)

	case http.MethodDelete:
		d, ok := docs[id]
		if !ok {
			return http.StatusNotFound, fmt.Sprintf(`{"_index":%q,"_id":%q,"result":"not_found"}`, index, id)
		}
		if s := q.Get("if_seq_no"); s != "" && s != strconv.FormatInt(d.seqNo, 10) {
			return http.StatusConflict, `{"error":{"type":"version_conflict_engine_exception"},"status":409}`
		}
		delete(docs, id)
		return http.StatusOK, fmt.Sprintf(`{"_index":%q,"_id":%q,"result":"deleted"}`, index, id)
	}
	return http.StatusMethodNotAllowed, `{"error":"method not allowed"}`
}

func newTestCommand(t *testing.T, cluster http.Handler) *command.Command {
	t.Helper()
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	conn, err := transport.New(transport.Options{Nodes: []transport.Node{{Address: srv.URL}}})
	if err != nil {
		t.Fatalf("transport.New() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return command.New(conn, 0)
}
