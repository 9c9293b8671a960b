package command

import (
	"encoding/json"
	"fmt"
)

// SearchResult is a search or scroll response.
type SearchResult struct {
	Took         int             `json:"took"`
	TimedOut     bool            `json:"timed_out"`
	ScrollID     string          `json:"_scroll_id,omitempty"`
	Shards       json.RawMessage `json:"_shards,omitempty"`
	Hits         HitsResult      `json:"hits"`
	Aggregations json.RawMessage `json:"aggregations,omitempty"`
	Suggest      json.RawMessage `json:"suggest,omitempty"`
}

// HitsResult contains the search hits.
type HitsResult struct {
	Total    HitsTotal `json:"total"`
	MaxScore *float64  `json:"max_score"`
	Hits     []Hit     `json:"hits"`
}

// HitsTotal is the total hit count. Engines before 7.x send a bare number,
// later ones an object with a relation.
type HitsTotal struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

func (t *HitsTotal) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		t.Value, t.Relation = n, "eq"
		return nil
	}
	type plain HitsTotal
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding hits total: %w", err)
	}
	*t = HitsTotal(p)
	return nil
}

// Hit is one search hit.
type Hit struct {
	Index       string              `json:"_index"`
	Type        string              `json:"_type,omitempty"`
	ID          string              `json:"_id"`
	Score       *float64            `json:"_score"`
	Source      json.RawMessage     `json:"_source,omitempty"`
	Fields      map[string]any      `json:"fields,omitempty"`
	Highlight   map[string][]string `json:"highlight,omitempty"`
	Sort        []any               `json:"sort,omitempty"`
	Version     *int64              `json:"_version,omitempty"`
	SeqNo       *int64              `json:"_seq_no,omitempty"`
	PrimaryTerm *int64              `json:"_primary_term,omitempty"`
}

// Value returns a top-level source or stored field value.
func (h Hit) Value(field string) (any, bool) {
	if field == "_id" {
		return h.ID, true
	}
	if len(h.Source) > 0 {
		var src map[string]any
		if json.Unmarshal(h.Source, &src) == nil {
			if v, ok := src[field]; ok {
				return v, true
			}
		}
	}
	if v, ok := h.Fields[field]; ok {
		if list, isList := v.([]any); isList && len(list) == 1 {
			return list[0], true
		}
		return v, true
	}
	return nil, false
}

// Document is the result of a single-document get.
type Document struct {
	Index       string          `json:"_index"`
	Type        string          `json:"_type,omitempty"`
	ID          string          `json:"_id"`
	Version     int64           `json:"_version,omitempty"`
	SeqNo       int64           `json:"_seq_no,omitempty"`
	PrimaryTerm int64           `json:"_primary_term,omitempty"`
	Found       bool            `json:"found"`
	Source      json.RawMessage `json:"_source,omitempty"`
}

// WriteResult is the result of an index, update or delete.
type WriteResult struct {
	Index       string `json:"_index"`
	ID          string `json:"_id"`
	Version     int64  `json:"_version"`
	Result      string `json:"result"`
	SeqNo       int64  `json:"_seq_no"`
	PrimaryTerm int64  `json:"_primary_term"`
	// Found is false when a delete or update targeted a missing document.
	Found bool `json:"-"`
}

// ByQueryResult is the result of a delete-by-query.
type ByQueryResult struct {
	Took     int               `json:"took"`
	TimedOut bool              `json:"timed_out"`
	Total    int64             `json:"total"`
	Deleted  int64             `json:"deleted"`
	Failures []json.RawMessage `json:"failures"`
}
