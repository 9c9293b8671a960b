package query

import (
	"fmt"
	"maps"

	"github.com/leonunix/esquery/internal/condition"
)

// Request is a built search: the body parts plus routing and URL options.
type Request struct {
	Index   []string
	Type    []string
	Parts   map[string]any
	Options map[string]string
}

// Builder turns a Query into a Request.
type Builder struct {
	compiler *condition.Compiler
}

// NewBuilder returns a builder for the given engine major version.
func NewBuilder(engineVersion int) *Builder {
	return &Builder{compiler: condition.NewCompiler(engineVersion)}
}

// Compiler returns the condition compiler used for where clauses.
func (b *Builder) Compiler() *condition.Compiler {
	return b.compiler
}

// Build compiles q. Parts only carries keys that are set; the compiled where
// condition takes precedence over QueryDSL.
func (b *Builder) Build(q *Query) (*Request, error) {
	parts := make(map[string]any)

	if len(q.StoredFields) > 0 {
		parts["stored_fields"] = q.StoredFields
	}
	if len(q.ScriptFields) > 0 {
		parts["script_fields"] = q.ScriptFields
	}
	if q.Source != nil {
		parts["_source"] = q.Source
	}
	if q.Limit >= 0 {
		parts["size"] = q.Limit
	}
	if q.Offset > 0 {
		parts["from"] = q.Offset
	}
	if q.MinScore != nil {
		parts["min_score"] = *q.MinScore
	}
	if q.Explain != nil {
		parts["explain"] = *q.Explain
	}

	where, err := b.compiler.Filter(q.Where)
	if err != nil {
		return nil, fmt.Errorf("compiling where condition: %w", err)
	}
	switch {
	case where != nil:
		parts["query"] = where
	case len(q.QueryDSL) > 0:
		parts["query"] = q.QueryDSL
	}

	if len(q.Highlight) > 0 {
		parts["highlight"] = q.Highlight
	}
	if len(q.Aggregations) > 0 {
		parts["aggregations"] = q.Aggregations
	}
	if len(q.Stats) > 0 {
		parts["stats"] = q.Stats
	}
	if len(q.Suggest) > 0 {
		parts["suggest"] = q.Suggest
	}
	if len(q.PostFilter) > 0 {
		parts["post_filter"] = q.PostFilter
	}
	if len(q.Collapse) > 0 {
		parts["collapse"] = q.Collapse
	}
	if sort := b.Sort(q.OrderBy); len(sort) > 0 {
		parts["sort"] = sort
	}

	options := maps.Clone(q.Options)
	if q.Timeout != "" {
		if options == nil {
			options = make(map[string]string, 1)
		}
		options["timeout"] = q.Timeout
	}

	return &Request{
		Index:   q.Index,
		Type:    q.Type,
		Parts:   parts,
		Options: options,
	}, nil
}

// Sort translates sort entries into the engine's sort list. The identity
// field is rewritten to its wire name.
func (b *Builder) Sort(orderBy []Sort) []any {
	if len(orderBy) == 0 {
		return nil
	}
	out := make([]any, 0, len(orderBy))
	for _, s := range orderBy {
		field := s.Field
		if field == condition.IDField {
			field = b.compiler.UID()
		}
		if s.Extended != nil {
			out = append(out, map[string]any{field: s.Extended})
			continue
		}
		dir := Asc
		if s.Direction == Desc {
			dir = Desc
		}
		out = append(out, map[string]any{field: string(dir)})
	}
	return out
}
