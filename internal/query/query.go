// Package query holds the declarative search description and the builder
// that turns it into a request descriptor.
package query

import (
	"maps"
	"slices"

	"github.com/leonunix/esquery/internal/condition"
)

// NoLimit leaves the page size to the engine's default.
const NoLimit = -1

// DefaultLimit matches the engine's default page size.
const DefaultLimit = 10

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Sort is one entry of an ordered sort. When Extended is set
// it is sent verbatim as the sort options for Field and Direction is ignored.
type Sort struct {
	Field     string
	Direction Direction
	Extended  map[string]any
}

// Query describes a search. Build one with New; the zero value has a limit
// of 0, which requests statistics only.
type Query struct {
	Index []string
	Type  []string

	Where      condition.Condition
	QueryDSL   map[string]any // used only when Where compiles to nothing
	PostFilter map[string]any

	StoredFields []string
	ScriptFields map[string]any
	Source       any // bool, field list or include/exclude map

	OrderBy []Sort
	Limit   int
	Offset  int

	Aggregations map[string]any
	Suggest      map[string]any
	Highlight    map[string]any
	Stats        []string
	Collapse     map[string]any
	MinScore     *float64
	Explain      *bool

	Timeout string
	Options map[string]string

	// IndexBy names a field whose value keys results in record iteration.
	IndexBy string
}

// New returns a query over the given indices with the default limit.
func New(index ...string) *Query {
	return &Query{Index: index, Limit: DefaultLimit}
}

// From sets the indices and types to search.
func (q *Query) From(index []string, types ...string) *Query {
	q.Index = index
	q.Type = types
	return q
}

// Filter replaces the where condition.
func (q *Query) Filter(c condition.Condition) *Query {
	q.Where = c
	return q
}

// AndWhere adds c to the where condition with a conjunction.
func (q *Query) AndWhere(c condition.Condition) *Query {
	q.Where = fold(q.Where, c, condition.OpAnd)
	return q
}

// OrWhere adds c to the where condition with a disjunction.
func (q *Query) OrWhere(c condition.Condition) *Query {
	q.Where = fold(q.Where, c, condition.OpOr)
	return q
}

func fold(current, next condition.Condition, op condition.Operator) condition.Condition {
	if isEmpty(current) {
		return next
	}
	if existing, ok := current.(condition.Op); ok && existing.Operator == op {
		operands := append(slices.Clone(existing.Operands), next)
		return condition.Op{Operator: op, Operands: operands}
	}
	return condition.Op{Operator: op, Operands: []any{current, next}}
}

func isEmpty(c condition.Condition) bool {
	switch v := c.(type) {
	case nil, condition.Empty:
		return true
	case condition.Hash:
		return len(v) == 0
	}
	return false
}

// AddOrderBy appends a sort entry.
func (q *Query) AddOrderBy(field string, dir Direction) *Query {
	q.OrderBy = append(q.OrderBy, Sort{Field: field, Direction: dir})
	return q
}

// AddAggregation registers a named aggregation of the given type.
func (q *Query) AddAggregation(name, aggType string, options map[string]any) *Query {
	if q.Aggregations == nil {
		q.Aggregations = make(map[string]any)
	}
	q.Aggregations[name] = map[string]any{aggType: options}
	return q
}

// AddSuggester registers a named suggester definition.
func (q *Query) AddSuggester(name string, definition map[string]any) *Query {
	if q.Suggest == nil {
		q.Suggest = make(map[string]any)
	}
	q.Suggest[name] = definition
	return q
}

// AddOptions merges request options, overwriting existing keys.
func (q *Query) AddOptions(options map[string]string) *Query {
	if q.Options == nil {
		q.Options = make(map[string]string, len(options))
	}
	maps.Copy(q.Options, options)
	return q
}

// Clone returns a copy that can be modified for paging without touching q.
// Condition trees and DSL maps are shared; they are never mutated after
// being handed to a builder.
func (q *Query) Clone() *Query {
	c := *q
	c.Index = slices.Clone(q.Index)
	c.Type = slices.Clone(q.Type)
	c.StoredFields = slices.Clone(q.StoredFields)
	c.OrderBy = slices.Clone(q.OrderBy)
	c.Stats = slices.Clone(q.Stats)
	c.Aggregations = maps.Clone(q.Aggregations)
	c.Suggest = maps.Clone(q.Suggest)
	c.Options = maps.Clone(q.Options)
	return &c
}
