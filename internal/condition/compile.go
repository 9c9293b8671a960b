package condition

import (
	"fmt"
	"reflect"
	"sort"
)

// Compiler translates condition trees into query DSL maps.
// The zero value targets engines where the identity field is addressed as _id.
type Compiler struct {
	// UIDField is the wire name of the identity field in range queries,
	// sorts and always-false filters.
	UIDField string
}

// NewCompiler returns a compiler for the given engine major version.
// Engines before 6.x address the identity field as _uid.
func NewCompiler(engineVersion int) *Compiler {
	if engineVersion > 0 && engineVersion < 6 {
		return &Compiler{UIDField: "_uid"}
	}
	return &Compiler{UIDField: IDField}
}

// UID returns the wire name of the identity field.
func (c *Compiler) UID() string {
	if c == nil || c.UIDField == "" {
		return IDField
	}
	return c.UIDField
}

// Compile translates cond into a query DSL map. An empty condition compiles
// to nil, which callers must treat as "no filter" and omit.
func (c *Compiler) Compile(cond Condition) (map[string]any, error) {
	switch v := cond.(type) {
	case nil, Empty:
		return nil, nil
	case *Empty:
		return nil, nil
	case Hash:
		return c.hash(v)
	case Op:
		return c.op(v)
	case *Op:
		if v == nil {
			return nil, nil
		}
		return c.op(*v)
	default:
		return nil, &OperandError{Reason: fmt.Sprintf("unexpected condition type %T", cond)}
	}
}

// Filter compiles cond and wraps the result as a constant_score query so it
// can be used as the query clause of a search. It returns nil for an empty
// condition.
func (c *Compiler) Filter(cond Condition) (map[string]any, error) {
	where, err := c.Compile(cond)
	if err != nil || where == nil {
		return nil, err
	}
	return map[string]any{
		"constant_score": map[string]any{
			"filter": where,
		},
	}, nil
}

func (c *Compiler) hash(h Hash) (map[string]any, error) {
	fields := make([]string, 0, len(h))
	for field := range h {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var must, mustNot []any
	for _, field := range fields {
		value := h[field]
		if field == IDField {
			if value == nil {
				// there is no null identity
				must = append(must, c.alwaysFalse())
				continue
			}
			values, ok := asList(value)
			if !ok {
				values = []any{value}
			}
			must = append(must, ids(values))
			continue
		}

		if value == nil {
			mustNot = append(mustNot, exists(field))
			continue
		}
		if values, ok := asList(value); ok {
			must = append(must, map[string]any{"terms": map[string]any{field: values}})
		} else {
			must = append(must, map[string]any{"term": map[string]any{field: value}})
		}
	}

	if len(must) == 0 && len(mustNot) == 0 {
		return nil, nil
	}
	clauses := map[string]any{}
	if len(must) > 0 {
		clauses["must"] = must
	}
	if len(mustNot) > 0 {
		clauses["must_not"] = mustNot
	}
	return map[string]any{"bool": clauses}, nil
}

func (c *Compiler) op(o Op) (map[string]any, error) {
	switch o.Operator {
	case OpNot:
		return c.not(o)
	case OpAnd, OpOr:
		return c.boolean(o)
	case OpBetween, OpNotBetween:
		return c.between(o)
	case OpIn, OpNotIn:
		return c.in(o)
	case OpLt, OpLte, OpGt, OpGte:
		return c.halfBoundedRange(o)
	case OpLike, OpNotLike, OpOrLike, OpOrNotLike:
		return nil, &UnsupportedOperatorError{
			Operator: o.Operator,
			Reason:   "like conditions have no equivalent in the engine query language",
		}
	default:
		return nil, &UnknownOperatorError{Token: string(o.Operator)}
	}
}

func (c *Compiler) not(o Op) (map[string]any, error) {
	if len(o.Operands) != 1 {
		return nil, &ArityError{Operator: o.Operator, Want: 1, Got: len(o.Operands)}
	}
	sub, err := c.operand(o.Operator, o.Operands[0])
	if err != nil {
		return nil, err
	}
	if sub == nil {
		// negation of "match everything"
		return c.alwaysFalse(), nil
	}
	return negate(sub), nil
}

func (c *Compiler) boolean(o Op) (map[string]any, error) {
	clause := "must"
	if o.Operator == OpOr {
		clause = "should"
	}

	var parts []any
	for _, operand := range o.Operands {
		sub, err := c.operand(o.Operator, operand)
		if err != nil {
			return nil, err
		}
		if len(sub) > 0 {
			parts = append(parts, sub)
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return map[string]any{
		"bool": map[string]any{clause: parts},
	}, nil
}

func (c *Compiler) between(o Op) (map[string]any, error) {
	if len(o.Operands) != 3 {
		return nil, &ArityError{Operator: o.Operator, Want: 3, Got: len(o.Operands)}
	}
	field, err := fieldName(o.Operator, o.Operands[0])
	if err != nil {
		return nil, err
	}
	if field == IDField {
		return nil, &UnsupportedOperatorError{Operator: o.Operator, Reason: "not supported for the _id field"}
	}
	low, high := o.Operands[1], o.Operands[2]
	if low == nil || high == nil {
		return nil, &OperandError{Operator: o.Operator, Reason: "range bounds must not be null"}
	}

	filter := map[string]any{
		"range": map[string]any{
			field: map[string]any{"gte": low, "lte": high},
		},
	}
	if o.Operator == OpNotBetween {
		filter = negate(filter)
	}
	return filter, nil
}

func (c *Compiler) in(o Op) (map[string]any, error) {
	if len(o.Operands) != 2 {
		return nil, &ArityError{Operator: o.Operator, Want: 2, Got: len(o.Operands)}
	}
	columns, err := fieldList(o.Operator, o.Operands[0])
	if err != nil {
		return nil, err
	}
	if len(columns) > 1 {
		return nil, &UnsupportedOperatorError{Operator: o.Operator, Reason: "composite keys are not supported"}
	}
	values, ok := asList(o.Operands[1])
	if !ok {
		if o.Operands[1] == nil {
			values = nil
		} else {
			values = []any{o.Operands[1]}
		}
	}

	if len(values) == 0 || len(columns) == 0 {
		if o.Operator == OpIn {
			return c.alwaysFalse(), nil
		}
		return nil, nil
	}
	column := columns[0]

	canBeNull := false
	filtered := make([]any, 0, len(values))
	for _, value := range values {
		if row, ok := value.(map[string]any); ok {
			value = row[column]
		}
		if value == nil {
			canBeNull = true
			continue
		}
		filtered = append(filtered, value)
	}

	var filter map[string]any
	switch {
	case column == IDField && len(filtered) == 0:
		filter = c.alwaysFalse()
	case column == IDField:
		filter = ids(filtered)
	case len(filtered) == 0:
		filter = notExists(column)
	default:
		filter = map[string]any{"terms": map[string]any{column: filtered}}
		if canBeNull {
			filter = map[string]any{
				"bool": map[string]any{
					"should": []any{filter, notExists(column)},
				},
			}
		}
	}

	if o.Operator == OpNotIn {
		filter = negate(filter)
	}
	return filter, nil
}

var rangeOperators = map[Operator]string{
	OpLt:  "lt",
	OpLte: "lte",
	OpGt:  "gt",
	OpGte: "gte",
}

func (c *Compiler) halfBoundedRange(o Op) (map[string]any, error) {
	if len(o.Operands) != 2 {
		return nil, &ArityError{Operator: o.Operator, Want: 2, Got: len(o.Operands)}
	}
	field, err := fieldName(o.Operator, o.Operands[0])
	if err != nil {
		return nil, err
	}
	if field == IDField {
		field = c.UID()
	}
	return map[string]any{
		"range": map[string]any{
			field: map[string]any{rangeOperators[o.Operator]: o.Operands[1]},
		},
	}, nil
}

// operand compiles a nested operand of and/or/not. Raw DSL maps pass through.
func (c *Compiler) operand(op Operator, v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case Condition:
		return c.Compile(t)
	case map[string]any:
		return t, nil
	case []any:
		sub, err := Parse(t)
		if err != nil {
			return nil, err
		}
		return c.Compile(sub)
	default:
		return nil, &OperandError{Operator: op, Reason: fmt.Sprintf("expected a condition, got %T", v)}
	}
}

func (c *Compiler) alwaysFalse() map[string]any {
	return map[string]any{"terms": map[string]any{c.UID(): []any{}}}
}

func negate(filter map[string]any) map[string]any {
	return map[string]any{"bool": map[string]any{"must_not": filter}}
}

func exists(field string) map[string]any {
	return map[string]any{"exists": map[string]any{"field": field}}
}

func notExists(field string) map[string]any {
	return negate(exists(field))
}

func ids(values []any) map[string]any {
	return map[string]any{"ids": map[string]any{"values": values}}
}

func fieldName(op Operator, v any) (string, error) {
	field, ok := v.(string)
	if !ok || field == "" {
		return "", &OperandError{Operator: op, Reason: fmt.Sprintf("first operand must be a field name, got %T", v)}
	}
	return field, nil
}

func fieldList(op Operator, v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		fields := make([]string, 0, len(t))
		for _, f := range t {
			name, err := fieldName(op, f)
			if err != nil {
				return nil, err
			}
			fields = append(fields, name)
		}
		return fields, nil
	default:
		return nil, &OperandError{Operator: op, Reason: fmt.Sprintf("first operand must be a field or field list, got %T", v)}
	}
}

// asList reports whether v is a list value and returns it as []any.
// Byte slices are scalars.
func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case []any:
		out := make([]any, len(t))
		copy(out, t)
		return out, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
