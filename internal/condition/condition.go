// Package condition defines the condition tree used in where clauses and
// compiles it into the engine's native boolean/term/range query DSL.
package condition

import (
	"strings"
)

// IDField is the logical name of the document identity field.
const IDField = "_id"

// Condition is a node of a condition tree. It is one of Empty, Hash or Op.
type Condition interface {
	isCondition()
}

// Empty matches every document. A nil Condition is treated the same way.
type Empty struct{}

// Hash is the shorthand form: every field must equal its value. A list value
// means IN, a nil value means the field must be absent.
type Hash map[string]any

// Op is the explicit operator form.
//
// Operands depend on the operator:
//
//	and, or          Conditions (or raw DSL maps), any number
//	not              exactly one Condition (or raw DSL map)
//	between          field, low, high
//	in, not in       field (or field list), value list
//	<, <=, >, >=     field, value
type Op struct {
	Operator Operator
	Operands []any
}

func (Empty) isCondition() {}
func (Hash) isCondition()  {}
func (Op) isCondition()    {}

// Operator is a condition operator token.
type Operator string

const (
	OpAnd        Operator = "and"
	OpOr         Operator = "or"
	OpNot        Operator = "not"
	OpBetween    Operator = "between"
	OpNotBetween Operator = "not between"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not in"
	OpLike       Operator = "like"
	OpNotLike    Operator = "not like"
	OpOrLike     Operator = "or like"
	OpOrNotLike  Operator = "or not like"
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
)

var operatorTokens = map[string]Operator{
	"and":         OpAnd,
	"or":          OpOr,
	"not":         OpNot,
	"between":     OpBetween,
	"not between": OpNotBetween,
	"in":          OpIn,
	"not in":      OpNotIn,
	"like":        OpLike,
	"not like":    OpNotLike,
	"or like":     OpOrLike,
	"or not like": OpOrNotLike,
	"<":           OpLt,
	"lt":          OpLt,
	"<=":          OpLte,
	"lte":         OpLte,
	">":           OpGt,
	"gt":          OpGt,
	">=":          OpGte,
	"gte":         OpGte,
}

// ParseOperator resolves an operator token, accepting the word forms
// lt/lte/gt/gte. Matching is case-insensitive.
func ParseOperator(token string) (Operator, error) {
	op, ok := operatorTokens[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return "", &UnknownOperatorError{Token: token}
	}
	return op, nil
}

func (o Operator) isLike() bool {
	switch o {
	case OpLike, OpNotLike, OpOrLike, OpOrNotLike:
		return true
	}
	return false
}

// And joins conditions with a conjunction.
func And(conds ...Condition) Op {
	return Op{Operator: OpAnd, Operands: conditionOperands(conds)}
}

// Or joins conditions with a disjunction.
func Or(conds ...Condition) Op {
	return Op{Operator: OpOr, Operands: conditionOperands(conds)}
}

// Not negates a condition.
func Not(c Condition) Op {
	return Op{Operator: OpNot, Operands: []any{c}}
}

// Between matches low <= field <= high.
func Between(field string, low, high any) Op {
	return Op{Operator: OpBetween, Operands: []any{field, low, high}}
}

// NotBetween matches documents outside the inclusive range.
func NotBetween(field string, low, high any) Op {
	return Op{Operator: OpNotBetween, Operands: []any{field, low, high}}
}

// In matches documents whose field equals one of values. A nil value also
// matches documents without the field.
func In(field string, values ...any) Op {
	return Op{Operator: OpIn, Operands: []any{field, values}}
}

// NotIn is the negation of In.
func NotIn(field string, values ...any) Op {
	return Op{Operator: OpNotIn, Operands: []any{field, values}}
}

// Compare builds a one-sided range condition such as Compare(OpGte, "age", 18).
func Compare(op Operator, field string, value any) Op {
	return Op{Operator: op, Operands: []any{field, value}}
}

func conditionOperands(conds []Condition) []any {
	operands := make([]any, 0, len(conds))
	for _, c := range conds {
		operands = append(operands, c)
	}
	return operands
}
