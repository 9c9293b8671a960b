package condition

import (
	"fmt"
)

// Parse converts a condition in its loose form, as decoded from JSON or YAML,
// into a typed tree. A map is a Hash; a list whose first element is an
// operator token is an Op, e.g. ["in", "status", [1, 2]]. Operands of and,
// or and not are parsed recursively. Operator tokens are validated here so
// an unknown operator never reaches the compiler.
func Parse(v any) (Condition, error) {
	switch t := v.(type) {
	case nil:
		return Empty{}, nil
	case Condition:
		return t, nil
	case map[string]any:
		if len(t) == 0 {
			return Empty{}, nil
		}
		return Hash(t), nil
	case []any:
		return parseList(t)
	case string:
		return nil, &OperandError{Reason: "string conditions are not supported"}
	default:
		return nil, &OperandError{Reason: fmt.Sprintf("unexpected condition type %T", v)}
	}
}

func parseList(list []any) (Condition, error) {
	if len(list) == 0 {
		return Empty{}, nil
	}
	token, ok := list[0].(string)
	if !ok {
		return nil, &UnknownOperatorError{Token: fmt.Sprint(list[0])}
	}
	op, err := ParseOperator(token)
	if err != nil {
		return nil, err
	}

	operands := make([]any, len(list)-1)
	copy(operands, list[1:])

	switch op {
	case OpAnd, OpOr, OpNot:
		for i, operand := range operands {
			switch operand.(type) {
			case []any, map[string]any:
				sub, err := Parse(operand)
				if err != nil {
					return nil, fmt.Errorf("operand %d of %q: %w", i, op, err)
				}
				operands[i] = sub
			}
		}
	}
	return Op{Operator: op, Operands: operands}, nil
}
