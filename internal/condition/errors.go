package condition

import (
	"errors"
	"fmt"
)

// ErrCompile matches every error returned by the compiler and the parser:
// errors.Is(err, ErrCompile).
var ErrCompile = errors.New("condition compile error")

// ArityError reports an operator used with the wrong number of operands.
type ArityError struct {
	Operator Operator
	Want     int
	Got      int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("operator %q requires %d operand(s), got %d", e.Operator, e.Want, e.Got)
}

func (e *ArityError) Is(target error) bool { return target == ErrCompile }

// UnknownOperatorError reports an operator token that is not recognized.
type UnknownOperatorError struct {
	Token string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown operator in condition: %q", e.Token)
}

func (e *UnknownOperatorError) Is(target error) bool { return target == ErrCompile }

// UnsupportedOperatorError reports a condition that is valid but has no
// translation to the engine's query language.
type UnsupportedOperatorError struct {
	Operator Operator
	Reason   string
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("operator %q is not supported: %s", e.Operator, e.Reason)
}

func (e *UnsupportedOperatorError) Is(target error) bool { return target == ErrCompile }

// OperandError reports an operand of the wrong type, such as a condition
// where a field name is required.
type OperandError struct {
	Operator Operator
	Reason   string
}

func (e *OperandError) Error() string {
	if e.Operator == "" {
		return "invalid condition: " + e.Reason
	}
	return fmt.Sprintf("invalid operand for %q: %s", e.Operator, e.Reason)
}

func (e *OperandError) Is(target error) bool { return target == ErrCompile }
