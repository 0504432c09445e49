package sqlast

import "fmt"

// UnknownFieldError reports a condition or projection naming a field the
// schema does not define.
type UnknownFieldError struct {
	Table string
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q on table %q", e.Field, e.Table)
}

// TypeMismatchError reports a value incompatible with the column it is
// compared against or assigned to.
type TypeMismatchError struct {
	Table  string
	Field  string
	Kind   Kind
	Value  any
	Reason string
}

func (e *TypeMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("field %q on table %q: %s", e.Field, e.Table, e.Reason)
	}
	return fmt.Sprintf("field %q on table %q expects %s, got %T", e.Field, e.Table, e.Kind, e.Value)
}

// InvalidExpressionError reports a structurally invalid tree, such as
// arithmetic on a non-numeric column or an In lookup without a slice.
type InvalidExpressionError struct {
	Detail string
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("invalid expression: %s", e.Detail)
}
