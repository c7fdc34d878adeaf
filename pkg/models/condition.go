package models

// Operator is a comparison operator of a branching Condition.
type Operator string

const (
	OperatorEqual          Operator = "=="
	OperatorNotEqual       Operator = "!="
	OperatorGreater        Operator = ">"
	OperatorLess           Operator = "<"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLessOrEqual    Operator = "<="
	OperatorIn             Operator = "in"
	OperatorContains       Operator = "contains"
)

// Operators lists every supported operator.
var Operators = []Operator{
	OperatorEqual,
	OperatorNotEqual,
	OperatorGreater,
	OperatorLess,
	OperatorGreaterOrEqual,
	OperatorLessOrEqual,
	OperatorIn,
	OperatorContains,
}

// Numeric reports whether the operator compares both sides as floating point numbers.
func (o Operator) Numeric() bool {
	switch o {
	case OperatorGreater, OperatorLess, OperatorGreaterOrEqual, OperatorLessOrEqual:
		return true
	default:
		return false
	}
}

// Condition is a branching rule attached to a step or transition.
// Field is a dot separated path into the evaluation context, e.g. "request_data.amount".
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value"`
}

// Empty reports whether the condition imposes no constraint.
func (c *Condition) Empty() bool {
	return c == nil || c.Field == ""
}
