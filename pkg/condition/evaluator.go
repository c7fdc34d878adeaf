// Package condition evaluates declarative branching rules against a request's data.
package condition

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/flowgate/pkg/models"
)

// Evaluator evaluates branching conditions. It never fails: any fault is logged
// and the condition is treated as not satisfied.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator that logs evaluation faults with logger.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger.With("module", "condition")}
}

// Evaluate reports whether cond holds for data. A nil or empty condition always holds.
func (e *Evaluator) Evaluate(cond *models.Condition, data map[string]any) (ok bool) {
	if cond.Empty() {
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Condition evaluation panicked", "field", cond.Field, "operator", cond.Operator, "panic", r)

			ok = false
		}
	}()

	ok, err := Check(cond, data)
	if err != nil {
		e.logger.Debug("Condition evaluated as false", "field", cond.Field, "operator", cond.Operator, "error", err)

		return false
	}

	return ok
}

// Evaluate evaluates cond with the default logger.
func Evaluate(cond *models.Condition, data map[string]any) bool {
	return NewEvaluator(slog.Default()).Evaluate(cond, data)
}

// Check is the strict form of Evaluate: coercion failures and unknown operators
// are returned as ConditionEvaluation errors instead of being treated as false.
func Check(cond *models.Condition, data map[string]any) (bool, error) {
	if cond.Empty() {
		return true, nil
	}

	actual, found := Resolve(data, cond.Field)
	if !found && cond.Value != nil {
		return false, nil
	}

	operator := cond.Operator
	if operator == "" {
		operator = models.OperatorEqual
	}

	return apply(actual, operator, cond.Value)
}

// Resolve walks a dot separated path through nested maps.
// A missing key or a non-map intermediate value yields found = false.
func Resolve(data map[string]any, path string) (any, bool) {
	var current any = data

	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}

	return current, current != nil
}

func apply(actual any, operator models.Operator, target any) (bool, error) {
	switch operator {
	case models.OperatorEqual:
		return equal(actual, target), nil
	case models.OperatorNotEqual:
		return !equal(actual, target), nil
	case models.OperatorGreater, models.OperatorLess, models.OperatorGreaterOrEqual, models.OperatorLessOrEqual:
		return compare(actual, operator, target)
	case models.OperatorIn:
		return member(actual, target)
	case models.OperatorContains:
		return member(target, actual)
	default:
		return false, evaluationError("unsupported operator %q", operator)
	}
}

func compare(actual any, operator models.Operator, target any) (bool, error) {
	left, ok := toFloat(actual)
	if !ok {
		return false, evaluationError("cannot compare %v as a number", actual)
	}

	right, ok := toFloat(target)
	if !ok {
		return false, evaluationError("cannot compare %v as a number", target)
	}

	switch operator {
	case models.OperatorGreater:
		return left > right, nil
	case models.OperatorLess:
		return left < right, nil
	case models.OperatorGreaterOrEqual:
		return left >= right, nil
	default:
		return left <= right, nil
	}
}

// member reports whether needle is an element of haystack: an item of a list,
// a substring of a string or a key of a map.
func member(needle, haystack any) (bool, error) {
	switch h := haystack.(type) {
	case nil:
		return false, evaluationError("cannot test membership in a null value")
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, evaluationError("cannot test %v against a string", needle)
		}

		return strings.Contains(h, s), nil
	case map[string]any:
		s, ok := needle.(string)
		if !ok {
			return false, nil
		}

		_, found := h[s]

		return found, nil
	}

	value := reflect.ValueOf(haystack)
	if value.Kind() != reflect.Slice && value.Kind() != reflect.Array {
		return false, evaluationError("cannot test membership in %T", haystack)
	}

	for i := range value.Len() {
		if equal(needle, value.Index(i).Interface()) {
			return true, nil
		}
	}

	return false, nil
}

// equal compares numbers by value regardless of their Go type.
func equal(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		left, _ := toFloat(a)
		right, _ := toFloat(b)

		return left == right
	}

	return reflect.DeepEqual(a, b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}

		return 0, true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func evaluationError(format string, args ...any) error {
	return &models.DomainError{
		Op:      "condition.Check",
		Kind:    models.ErrConditionEvaluation,
		Message: fmt.Sprintf(format, args...),
	}
}
