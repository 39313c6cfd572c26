package rules

import (
	"fmt"
	"strings"
)

// EvaluateConditions folds the condition chain left to right. Condition i's
// own logical operator (default AND) decides how condition i+1 combines with
// the running result. There is no precedence and no reordering; stored rules
// depend on the exact pairwise behavior, so it must not be "fixed" into
// conventional operator-precedes semantics.
func EvaluateConditions(conditions []Condition, ctx Context) bool {
	if len(conditions) == 0 {
		return true
	}

	result := evaluateCondition(conditions[0], ctx)
	for i := 1; i < len(conditions); i++ {
		connector := conditions[i-1].LogicalOperator
		if connector == "" {
			connector = LogicalAnd
		}
		next := evaluateCondition(conditions[i], ctx)
		if connector == LogicalOr {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result
}

// evaluateCondition resolves the field path and applies the operator. A
// missing path yields nil, which only the negative operators match.
func evaluateCondition(c Condition, ctx Context) bool {
	value := ResolvePath(ctx, c.Field)

	switch c.Operator {
	case OpEquals:
		return value != nil && valuesEqual(value, c.Value)
	case OpNotEquals:
		return value == nil || !valuesEqual(value, c.Value)
	case OpGreaterThan:
		a, b, ok := bothNumbers(value, c.Value)
		return ok && a > b
	case OpGreaterThanOrEqual:
		a, b, ok := bothNumbers(value, c.Value)
		return ok && a >= b
	case OpLessThan:
		a, b, ok := bothNumbers(value, c.Value)
		return ok && a < b
	case OpLessThanOrEqual:
		a, b, ok := bothNumbers(value, c.Value)
		return ok && a <= b
	case OpIn:
		return value != nil && listContains(c.Value, value)
	case OpNotIn:
		return value == nil || !listContains(c.Value, value)
	case OpContains:
		if value == nil {
			return false
		}
		return strings.Contains(asString(value), asString(c.Value))
	case OpBetween:
		bounds, ok := c.Value.([]interface{})
		if !ok || len(bounds) != 2 {
			return false
		}
		a, lo, okLo := bothNumbers(value, bounds[0])
		_, hi, okHi := bothNumbers(value, bounds[1])
		return okLo && okHi && a >= lo && a <= hi
	default:
		return false
	}
}

// ResolvePath reads a dot-separated path out of the context. Unresolvable
// segments yield nil.
func ResolvePath(ctx Context, path string) interface{} {
	var current interface{} = map[string]interface{}(ctx)
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}

func valuesEqual(a, b interface{}) bool {
	if fa, fb, ok := bothNumbers(a, b); ok {
		return fa == fb
	}
	return asString(a) == asString(b)
}

func bothNumbers(a, b interface{}) (float64, float64, bool) {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	return fa, fb, okA && okB
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

func listContains(list interface{}, value interface{}) bool {
	items, ok := list.([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if valuesEqual(item, value) {
			return true
		}
	}
	return false
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
