package kausality

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sttts/kausality/object"
	"github.com/sttts/kausality/pathmatch"
)

// PredicateEvaluator evaluates an opaque boolean predicate against an object
// and its prior version. The engine treats evaluation errors as "false" for
// every permission-gating check (fail closed).
type PredicateEvaluator interface {
	Evaluate(ctx context.Context, expr string, obj, oldObj *unstructured.Unstructured) (bool, error)
}

// DefaultEvaluator returns the built-in "field op value" predicate
// evaluator. Expressions have the form
//
//	<path> <op> [value]
//
// where path is a concrete field path (prefix "old." addresses the prior
// version) and op is one of eq, neq, in, not_in, contains, starts_with,
// ends_with, gt, lt, gte, lte, exists, not_exists, regex.
func DefaultEvaluator() PredicateEvaluator { return &fieldEvaluator{} }

type fieldEvaluator struct{}

// Operator is a comparison operator for predicates.
type Operator string

const (
	// OpEquals checks for equality.
	OpEquals Operator = "eq"

	// OpNotEquals checks for inequality.
	OpNotEquals Operator = "neq"

	// OpIn checks if a value is in a comma-separated set.
	OpIn Operator = "in"

	// OpNotIn checks if a value is not in a comma-separated set.
	OpNotIn Operator = "not_in"

	// OpContains checks if a string contains a substring.
	OpContains Operator = "contains"

	// OpStartsWith checks if a string starts with a prefix.
	OpStartsWith Operator = "starts_with"

	// OpEndsWith checks if a string ends with a suffix.
	OpEndsWith Operator = "ends_with"

	// OpGreaterThan checks if a value is greater than another.
	OpGreaterThan Operator = "gt"

	// OpLessThan checks if a value is less than another.
	OpLessThan Operator = "lt"

	// OpGTE checks if a value is greater than or equal to another.
	OpGTE Operator = "gte"

	// OpLTE checks if a value is less than or equal to another.
	OpLTE Operator = "lte"

	// OpExists checks if a field is present.
	OpExists Operator = "exists"

	// OpNotExists checks if a field is absent.
	OpNotExists Operator = "not_exists"

	// OpRegex checks if a value matches a regular expression.
	OpRegex Operator = "regex"
)

func (e *fieldEvaluator) Evaluate(_ context.Context, expr string, obj, oldObj *unstructured.Unstructured) (bool, error) {
	field, op, value, err := parsePredicate(expr)
	if err != nil {
		return false, err
	}

	target := obj
	if strings.HasPrefix(field, "old.") {
		field = strings.TrimPrefix(field, "old.")
		target = oldObj
	}

	path, err := pathmatch.ParsePath(field)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %w", ErrInvalidPredicate, expr, err)
	}

	actual, found := object.Lookup(target, path)

	switch op {
	case OpExists:
		return found, nil
	case OpNotExists:
		return !found, nil
	}

	if !found {
		return false, nil
	}

	return evaluateOp(op, actual, value)
}

func parsePredicate(expr string) (field string, op Operator, value string, err error) {
	parts := strings.SplitN(strings.TrimSpace(expr), " ", 3)
	if len(parts) < 2 {
		return "", "", "", fmt.Errorf("%w: %q: need at least field and operator", ErrInvalidPredicate, expr)
	}

	field = parts[0]
	op = Operator(parts[1])

	if len(parts) == 3 {
		value = parts[2]
	}

	switch op {
	case OpExists, OpNotExists:
		if value != "" {
			return "", "", "", fmt.Errorf("%w: %q: %s takes no value", ErrInvalidPredicate, expr, op)
		}
	case OpEquals, OpNotEquals, OpIn, OpNotIn, OpContains, OpStartsWith,
		OpEndsWith, OpGreaterThan, OpLessThan, OpGTE, OpLTE, OpRegex:
		if value == "" {
			return "", "", "", fmt.Errorf("%w: %q: %s needs a value", ErrInvalidPredicate, expr, op)
		}
	default:
		return "", "", "", fmt.Errorf("%w: unknown operator %q", ErrInvalidPredicate, op)
	}

	return field, op, value, nil
}

func evaluateOp(op Operator, actual any, expected string) (bool, error) {
	switch op {
	case OpEquals:
		return fmt.Sprint(actual) == expected, nil
	case OpNotEquals:
		return fmt.Sprint(actual) != expected, nil
	case OpIn:
		return inList(actual, expected), nil
	case OpNotIn:
		return !inList(actual, expected), nil
	case OpContains:
		return strings.Contains(fmt.Sprint(actual), expected), nil
	case OpStartsWith:
		return strings.HasPrefix(fmt.Sprint(actual), expected), nil
	case OpEndsWith:
		return strings.HasSuffix(fmt.Sprint(actual), expected), nil
	case OpGreaterThan:
		return compareNumbers(actual, expected) > 0, nil
	case OpLessThan:
		return compareNumbers(actual, expected) < 0, nil
	case OpGTE:
		return compareNumbers(actual, expected) >= 0, nil
	case OpLTE:
		return compareNumbers(actual, expected) <= 0, nil
	case OpRegex:
		re, err := regexp.Compile(expected)
		if err != nil {
			return false, fmt.Errorf("%w: invalid regex %q: %w", ErrInvalidPredicate, expected, err)
		}
		return re.MatchString(fmt.Sprint(actual)), nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidPredicate, op)
	}
}

func inList(actual any, expected string) bool {
	s := fmt.Sprint(actual)
	for _, item := range strings.Split(expected, ",") {
		if strings.TrimSpace(item) == s {
			return true
		}
	}
	return false
}

func compareNumbers(a any, b string) int {
	fa := toFloat64(a)
	fb := toFloat64(b)
	if fa < fb {
		return -1
	}
	if fa > fb {
		return 1
	}
	return 0
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%f", &f); err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
