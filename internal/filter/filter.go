package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is a comparison operator applied to one payload field.
type Op string

const (
	OpEquals     Op = "equals"
	OpNotEquals  Op = "not_equals"
	OpContains   Op = "contains"
	OpStartsWith Op = "starts_with"
	OpEndsWith   Op = "ends_with"
)

// Rule is one stored filter condition: a dot-path into the event payload, an
// operator, and a literal to compare against. Rules are data, evaluated by a
// pure interpreter; there is no dynamic code execution.
type Rule struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value string `json:"value"`
}

// Valid reports whether the rule uses a known operator and a non-empty field.
func (r Rule) Valid() bool {
	if r.Field == "" {
		return false
	}
	switch r.Op {
	case OpEquals, OpNotEquals, OpContains, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

// Match evaluates all rules against data and AND-combines the results.
// An empty rule set matches everything. A missing field satisfies only
// not_equals (the field is trivially not equal to any literal).
func Match(rules []Rule, data map[string]any) bool {
	for _, r := range rules {
		if !matchOne(r, data) {
			return false
		}
	}
	return true
}

func matchOne(r Rule, data map[string]any) bool {
	raw, ok := lookup(data, r.Field)
	if !ok {
		return r.Op == OpNotEquals
	}
	val := stringify(raw)
	switch r.Op {
	case OpEquals:
		return val == r.Value
	case OpNotEquals:
		return val != r.Value
	case OpContains:
		return strings.Contains(val, r.Value)
	case OpStartsWith:
		return strings.HasPrefix(val, r.Value)
	case OpEndsWith:
		return strings.HasSuffix(val, r.Value)
	}
	return false
}

// lookup resolves a dot-path ("order.customer.id") inside nested maps.
func lookup(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// stringify renders a payload value for comparison. JSON numbers arrive as
// float64; integral values must compare equal to their integer literal.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}
