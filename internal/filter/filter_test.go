package filter

import "testing"

func TestMatchOperators(t *testing.T) {
	data := map[string]any{
		"status": "published",
		"title":  "Intro to Go",
		"count":  float64(42),
		"paid":   true,
		"author": map[string]any{
			"email": "teach@example.com",
			"role":  "instructor",
		},
	}

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"equals match", Rule{Field: "status", Op: OpEquals, Value: "published"}, true},
		{"equals mismatch", Rule{Field: "status", Op: OpEquals, Value: "draft"}, false},
		{"not_equals match", Rule{Field: "status", Op: OpNotEquals, Value: "draft"}, true},
		{"not_equals mismatch", Rule{Field: "status", Op: OpNotEquals, Value: "published"}, false},
		{"contains match", Rule{Field: "title", Op: OpContains, Value: "to Go"}, true},
		{"contains mismatch", Rule{Field: "title", Op: OpContains, Value: "Rust"}, false},
		{"starts_with match", Rule{Field: "title", Op: OpStartsWith, Value: "Intro"}, true},
		{"starts_with mismatch", Rule{Field: "title", Op: OpStartsWith, Value: "Advanced"}, false},
		{"ends_with match", Rule{Field: "author.email", Op: OpEndsWith, Value: "@example.com"}, true},
		{"ends_with mismatch", Rule{Field: "author.email", Op: OpEndsWith, Value: "@other.com"}, false},
		{"nested equals", Rule{Field: "author.role", Op: OpEquals, Value: "instructor"}, true},
		{"integral float compares as integer", Rule{Field: "count", Op: OpEquals, Value: "42"}, true},
		{"bool compares as literal", Rule{Field: "paid", Op: OpEquals, Value: "true"}, true},
		{"missing field fails equals", Rule{Field: "nope", Op: OpEquals, Value: "x"}, false},
		{"missing field satisfies not_equals", Rule{Field: "nope", Op: OpNotEquals, Value: "x"}, true},
		{"missing nested path", Rule{Field: "author.phone", Op: OpContains, Value: "5"}, false},
		{"path through scalar", Rule{Field: "status.deep", Op: OpEquals, Value: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match([]Rule{tt.rule}, data); got != tt.want {
				t.Errorf("Match(%+v) = %v, want %v", tt.rule, got, tt.want)
			}
		})
	}
}

func TestMatchAndCombination(t *testing.T) {
	data := map[string]any{"status": "published", "tier": "pro"}

	both := []Rule{
		{Field: "status", Op: OpEquals, Value: "published"},
		{Field: "tier", Op: OpEquals, Value: "pro"},
	}
	if !Match(both, data) {
		t.Error("all rules match but Match() = false")
	}

	oneOff := []Rule{
		{Field: "status", Op: OpEquals, Value: "published"},
		{Field: "tier", Op: OpEquals, Value: "free"},
	}
	if Match(oneOff, data) {
		t.Error("one rule fails but Match() = true")
	}
}

func TestMatchEmptyRules(t *testing.T) {
	if !Match(nil, map[string]any{"anything": "goes"}) {
		t.Error("empty rule set should match everything")
	}
}

func TestRuleValid(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"valid", Rule{Field: "a", Op: OpEquals, Value: "b"}, true},
		{"empty field", Rule{Field: "", Op: OpEquals, Value: "b"}, false},
		{"bad op", Rule{Field: "a", Op: "regex", Value: "b"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
