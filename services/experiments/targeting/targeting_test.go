// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package targeting

import (
	"testing"

	"github.com/shopkit/experiments/services/experiments/datatypes"
)

func user(attrs map[string]any) datatypes.User {
	return datatypes.User{ID: "user-1", Attributes: attrs}
}

func rule(prop string, op datatypes.Operator, value any) datatypes.TargetingRule {
	return datatypes.TargetingRule{Property: prop, Operator: op, Value: value}
}

func TestEvaluateOperators(t *testing.T) {
	attrs := map[string]any{
		"country": "DE",
		"age":     30,
		"email":   "alice@example.com",
		"geo": map[string]any{
			"city": "Berlin",
		},
	}

	tests := []struct {
		name string
		rule datatypes.TargetingRule
		want bool
	}{
		{"equals match", rule("country", datatypes.OpEquals, "DE"), true},
		{"equals mismatch", rule("country", datatypes.OpEquals, "FR"), false},
		{"equals numeric coercion", rule("age", datatypes.OpEquals, float64(30)), true},
		{"not_equals match", rule("country", datatypes.OpNotEquals, "FR"), true},
		{"not_equals mismatch", rule("country", datatypes.OpNotEquals, "DE"), false},
		{"in member", rule("country", datatypes.OpIn, []any{"DE", "AT", "CH"}), true},
		{"in non-member", rule("country", datatypes.OpIn, []any{"FR", "ES"}), false},
		{"in malformed list", rule("country", datatypes.OpIn, "DE"), false},
		{"not_in non-member", rule("country", datatypes.OpNotIn, []any{"FR", "ES"}), true},
		{"not_in member", rule("country", datatypes.OpNotIn, []any{"DE"}), false},
		{"contains substring", rule("email", datatypes.OpContains, "@example"), true},
		{"contains missing substring", rule("email", datatypes.OpContains, "@shop"), false},
		{"contains non-string value", rule("age", datatypes.OpContains, "3"), false},
		{"nested path equals", rule("geo.city", datatypes.OpEquals, "Berlin"), true},
		{"unknown operator fails closed", rule("country", datatypes.Operator("matches"), "DE"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(user(attrs), []datatypes.TargetingRule{tt.rule})
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateUndefinedProperty(t *testing.T) {
	u := user(map[string]any{"country": "DE"})

	tests := []struct {
		name string
		rule datatypes.TargetingRule
		want bool
	}{
		{"equals undefined", rule("plan", datatypes.OpEquals, "pro"), false},
		{"not_equals undefined", rule("plan", datatypes.OpNotEquals, "pro"), true},
		{"in undefined", rule("plan", datatypes.OpIn, []any{"pro"}), false},
		{"not_in undefined", rule("plan", datatypes.OpNotIn, []any{"pro"}), true},
		{"contains undefined", rule("plan", datatypes.OpContains, "pro"), false},
		{"path through scalar", rule("country.code", datatypes.OpEquals, "DE"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(u, []datatypes.TargetingRule{tt.rule}); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateAndSemantics(t *testing.T) {
	u := user(map[string]any{"country": "DE", "plan": "pro"})

	t.Run("all pass", func(t *testing.T) {
		rules := []datatypes.TargetingRule{
			rule("country", datatypes.OpEquals, "DE"),
			rule("plan", datatypes.OpEquals, "pro"),
		}
		if !Evaluate(u, rules) {
			t.Error("expected all-pass rule set to evaluate true")
		}
	})

	t.Run("one fails", func(t *testing.T) {
		rules := []datatypes.TargetingRule{
			rule("country", datatypes.OpEquals, "DE"),
			rule("plan", datatypes.OpEquals, "free"),
		}
		if Evaluate(u, rules) {
			t.Error("expected single failing rule to fail the set")
		}
	})

	t.Run("empty rule set passes", func(t *testing.T) {
		if !Evaluate(u, nil) {
			t.Error("expected empty rule set to pass")
		}
	})
}

func TestLookup(t *testing.T) {
	attrs := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": 42,
			},
		},
	}

	if v, ok := Lookup(attrs, "a.b.c"); !ok || v != 42 {
		t.Errorf("Lookup(a.b.c) = %v, %v", v, ok)
	}
	if _, ok := Lookup(attrs, "a.b.missing"); ok {
		t.Error("expected missing leaf to be undefined")
	}
	if _, ok := Lookup(attrs, "a.b.c.d"); ok {
		t.Error("expected path through scalar to be undefined")
	}
	if _, ok := Lookup(nil, "a"); ok {
		t.Error("expected nil attrs to be undefined")
	}
	if _, ok := Lookup(attrs, ""); ok {
		t.Error("expected empty path to be undefined")
	}
}
