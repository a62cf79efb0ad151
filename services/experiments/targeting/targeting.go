// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package targeting evaluates experiment targeting rules against user
// attributes.
//
// Rules combine with AND only: a user passes targeting when every rule
// passes. OR and rule grouping are deliberately unsupported.
//
// Missing properties: when a rule's dotted path does not resolve, the
// value is undefined. Undefined compares as follows: equals, in, and
// contains evaluate to false; not_equals and not_in evaluate to true
// (an absent value is "not equal" to anything and "not a member" of any
// set). This mirrors loose-equality behavior the storefront relies on.
package targeting

import (
	"reflect"
	"strings"

	"github.com/shopkit/experiments/services/experiments/datatypes"
)

// -----------------------------------------------------------------------------
// Evaluation
// -----------------------------------------------------------------------------

// Evaluate reports whether the user passes every rule.
//
// Description:
//
//	AND-only semantics: the first failing rule short-circuits to false.
//	An empty rule list passes. A rule with an unknown operator fails
//	closed (returns false) so that malformed definitions exclude rather
//	than include users.
//
// Thread Safety: Safe for concurrent use (pure function).
func Evaluate(user datatypes.User, rules []datatypes.TargetingRule) bool {
	for _, rule := range rules {
		if !evaluateRule(user, rule) {
			return false
		}
	}
	return true
}

func evaluateRule(user datatypes.User, rule datatypes.TargetingRule) bool {
	value, defined := Lookup(user.Attributes, rule.Property)

	switch rule.Operator {
	case datatypes.OpEquals:
		return defined && looseEqual(value, rule.Value)
	case datatypes.OpNotEquals:
		return !defined || !looseEqual(value, rule.Value)
	case datatypes.OpIn:
		return defined && member(value, rule.Value)
	case datatypes.OpNotIn:
		return !defined || !member(value, rule.Value)
	case datatypes.OpContains:
		if !defined {
			return false
		}
		haystack, ok1 := value.(string)
		needle, ok2 := rule.Value.(string)
		return ok1 && ok2 && strings.Contains(haystack, needle)
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Property Lookup
// -----------------------------------------------------------------------------

// Lookup resolves a dotted path into a nested attribute map.
//
// Inputs:
//   - attrs: the user attribute map. May be nil.
//   - path: dotted property path, e.g. "geo.country".
//
// Outputs:
//   - any: the resolved value.
//   - bool: false when any path segment is missing or a non-map value
//     is traversed before the final segment.
func Lookup(attrs map[string]any, path string) (any, bool) {
	if attrs == nil || path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	current := any(attrs)
	for i, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok := m[seg]
		if !ok {
			return nil, false
		}
		if i == len(segments)-1 {
			return value, true
		}
		current = value
	}
	return nil, false
}

// -----------------------------------------------------------------------------
// Comparison Helpers
// -----------------------------------------------------------------------------

// looseEqual compares two values, treating all numeric types as float64
// so that JSON-decoded rule values (always float64) match in-memory
// attribute values of integer types.
func looseEqual(a, b any) bool {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum && bNum {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// member reports whether value is an element of list. A non-list rule
// value never matches.
func member(value, list any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if looseEqual(value, item) {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
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
	default:
		return 0, false
	}
}
