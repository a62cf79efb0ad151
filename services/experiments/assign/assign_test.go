// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assign

import (
	"fmt"
	"testing"

	"github.com/shopkit/experiments/services/experiments/datatypes"
)

func fullTrafficExperiment(weights ...int) *datatypes.Experiment {
	exp := &datatypes.Experiment{
		ID:                "exp-1",
		Name:              "test experiment",
		IsActive:          true,
		TrafficAllocation: 100,
	}
	for i, w := range weights {
		exp.Variants = append(exp.Variants, datatypes.Variant{
			ID:        fmt.Sprintf("v%d", i),
			Name:      fmt.Sprintf("variant %d", i),
			Weight:    w,
			IsControl: i == 0,
		})
	}
	return exp
}

func TestAssignDeterministic(t *testing.T) {
	exp := fullTrafficExperiment(50, 50)
	u := datatypes.User{ID: "u1"}

	first, outcome := Assign(u, exp)
	if outcome != OutcomeAssigned || first == nil {
		t.Fatalf("expected assignment, got outcome %s", outcome)
	}
	for i := 0; i < 1000; i++ {
		v, _ := Assign(u, exp)
		if v.ID != first.ID {
			t.Fatalf("assignment changed on call %d: %s != %s", i, v.ID, first.ID)
		}
	}
}

func TestAssignZeroTraffic(t *testing.T) {
	exp := fullTrafficExperiment(50, 50)
	exp.TrafficAllocation = 0

	for i := 0; i < 1000; i++ {
		v, outcome := Assign(datatypes.User{ID: fmt.Sprintf("user-%d", i)}, exp)
		if v != nil {
			t.Fatalf("expected nil variant at 0%% allocation, got %s", v.ID)
		}
		if outcome != OutcomeExcludedTraffic {
			t.Fatalf("expected excluded_traffic, got %s", outcome)
		}
	}
}

func TestAssignTargetingExclusive(t *testing.T) {
	// A user failing any rule always receives nil regardless of the
	// traffic and weight outcome.
	exp := fullTrafficExperiment(50, 50)
	exp.TargetingRules = []datatypes.TargetingRule{
		{Property: "country", Operator: datatypes.OpEquals, Value: "DE"},
	}

	u := datatypes.User{ID: "u1", Attributes: map[string]any{"country": "FR"}}
	for i := 0; i < 100; i++ {
		v, outcome := Assign(u, exp)
		if v != nil {
			t.Fatalf("expected nil variant for targeting failure, got %s", v.ID)
		}
		if outcome != OutcomeExcludedTargeting {
			t.Fatalf("expected excluded_targeting, got %s", outcome)
		}
	}

	// The matching user gets a variant.
	match := datatypes.User{ID: "u1", Attributes: map[string]any{"country": "DE"}}
	if v, _ := Assign(match, exp); v == nil {
		t.Fatal("expected assignment for matching user")
	}
}

func TestAssignTrafficBound(t *testing.T) {
	exp := fullTrafficExperiment(100)
	exp.TrafficAllocation = 30

	const n = 10000
	included := 0
	for i := 0; i < n; i++ {
		if v, _ := Assign(datatypes.User{ID: fmt.Sprintf("user-%d", i)}, exp); v != nil {
			included++
		}
	}

	fraction := float64(included) / n
	if fraction < 0.27 || fraction > 0.33 {
		t.Errorf("included fraction %.3f outside [0.27, 0.33] for 30%% allocation", fraction)
	}
}

func TestAssignWeightProportionality(t *testing.T) {
	exp := fullTrafficExperiment(33, 33, 34)

	const n = 10000
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		v, _ := Assign(datatypes.User{ID: fmt.Sprintf("user-%d", i)}, exp)
		if v == nil {
			t.Fatal("unexpected exclusion at 100% allocation")
		}
		counts[v.ID]++
	}

	expected := map[string]float64{"v0": 0.33, "v1": 0.33, "v2": 0.34}
	for id, want := range expected {
		got := float64(counts[id]) / n
		if got < want-0.02 || got > want+0.02 {
			t.Errorf("variant %s fraction %.3f outside ±2%% of %.2f", id, got, want)
		}
	}
}

func TestAssignBoundaryTieBreak(t *testing.T) {
	// With weights 1/1, slot 0 must select the first variant and slot 1
	// the second: the first variant whose cumulative weight strictly
	// exceeds the slot wins. Find users hashing to each slot and verify.
	exp := fullTrafficExperiment(1, 1)

	seen := map[string]bool{}
	for i := 0; i < 1000 && len(seen) < 2; i++ {
		v, _ := Assign(datatypes.User{ID: fmt.Sprintf("user-%d", i)}, exp)
		seen[v.ID] = true
	}
	if !seen["v0"] || !seen["v1"] {
		t.Errorf("expected both variants selected across users, got %v", seen)
	}
}

func TestAssignSafetyNet(t *testing.T) {
	t.Run("zero weights fall back to control", func(t *testing.T) {
		exp := &datatypes.Experiment{
			ID:                "exp-1",
			TrafficAllocation: 100,
			Variants: []datatypes.Variant{
				{ID: "a", Weight: 0},
				{ID: "b", Weight: 0, IsControl: true},
			},
		}
		v, outcome := Assign(datatypes.User{ID: "u1"}, exp)
		if outcome != OutcomeAssigned || v == nil || v.ID != "b" {
			t.Errorf("expected control fallback, got %v / %s", v, outcome)
		}
	})

	t.Run("zero weights without control fall back to first", func(t *testing.T) {
		exp := &datatypes.Experiment{
			ID:                "exp-1",
			TrafficAllocation: 100,
			Variants: []datatypes.Variant{
				{ID: "a", Weight: 0},
				{ID: "b", Weight: 0},
			},
		}
		v, _ := Assign(datatypes.User{ID: "u1"}, exp)
		if v == nil || v.ID != "a" {
			t.Errorf("expected first-variant fallback, got %v", v)
		}
	})

	t.Run("empty variant list yields nil", func(t *testing.T) {
		exp := &datatypes.Experiment{ID: "exp-1", TrafficAllocation: 100}
		v, outcome := Assign(datatypes.User{ID: "u1"}, exp)
		if v != nil || outcome != OutcomeNoVariants {
			t.Errorf("expected nil / no_variants, got %v / %s", v, outcome)
		}
	})
}
