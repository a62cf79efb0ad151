// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assign implements the deterministic variant-assignment
// algorithm.
//
// Assign is a pure function of (user, experiment): a fixed experiment
// and a fixed user identity yield the same result on every call and
// across process restarts. Determinism is what lets the orchestrator
// treat a nil outcome as idempotent and never persist it.
//
// Gate order: traffic allocation is checked before targeting rules.
// Both gates must pass for a variant to be selected; the order affects
// only which exclusion reason is reported, never the final outcome.
package assign

import (
	"github.com/shopkit/experiments/services/experiments/bucket"
	"github.com/shopkit/experiments/services/experiments/datatypes"
	"github.com/shopkit/experiments/services/experiments/targeting"
)

// -----------------------------------------------------------------------------
// Outcome
// -----------------------------------------------------------------------------

// Outcome explains an assignment result.
type Outcome int

const (
	// OutcomeAssigned indicates a variant was selected.
	OutcomeAssigned Outcome = iota

	// OutcomeExcludedTraffic indicates the user's traffic bucket fell
	// outside the experiment's allocation.
	OutcomeExcludedTraffic

	// OutcomeExcludedTargeting indicates the user failed a targeting rule.
	OutcomeExcludedTargeting

	// OutcomeNoVariants indicates the experiment declares no variants.
	OutcomeNoVariants
)

// String returns the string representation.
func (o Outcome) String() string {
	switch o {
	case OutcomeAssigned:
		return "assigned"
	case OutcomeExcludedTraffic:
		return "excluded_traffic"
	case OutcomeExcludedTargeting:
		return "excluded_targeting"
	case OutcomeNoVariants:
		return "no_variants"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Assignment
// -----------------------------------------------------------------------------

// Assign selects a variant for the user, or nil if the user is excluded.
//
// Description:
//
//	The caller is responsible for ensuring the experiment is active;
//	Assign itself evaluates only inclusion and selection:
//
//	 1. Traffic gate: the user's traffic bucket (0-99) must be below
//	    the experiment's traffic allocation.
//	 2. Targeting gate: the user must pass every targeting rule.
//	 3. Weighted selection: walk variants in declared order accumulating
//	    weight; the first variant whose cumulative weight exceeds the
//	    variant bucket wins. Boundary ties resolve to the earlier
//	    variant in declaration order.
//	 4. Safety net: if the walk selects nothing (all weights zero),
//	    fall back to the declared control, then the first variant.
//
// Outputs:
//   - *datatypes.Variant: the selected variant, or nil when excluded.
//   - Outcome: why the result is what it is.
//
// Thread Safety: Safe for concurrent use (pure function).
func Assign(user datatypes.User, exp *datatypes.Experiment) (*datatypes.Variant, Outcome) {
	if bucket.Traffic(user.ID, exp.ID) >= exp.TrafficAllocation {
		return nil, OutcomeExcludedTraffic
	}

	if len(exp.TargetingRules) > 0 && !targeting.Evaluate(user, exp.TargetingRules) {
		return nil, OutcomeExcludedTargeting
	}

	if len(exp.Variants) == 0 {
		return nil, OutcomeNoVariants
	}

	slot := bucket.Variant(user.ID, exp.ID, exp.TotalWeight())
	cumulative := 0
	for i := range exp.Variants {
		cumulative += exp.Variants[i].Weight
		if cumulative > slot {
			return &exp.Variants[i], OutcomeAssigned
		}
	}

	// All weights zero: nothing accumulated past the slot.
	if control := exp.Control(); control != nil {
		return control, OutcomeAssigned
	}
	return &exp.Variants[0], OutcomeAssigned
}
