// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides type definitions for the experiment engine.
//
// This file contains the experiment catalog types: experiments, variants,
// and targeting rules. Definitions are created by an administrative
// process and are read-only to the assignment engine.
package datatypes

import (
	"time"
)

// =============================================================================
// ENUMS
// =============================================================================

// Operator identifies a targeting rule comparison.
//
// Valid Values:
//   - "equals": property value equals the rule value
//   - "not_equals": property value differs from the rule value
//   - "in": property value is a member of the rule value list
//   - "not_in": property value is not a member of the rule value list
//   - "contains": property value contains the rule value as a substring
//     (both operands must be strings)
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not_in"
	OpContains  Operator = "contains"
)

// validOperators contains all valid Operator values for validation.
var validOperators = map[Operator]bool{
	OpEquals:    true,
	OpNotEquals: true,
	OpIn:        true,
	OpNotIn:     true,
	OpContains:  true,
}

// Valid returns true if the operator is one of the supported comparisons.
func (o Operator) Valid() bool {
	return validOperators[o]
}

// =============================================================================
// Targeting
// =============================================================================

// TargetingRule is a pure predicate over user attributes.
//
// Property is a dotted path into the user's attribute map
// (e.g. "geo.country"). Rules on an experiment combine with AND;
// there is no OR or grouping.
type TargetingRule struct {
	Property string   `json:"property" yaml:"property" validate:"required"`
	Operator Operator `json:"operator" yaml:"operator" validate:"required"`
	Value    any      `json:"value" yaml:"value"`
}

// =============================================================================
// Experiments and Variants
// =============================================================================

// Variant is one treatment arm of an experiment.
//
// Weight is a relative traffic weight among the experiment's variants.
// Config is an opaque map handed to the UI; the engine never inspects it.
type Variant struct {
	ID        string         `json:"id" yaml:"id" validate:"required"`
	Name      string         `json:"name" yaml:"name" validate:"required"`
	Weight    int            `json:"weight" yaml:"weight" validate:"gte=0"`
	IsControl bool           `json:"isControl" yaml:"isControl"`
	Config    map[string]any `json:"config,omitempty" yaml:"config"`
}

// Experiment is a named controlled test with variants and inclusion rules.
//
// TrafficAllocation is the percentage (0-100) of the eligible population
// included in the experiment. Variant order is significant: the weighted
// selection walks variants in declared order.
type Experiment struct {
	ID                string          `json:"id" yaml:"id" validate:"required"`
	Name              string          `json:"name" yaml:"name" validate:"required"`
	Description       string          `json:"description,omitempty" yaml:"description"`
	IsActive          bool            `json:"isActive" yaml:"isActive"`
	StartDate         time.Time       `json:"startDate" yaml:"startDate"`
	EndDate           *time.Time      `json:"endDate,omitempty" yaml:"endDate"`
	TrafficAllocation int             `json:"trafficAllocation" yaml:"trafficAllocation" validate:"gte=0,lte=100"`
	Variants          []Variant       `json:"variants" yaml:"variants" validate:"required,min=1,dive"`
	TargetingRules    []TargetingRule `json:"targetingRules,omitempty" yaml:"targetingRules" validate:"dive"`
}

// TotalWeight returns the sum of all variant weights.
func (e *Experiment) TotalWeight() int {
	total := 0
	for _, v := range e.Variants {
		total += v.Weight
	}
	return total
}

// Control returns the declared control variant, or nil if none is declared.
func (e *Experiment) Control() *Variant {
	for i := range e.Variants {
		if e.Variants[i].IsControl {
			return &e.Variants[i]
		}
	}
	return nil
}

// Variant returns the variant with the given id, or nil if absent.
func (e *Experiment) Variant(id string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

// RunningAt reports whether the experiment is active at the given instant.
//
// An experiment runs when IsActive is set, the start date has passed
// (a zero StartDate means "always started"), and the end date, if any,
// has not.
func (e *Experiment) RunningAt(now time.Time) bool {
	if !e.IsActive {
		return false
	}
	if !e.StartDate.IsZero() && now.Before(e.StartDate) {
		return false
	}
	if e.EndDate != nil && now.After(*e.EndDate) {
		return false
	}
	return true
}

// =============================================================================
// Users and Assignments
// =============================================================================

// User is the experiment subject: a stable identity plus the attribute
// snapshot used for targeting. Treated as immutable per evaluation.
type User struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// UserAssignment records a sticky variant decision for one
// (user, experiment) pair.
//
// Invariant: at most one record exists per (UserID, ExperimentID).
// Once created with Sticky set, the record never changes; it is only
// superseded by explicit re-evaluation under a new identity.
type UserAssignment struct {
	UserID       string    `json:"userId"`
	ExperimentID string    `json:"experimentId"`
	VariantID    string    `json:"variantId"`
	AssignedAt   time.Time `json:"assignedAt"`
	Sticky       bool      `json:"sticky"`
}
