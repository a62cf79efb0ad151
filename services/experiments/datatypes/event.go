// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains the analytics event types. Events are append-only
// and immutable after creation.
package datatypes

import "time"

// Well-known event types. Storefront events use the page_view /
// add_to_cart / purchase vocabulary; the engine itself emits the
// experiment_assigned and experiment_converted lifecycle events.
const (
	EventTypePageView  = "page_view"
	EventTypeAddToCart = "add_to_cart"
	EventTypePurchase  = "purchase"
	EventTypeAssigned  = "experiment_assigned"
	EventTypeConverted = "experiment_converted"
)

// PropTotalAmount is the purchase-event property carrying order revenue.
const PropTotalAmount = "totalAmount"

// AssignmentRef is the experiment context stamped onto an event:
// a snapshot of one active assignment at the time the event was tracked.
type AssignmentRef struct {
	ExperimentID string `json:"experimentId"`
	VariantID    string `json:"variantId"`
}

// AnalyticsEvent is one tracked event with optional experiment context.
//
// ExperimentAssignments snapshots the user's active assignments when the
// event was emitted, so any event is attributable to experiments post hoc.
// Events lacking a snapshot are excluded from experiment-scoped queries.
type AnalyticsEvent struct {
	EventID               string          `json:"eventId"`
	EventType             string          `json:"eventType"`
	UserID                string          `json:"userId"`
	SessionID             string          `json:"sessionId,omitempty"`
	Timestamp             time.Time       `json:"timestamp"`
	Properties            map[string]any  `json:"properties,omitempty"`
	ExperimentAssignments []AssignmentRef `json:"experimentAssignments,omitempty"`
}

// ExperimentID returns the experiment id this event is scoped to: the
// first entry of the embedded assignment snapshot. Multi-experiment
// events are attributed to their first assignment only.
func (e *AnalyticsEvent) ExperimentID() (string, bool) {
	if len(e.ExperimentAssignments) == 0 {
		return "", false
	}
	return e.ExperimentAssignments[0].ExperimentID, true
}

// Revenue returns the numeric totalAmount property, if present.
// JSON decoding yields float64 for numbers; integer values are accepted
// for events constructed in code.
func (e *AnalyticsEvent) Revenue() (float64, bool) {
	raw, ok := e.Properties[PropTotalAmount]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
