// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package eventstore defines the append-only analytics event log and
// the experiment record store the reporting endpoints read from.
//
// Events are immutable once inserted. Timestamps, not insertion order,
// are authoritative for ordering; every query that returns multiple
// events states its ordering explicitly.
package eventstore

import (
	"context"
	"errors"
	"time"

	"github.com/shopkit/experiments/services/experiments/datatypes"
)

var (
	// ErrDuplicateEvent is returned when an event id already exists.
	ErrDuplicateEvent = errors.New("duplicate event id")

	// ErrDuplicateExperiment is returned when creating an experiment
	// record whose id already exists.
	ErrDuplicateExperiment = errors.New("duplicate experiment id")

	// ErrExperimentNotFound is returned by record lookups and updates
	// for an unknown experiment id.
	ErrExperimentNotFound = errors.New("experiment not found")
)

// ----------------------------------------------------------------------------
// Aggregate rows
// ----------------------------------------------------------------------------

// FunnelRow counts one (variant, event type) cell of an experiment
// funnel: how many distinct assigned users produced the event type, and
// how many times in total.
type FunnelRow struct {
	VariantID   string `json:"variantId"`
	EventType   string `json:"eventType"`
	UniqueUsers int64  `json:"uniqueUsers"`
	TotalEvents int64  `json:"totalEvents"`
}

// VariantSummary aggregates one variant of an experiment: assigned
// users, purchase conversions and revenue, add-to-cart reach, and page
// views. Rates are fractions in [0, 1], zero when no users are
// assigned.
type VariantSummary struct {
	VariantID      string  `json:"variantId"`
	Users          int64   `json:"users"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversionRate"`
	Revenue        float64 `json:"revenue"`
	RevenuePerUser float64 `json:"revenuePerUser"`
	AddToCartUsers int64   `json:"addToCartUsers"`
	AddToCartRate  float64 `json:"addToCartRate"`
	PageViews      int64   `json:"pageViews"`
}

// ----------------------------------------------------------------------------
// Store contracts
// ----------------------------------------------------------------------------

// EventStore is the append-only analytics log plus its read queries.
type EventStore interface {
	// InsertEvent appends one event. Returns ErrDuplicateEvent when the
	// event id is already present.
	InsertEvent(ctx context.Context, event datatypes.AnalyticsEvent) error

	// EventsByUser returns the user's events, most recent first. A
	// limit <= 0 means no limit.
	EventsByUser(ctx context.Context, userID string, limit int) ([]datatypes.AnalyticsEvent, error)

	// EventsByType returns all events of one type, ascending by time.
	EventsByType(ctx context.Context, eventType string) ([]datatypes.AnalyticsEvent, error)

	// EventsByRange returns events with from <= timestamp <= to,
	// ascending by time.
	EventsByRange(ctx context.Context, from, to time.Time) ([]datatypes.AnalyticsEvent, error)

	// EventsByExperiment returns events whose first embedded assignment
	// snapshot entry names the experiment, ascending by time.
	EventsByExperiment(ctx context.Context, experimentID string) ([]datatypes.AnalyticsEvent, error)

	// RecordAssignment upserts the analytics copy of a sticky
	// assignment; summaries and funnels join against these rows.
	RecordAssignment(ctx context.Context, assignment datatypes.UserAssignment) error

	// Funnel returns funnel rows for the experiment, ordered by variant
	// id then event type.
	Funnel(ctx context.Context, experimentID string) ([]FunnelRow, error)

	// Summary returns per-variant summaries for the experiment, ordered
	// by variant id.
	Summary(ctx context.Context, experimentID string) ([]VariantSummary, error)
}

// ExperimentStore persists experiment definition records for the admin
// surface.
type ExperimentStore interface {
	CreateExperiment(ctx context.Context, exp datatypes.Experiment) error
	GetExperiment(ctx context.Context, id string) (*datatypes.Experiment, error)
	ListExperiments(ctx context.Context) ([]datatypes.Experiment, error)
	UpdateExperiment(ctx context.Context, exp datatypes.Experiment) error
	DeleteExperiment(ctx context.Context, id string) error
}

// Store is the full relational surface a backing implementation
// provides.
type Store interface {
	EventStore
	ExperimentStore
	Close() error
}
