// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package metrics exposes the Prometheus collectors for the experiment
// engine. All metrics use the "experiments_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AssignmentsTotal counts fresh variant assignments by experiment and variant.
	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiments_assignments_total",
		Help: "Total fresh variant assignments by experiment and variant",
	}, []string{"experiment", "variant"})

	// StickyHitsTotal counts GetVariant calls answered by an existing assignment.
	StickyHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiments_sticky_hits_total",
		Help: "Total lookups answered by an existing sticky assignment",
	}, []string{"experiment"})

	// ExclusionsTotal counts users excluded from an experiment by reason
	// (traffic, targeting, no_variants).
	ExclusionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiments_exclusions_total",
		Help: "Total exclusions by experiment and reason",
	}, []string{"experiment", "reason"})

	// ConversionsTotal counts tracked conversions by experiment and variant.
	ConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiments_conversions_total",
		Help: "Total tracked conversions by experiment and variant",
	}, []string{"experiment", "variant"})

	// TrackerErrorsTotal counts analytics sink delivery failures.
	TrackerErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "experiments_tracker_errors_total",
		Help: "Total analytics sink delivery failures",
	})

	// StorageErrorsTotal counts assignment store failures by operation.
	// These are degraded, not propagated, so the counter is the only
	// place they surface besides logs.
	StorageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiments_storage_errors_total",
		Help: "Total assignment store failures by operation",
	}, []string{"operation"})

	// EventsIngestedTotal counts analytics events accepted by the records API.
	EventsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiments_events_ingested_total",
		Help: "Total analytics events accepted, by event type",
	}, []string{"event_type"})

	// RegistryReloadsTotal counts definitions-file reloads by result.
	RegistryReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiments_registry_reloads_total",
		Help: "Total experiment definitions reloads by result",
	}, []string{"result"})
)
