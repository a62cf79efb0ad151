// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package influxsink ships analytics events to InfluxDB as time-series
// points for operational dashboards. The SQLite event store remains the
// source of truth for funnel and summary queries; this sink exists so
// assignment and conversion rates show up on the same Grafana boards as
// the rest of the storefront.
package influxsink

import (
	"context"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/shopkit/experiments/services/experiments/analytics"
	"github.com/shopkit/experiments/services/experiments/datatypes"
)

const measurement = "experiment_events"

// Config holds the InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	Logger *slog.Logger
}

// Sink writes one point per event using the blocking write API.
//
// Thread Safety: Safe for concurrent use; the blocking write API is
// safe for concurrent writers.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *slog.Logger
}

// New connects to InfluxDB and returns a sink ready to track events.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influxsink: url, org, and bucket are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Sink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:   logger,
	}, nil
}

// Track converts the event to a point and writes it synchronously.
func (s *Sink) Track(ctx context.Context, event datatypes.AnalyticsEvent) error {
	tags := map[string]string{
		"event_type": event.EventType,
	}
	if expID, ok := event.ExperimentID(); ok {
		tags["experiment_id"] = expID
	}
	if len(event.ExperimentAssignments) > 0 {
		tags["variant_id"] = event.ExperimentAssignments[0].VariantID
	}

	fields := map[string]interface{}{
		"user_id":    event.UserID,
		"session_id": event.SessionID,
		"count":      1,
	}
	if revenue, ok := event.Revenue(); ok {
		fields["revenue"] = revenue
	}

	point := influxdb2.NewPoint(measurement, tags, fields, event.Timestamp)
	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("influxsink: write point: %w", err)
	}
	return nil
}

// Close releases the underlying client. Pending blocking writes have
// already completed by the time Track returns, so there is nothing to
// flush.
func (s *Sink) Close() {
	s.client.Close()
}

var _ analytics.Tracker = (*Sink)(nil)
