// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eventstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shopkit/experiments/services/experiments/analytics"
	"github.com/shopkit/experiments/services/experiments/datatypes"
)

// Sink adapts an EventStore into an analytics.Tracker so orchestrator
// lifecycle events land in the same log as storefront events.
type Sink struct {
	store  EventStore
	logger *slog.Logger
}

// NewSink wraps the store as a tracker.
func NewSink(store EventStore, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: store, logger: logger}
}

// Track inserts the event, filling in a UUID event id and the current
// time when the producer left them empty. A duplicate id means the
// event was already delivered; that is logged and swallowed.
func (s *Sink) Track(ctx context.Context, event datatypes.AnalyticsEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	err := s.store.InsertEvent(ctx, event)
	if errors.Is(err, ErrDuplicateEvent) {
		s.logger.Debug("event already recorded", "event_id", event.EventID)
		return nil
	}
	return err
}

var _ analytics.Tracker = (*Sink)(nil)
