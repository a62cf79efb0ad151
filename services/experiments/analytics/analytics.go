// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analytics defines the tracker abstraction the orchestrator
// emits lifecycle events through.
//
// Trackers are best-effort sinks: a failing tracker must never fail an
// assignment or a conversion, so Track returns an error for the caller
// to log and count, not to propagate.
package analytics

import (
	"context"
	"sync"

	"github.com/shopkit/experiments/services/experiments/datatypes"
)

// Tracker receives analytics events as they are produced.
type Tracker interface {
	// Track delivers one event to the sink.
	Track(ctx context.Context, event datatypes.AnalyticsEvent) error
}

// ----------------------------------------------------------------------------
// No-op tracker
// ----------------------------------------------------------------------------

// Nop discards every event. Used when no sink is configured.
type Nop struct{}

func (Nop) Track(context.Context, datatypes.AnalyticsEvent) error { return nil }

// ----------------------------------------------------------------------------
// Buffered tracker
// ----------------------------------------------------------------------------

// Buffered collects events in memory. Meant for tests and local runs.
//
// Thread Safety: Safe for concurrent use.
type Buffered struct {
	mu     sync.Mutex
	events []datatypes.AnalyticsEvent
}

func NewBuffered() *Buffered {
	return &Buffered{}
}

func (b *Buffered) Track(_ context.Context, event datatypes.AnalyticsEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

// Events returns a copy of everything tracked so far.
func (b *Buffered) Events() []datatypes.AnalyticsEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]datatypes.AnalyticsEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Reset drops all buffered events.
func (b *Buffered) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// ----------------------------------------------------------------------------
// Fan-out tracker
// ----------------------------------------------------------------------------

// Multi forwards each event to every child tracker and returns the
// first error, after all children have been attempted.
type Multi []Tracker

func (m Multi) Track(ctx context.Context, event datatypes.AnalyticsEvent) error {
	var firstErr error
	for _, t := range m {
		if err := t.Track(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ Tracker = Nop{}
	_ Tracker = (*Buffered)(nil)
	_ Tracker = Multi(nil)
)
