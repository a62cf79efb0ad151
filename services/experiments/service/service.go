// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package service implements the experiment orchestrator: it owns the
// current user subject, answers variant lookups against the registry,
// keeps assignments sticky through the assignment store, and emits
// lifecycle events through the analytics tracker.
//
// The orchestrator never fails a caller over infrastructure: storage
// and sink errors are logged and counted, and the in-memory assignment
// remains authoritative for the session.
package service

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shopkit/experiments/services/experiments/analytics"
	"github.com/shopkit/experiments/services/experiments/assign"
	"github.com/shopkit/experiments/services/experiments/assignstore"
	"github.com/shopkit/experiments/services/experiments/datatypes"
	"github.com/shopkit/experiments/services/experiments/metrics"
	"github.com/shopkit/experiments/services/experiments/registry"
)

const lockStripes = 64

// AssignmentRecorder receives the analytics copy of each fresh
// assignment. The relational event store satisfies this.
type AssignmentRecorder interface {
	RecordAssignment(ctx context.Context, assignment datatypes.UserAssignment) error
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Registry    *registry.Registry
	Assignments *assignstore.Store

	// Tracker receives lifecycle and storefront events. Defaults to
	// analytics.Nop.
	Tracker analytics.Tracker

	// Recorder mirrors fresh assignments into the reporting store.
	// Optional.
	Recorder AssignmentRecorder

	Logger *slog.Logger

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Service is the experiment orchestrator.
//
// Description:
//
//	Tracks one current user subject at a time, mirroring the storefront
//	client it backs. Each experiment is, per user, in exactly one of
//	three states: unevaluated, excluded for the session, or assigned
//	with a sticky record. The only way back to unevaluated is an
//	identity change via SetUser.
//
// Thread Safety: Safe for concurrent use. The check-existing →
// compute → persist unit runs under a lock striped by user id.
type Service struct {
	registry    *registry.Registry
	assignments *assignstore.Store
	tracker     analytics.Tracker
	recorder    AssignmentRecorder
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time

	stripes [lockStripes]sync.Mutex

	mu        sync.RWMutex
	user      *datatypes.User
	sessionID string
	// session holds the current user's per-experiment decisions. A nil
	// value records a session exclusion so the gates are not re-run and
	// re-counted on every lookup.
	session map[string]*datatypes.UserAssignment
}

// New creates an orchestrator from the config. Registry and Assignments
// are required.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = analytics.Nop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		registry:    cfg.Registry,
		assignments: cfg.Assignments,
		tracker:     tracker,
		recorder:    cfg.Recorder,
		logger:      logger,
		tracer:      otel.Tracer("experiments"),
		now:         now,
		session:     make(map[string]*datatypes.UserAssignment),
	}
}

func (s *Service) userLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &s.stripes[h.Sum32()%lockStripes]
}

// ----------------------------------------------------------------------------
// Subject management
// ----------------------------------------------------------------------------

// SetUser replaces the current subject and evaluates every active
// experiment for it before returning.
//
// Description:
//
//	Clears all session state from the previous identity, starts a new
//	session id, loads the new user's persisted sticky assignments, and
//	assigns any active experiment the user has no record for yet.
//	Persisted records for the previous identity stay in the store; they
//	are found again if that identity returns.
func (s *Service) SetUser(ctx context.Context, user datatypes.User) {
	ctx, span := s.tracer.Start(ctx, "experiments.Service.SetUser",
		trace.WithAttributes(attribute.String("user.id", user.ID)))
	defer span.End()

	lock := s.userLock(user.ID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	s.user = &user
	s.sessionID = uuid.NewString()
	s.session = make(map[string]*datatypes.UserAssignment)
	s.mu.Unlock()

	persisted, err := s.assignments.List(ctx, user.ID)
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("list").Inc()
		s.logger.Warn("assignment store unavailable; continuing in memory",
			"user_id", user.ID, "error", err)
	}
	known := make(map[string]datatypes.UserAssignment, len(persisted))
	for _, record := range persisted {
		known[record.ExperimentID] = record
	}

	for _, exp := range s.registry.Active(s.now()) {
		if record, ok := known[exp.ID]; ok {
			rec := record
			s.putSession(user.ID, exp.ID, &rec)
			continue
		}
		s.evaluateLocked(ctx, user, exp)
	}
}

// CurrentUser returns the active subject, or nil when none is set.
func (s *Service) CurrentUser() *datatypes.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// ResetUser deletes the current user's persisted assignments and
// re-evaluates from scratch. This is the explicit escape hatch from
// stickiness, used by support tooling.
func (s *Service) ResetUser(ctx context.Context) {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()
	if user == nil {
		return
	}
	if err := s.assignments.Reset(ctx, user.ID); err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("reset").Inc()
		s.logger.Warn("assignment reset failed", "user_id", user.ID, "error", err)
	}
	s.SetUser(ctx, *user)
}

// ----------------------------------------------------------------------------
// Variant lookup
// ----------------------------------------------------------------------------

// GetVariant returns the current user's variant for the experiment, or
// nil when the user is excluded, the experiment is unknown or not
// running, or no user is set. It never returns an error; failures
// degrade to nil with a log line.
func (s *Service) GetVariant(ctx context.Context, experimentID string) *datatypes.Variant {
	ctx, span := s.tracer.Start(ctx, "experiments.Service.GetVariant",
		trace.WithAttributes(attribute.String("experiment.id", experimentID)))
	defer span.End()

	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()
	if user == nil {
		s.logger.Debug("variant lookup without a user", "experiment_id", experimentID)
		return nil
	}

	exp, err := s.registry.Get(experimentID)
	if err != nil {
		s.logger.Debug("variant lookup for unknown experiment", "experiment_id", experimentID)
		return nil
	}
	if !exp.RunningAt(s.now()) {
		return nil
	}

	lock := s.userLock(user.ID)
	lock.Lock()
	defer lock.Unlock()

	// The subject may have been replaced while waiting on the lock; the
	// session map then belongs to the new identity.
	s.mu.RLock()
	replaced := s.user == nil || s.user.ID != user.ID
	s.mu.RUnlock()
	if replaced {
		return nil
	}

	if record, ok := s.getSession(experimentID); ok {
		if record == nil {
			return nil
		}
		metrics.StickyHitsTotal.WithLabelValues(experimentID).Inc()
		return exp.Variant(record.VariantID)
	}

	record := s.evaluateLocked(ctx, *user, exp)
	if record == nil {
		return nil
	}
	return exp.Variant(record.VariantID)
}

// evaluateLocked runs check-existing → compute → persist for one
// (user, experiment) pair. The caller holds the user's stripe lock.
func (s *Service) evaluateLocked(ctx context.Context, user datatypes.User, exp *datatypes.Experiment) *datatypes.UserAssignment {
	// Sticky record beats recomputation even if weights changed since.
	existing, err := s.assignments.Get(ctx, user.ID, exp.ID)
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("get").Inc()
		s.logger.Warn("assignment store unavailable; computing in memory",
			"user_id", user.ID, "experiment_id", exp.ID, "error", err)
	}
	if existing != nil {
		s.putSession(user.ID, exp.ID, existing)
		metrics.StickyHitsTotal.WithLabelValues(exp.ID).Inc()
		return existing
	}

	variant, outcome := assign.Assign(user, exp)
	if variant == nil {
		metrics.ExclusionsTotal.WithLabelValues(exp.ID, outcome.String()).Inc()
		s.logger.Debug("user excluded from experiment",
			"user_id", user.ID, "experiment_id", exp.ID, "reason", outcome.String())
		s.putSession(user.ID, exp.ID, nil)
		return nil
	}

	record := datatypes.UserAssignment{
		UserID:       user.ID,
		ExperimentID: exp.ID,
		VariantID:    variant.ID,
		AssignedAt:   s.now().UTC(),
		Sticky:       true,
	}

	stored, err := s.assignments.Put(ctx, record)
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("put").Inc()
		s.logger.Warn("assignment not persisted; sticky for this session only",
			"user_id", user.ID, "experiment_id", exp.ID, "error", err)
	} else {
		// A concurrent writer may have won; their record is the truth.
		record = *stored
	}
	current := s.putSession(user.ID, exp.ID, &record)

	if s.recorder != nil {
		if err := s.recorder.RecordAssignment(ctx, record); err != nil {
			s.logger.Warn("assignment not mirrored to reporting store",
				"user_id", user.ID, "experiment_id", exp.ID, "error", err)
		}
	}

	metrics.AssignmentsTotal.WithLabelValues(exp.ID, record.VariantID).Inc()
	s.logger.Info("user assigned to variant",
		"user_id", user.ID,
		"experiment_id", exp.ID,
		"variant_id", record.VariantID,
		"is_control", variant.IsControl)

	// The emitted event is stamped with the current subject and session;
	// if the subject changed mid-evaluation the event would carry the
	// wrong identity, so it is skipped. The sticky record itself stands.
	if current {
		s.emit(ctx, datatypes.EventTypeAssigned, map[string]any{
			"experimentId": exp.ID,
			"variantId":    record.VariantID,
			"isControl":    variant.IsControl,
		}, &datatypes.AssignmentRef{ExperimentID: exp.ID, VariantID: record.VariantID})
	}
	return &record
}

// ----------------------------------------------------------------------------
// Tracking
// ----------------------------------------------------------------------------

// TrackConversion records a conversion for the experiment against the
// user's assigned variant. Without a user or an assignment it is a
// logged no-op.
func (s *Service) TrackConversion(ctx context.Context, experimentID, conversionType string, value float64) {
	ctx, span := s.tracer.Start(ctx, "experiments.Service.TrackConversion",
		trace.WithAttributes(
			attribute.String("experiment.id", experimentID),
			attribute.String("conversion.type", conversionType),
		))
	defer span.End()

	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()
	if user == nil {
		s.logger.Debug("conversion without a user", "experiment_id", experimentID)
		return
	}

	lock := s.userLock(user.ID)
	lock.Lock()
	record, ok := s.getSession(experimentID)
	lock.Unlock()
	if !ok || record == nil {
		s.logger.Debug("conversion without an assignment",
			"user_id", user.ID, "experiment_id", experimentID)
		return
	}

	metrics.ConversionsTotal.WithLabelValues(experimentID, record.VariantID).Inc()
	s.emit(ctx, datatypes.EventTypeConverted, map[string]any{
		"experimentId":    experimentID,
		"variantId":       record.VariantID,
		"conversionType":  conversionType,
		"conversionValue": value,
	}, &datatypes.AssignmentRef{ExperimentID: experimentID, VariantID: record.VariantID})
}

// Track records a storefront event for the current user, stamping the
// full active-assignment snapshot onto it.
func (s *Service) Track(ctx context.Context, eventType string, properties map[string]any) {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()
	if user == nil {
		s.logger.Debug("event without a user", "event_type", eventType)
		return
	}
	s.emit(ctx, eventType, properties, nil)
}

// ActiveAssignments returns the current user's assignments, one per
// experiment the user is assigned to.
func (s *Service) ActiveAssignments() []datatypes.UserAssignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datatypes.UserAssignment, 0, len(s.session))
	for _, record := range s.session {
		if record != nil {
			out = append(out, *record)
		}
	}
	return out
}

// ----------------------------------------------------------------------------
// Internals
// ----------------------------------------------------------------------------

func (s *Service) getSession(experimentID string) (*datatypes.UserAssignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.session[experimentID]
	return record, ok
}

// putSession stores a decision for the subject's session. It reports
// false without storing when userID is no longer the current subject:
// an evaluation in flight across a SetUser identity switch must not
// land its result in the new subject's session.
func (s *Service) putSession(userID, experimentID string, record *datatypes.UserAssignment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil || s.user.ID != userID {
		return false
	}
	s.session[experimentID] = record
	return true
}

// emit builds the event envelope and hands it to the tracker. The
// primary ref, when set, leads the assignment snapshot so experiment
// queries scope the event correctly. Tracker failures are counted and
// logged, never propagated.
func (s *Service) emit(ctx context.Context, eventType string, properties map[string]any, primary *datatypes.AssignmentRef) {
	s.mu.RLock()
	user := s.user
	sessionID := s.sessionID
	snapshot := make([]datatypes.AssignmentRef, 0, len(s.session))
	if primary != nil {
		snapshot = append(snapshot, *primary)
	}
	for _, record := range s.session {
		if record == nil {
			continue
		}
		if primary != nil && record.ExperimentID == primary.ExperimentID {
			continue
		}
		snapshot = append(snapshot, datatypes.AssignmentRef{
			ExperimentID: record.ExperimentID,
			VariantID:    record.VariantID,
		})
	}
	s.mu.RUnlock()
	if user == nil {
		return
	}

	event := datatypes.AnalyticsEvent{
		EventID:               uuid.NewString(),
		EventType:             eventType,
		UserID:                user.ID,
		SessionID:             sessionID,
		Timestamp:             s.now().UTC(),
		Properties:            properties,
		ExperimentAssignments: snapshot,
	}
	if err := s.tracker.Track(ctx, event); err != nil {
		metrics.TrackerErrorsTotal.Inc()
		s.logger.Warn("analytics event not delivered",
			"event_type", eventType, "user_id", user.ID, "error", err)
	}
}
