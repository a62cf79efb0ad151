// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sqlite implements the event store on modernc.org/sqlite.
//
// Properties and assignment snapshots are stored as JSON text and
// decoded back at the boundary; the first snapshot entry is
// denormalized into experiment_id/variant_id columns so experiment
// queries and funnels stay indexable.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/shopkit/experiments/services/experiments/datatypes"
	"github.com/shopkit/experiments/services/experiments/eventstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	is_active          INTEGER NOT NULL DEFAULT 0,
	start_date         INTEGER,
	end_date           INTEGER,
	traffic_allocation INTEGER NOT NULL,
	variants           TEXT NOT NULL,
	targeting_rules    TEXT NOT NULL,
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS user_assignments (
	user_id       TEXT NOT NULL,
	experiment_id TEXT NOT NULL,
	variant_id    TEXT NOT NULL,
	assigned_at   INTEGER NOT NULL,
	sticky        INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (user_id, experiment_id)
);

CREATE INDEX IF NOT EXISTS idx_assignments_experiment
	ON user_assignments (experiment_id, variant_id);

CREATE TABLE IF NOT EXISTS analytics_events (
	event_id               TEXT PRIMARY KEY,
	event_type             TEXT NOT NULL,
	user_id                TEXT NOT NULL,
	session_id             TEXT NOT NULL DEFAULT '',
	timestamp              INTEGER NOT NULL,
	properties             TEXT NOT NULL DEFAULT '{}',
	experiment_assignments TEXT NOT NULL DEFAULT '[]',
	experiment_id          TEXT,
	variant_id             TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_user_time
	ON analytics_events (user_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_events_type_time
	ON analytics_events (event_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_time
	ON analytics_events (timestamp);
CREATE INDEX IF NOT EXISTS idx_events_experiment
	ON analytics_events (experiment_id, timestamp);
`

const eventColumns = `event_id, event_type, user_id, session_id, timestamp,
	properties, experiment_assignments`

// Store persists events, assignments, and experiment records in SQLite.
//
// Thread Safety: Safe for concurrent use; database/sql pools
// connections and WAL allows concurrent readers with one writer.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (creating if needed) a SQLite event store at path and
// applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// ----------------------------------------------------------------------------
// Events
// ----------------------------------------------------------------------------

// InsertEvent appends one immutable event row.
func (s *Store) InsertEvent(ctx context.Context, event datatypes.AnalyticsEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(event.EventID) == "" {
		return fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(event.EventType) == "" {
		return fmt.Errorf("event type is required")
	}
	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	properties, err := json.Marshal(event.Properties)
	if err != nil {
		return fmt.Errorf("encode event properties: %w", err)
	}
	snapshots, err := json.Marshal(event.ExperimentAssignments)
	if err != nil {
		return fmt.Errorf("encode assignment snapshot: %w", err)
	}
	if event.Properties == nil {
		properties = []byte("{}")
	}
	if event.ExperimentAssignments == nil {
		snapshots = []byte("[]")
	}

	var experimentID, variantID sql.NullString
	if len(event.ExperimentAssignments) > 0 {
		experimentID = sql.NullString{String: event.ExperimentAssignments[0].ExperimentID, Valid: true}
		variantID = sql.NullString{String: event.ExperimentAssignments[0].VariantID, Valid: true}
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO analytics_events (
		   event_id,
		   event_type,
		   user_id,
		   session_id,
		   timestamp,
		   properties,
		   experiment_assignments,
		   experiment_id,
		   variant_id
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID,
		event.EventType,
		event.UserID,
		event.SessionID,
		toMillis(timestamp),
		string(properties),
		string(snapshots),
		experimentID,
		variantID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event %q: %w", event.EventID, eventstore.ErrDuplicateEvent)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventsByUser returns the user's events, most recent first. A
// limit <= 0 means no limit.
func (s *Store) EventsByUser(ctx context.Context, userID string, limit int) ([]datatypes.AnalyticsEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM analytics_events
		WHERE user_id = ?
		ORDER BY timestamp DESC, event_id`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// EventsByType returns all events of the given type, ascending by time.
func (s *Store) EventsByType(ctx context.Context, eventType string) ([]datatypes.AnalyticsEvent, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+`
		FROM analytics_events
		WHERE event_type = ?
		ORDER BY timestamp, event_id`, eventType)
}

// EventsByRange returns events with from <= timestamp <= to, ascending.
func (s *Store) EventsByRange(ctx context.Context, from, to time.Time) ([]datatypes.AnalyticsEvent, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+`
		FROM analytics_events
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp, event_id`, toMillis(from), toMillis(to))
}

// EventsByExperiment returns events whose first assignment snapshot
// entry names the experiment, ascending by time.
func (s *Store) EventsByExperiment(ctx context.Context, experimentID string) ([]datatypes.AnalyticsEvent, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+`
		FROM analytics_events
		WHERE experiment_id = ?
		ORDER BY timestamp, event_id`, experimentID)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]datatypes.AnalyticsEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []datatypes.AnalyticsEvent
	for rows.Next() {
		var (
			event      datatypes.AnalyticsEvent
			millis     int64
			properties string
			snapshots  string
		)
		if err := rows.Scan(
			&event.EventID,
			&event.EventType,
			&event.UserID,
			&event.SessionID,
			&millis,
			&properties,
			&snapshots,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Timestamp = fromMillis(millis)
		if err := json.Unmarshal([]byte(properties), &event.Properties); err != nil {
			return nil, fmt.Errorf("decode event properties: %w", err)
		}
		if err := json.Unmarshal([]byte(snapshots), &event.ExperimentAssignments); err != nil {
			return nil, fmt.Errorf("decode assignment snapshot: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// ----------------------------------------------------------------------------
// Assignments and aggregates
// ----------------------------------------------------------------------------

// RecordAssignment upserts the analytics copy of a sticky assignment.
// The first decision wins; a replay for an existing pair is a no-op.
func (s *Store) RecordAssignment(ctx context.Context, assignment datatypes.UserAssignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	assignedAt := assignment.AssignedAt
	if assignedAt.IsZero() {
		assignedAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO user_assignments (user_id, experiment_id, variant_id, assigned_at, sticky)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, experiment_id) DO NOTHING`,
		assignment.UserID,
		assignment.ExperimentID,
		assignment.VariantID,
		toMillis(assignedAt),
		boolToInt(assignment.Sticky),
	)
	if err != nil {
		return fmt.Errorf("record assignment: %w", err)
	}
	return nil
}

// Funnel returns (variant, event type) counts over the experiment's
// assigned users, ordered by variant id then event type.
func (s *Store) Funnel(ctx context.Context, experimentID string) ([]eventstore.FunnelRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT ua.variant_id,
		        e.event_type,
		        COUNT(DISTINCT e.user_id) AS unique_users,
		        COUNT(*)                  AS total_events
		 FROM user_assignments ua
		 JOIN analytics_events e ON e.user_id = ua.user_id
		 WHERE ua.experiment_id = ?
		 GROUP BY ua.variant_id, e.event_type
		 ORDER BY ua.variant_id, e.event_type`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query funnel: %w", err)
	}
	defer rows.Close()

	var funnel []eventstore.FunnelRow
	for rows.Next() {
		var row eventstore.FunnelRow
		if err := rows.Scan(&row.VariantID, &row.EventType, &row.UniqueUsers, &row.TotalEvents); err != nil {
			return nil, fmt.Errorf("scan funnel row: %w", err)
		}
		funnel = append(funnel, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate funnel: %w", err)
	}
	return funnel, nil
}

// Summary aggregates each variant of the experiment: distinct assigned
// users, purchase conversions and revenue (the totalAmount property of
// purchase events), add-to-cart reach, and page views. Rates are
// computed over assigned users.
func (s *Store) Summary(ctx context.Context, experimentID string) ([]eventstore.VariantSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT ua.variant_id,
		        COUNT(DISTINCT ua.user_id) AS users,
		        COUNT(DISTINCT CASE WHEN e.event_type = ? THEN e.user_id END) AS conversions,
		        COALESCE(SUM(CASE WHEN e.event_type = ?
		            THEN COALESCE(json_extract(e.properties, '$.totalAmount'), 0) END), 0) AS revenue,
		        COUNT(DISTINCT CASE WHEN e.event_type = ? THEN e.user_id END) AS add_to_cart_users,
		        COUNT(CASE WHEN e.event_type = ? THEN 1 END) AS page_views
		 FROM user_assignments ua
		 LEFT JOIN analytics_events e ON e.user_id = ua.user_id
		 WHERE ua.experiment_id = ?
		 GROUP BY ua.variant_id
		 ORDER BY ua.variant_id`,
		datatypes.EventTypePurchase,
		datatypes.EventTypePurchase,
		datatypes.EventTypeAddToCart,
		datatypes.EventTypePageView,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var summaries []eventstore.VariantSummary
	for rows.Next() {
		var row eventstore.VariantSummary
		if err := rows.Scan(
			&row.VariantID,
			&row.Users,
			&row.Conversions,
			&row.Revenue,
			&row.AddToCartUsers,
			&row.PageViews,
		); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		if row.Users > 0 {
			row.ConversionRate = float64(row.Conversions) / float64(row.Users)
			row.RevenuePerUser = row.Revenue / float64(row.Users)
			row.AddToCartRate = float64(row.AddToCartUsers) / float64(row.Users)
		}
		summaries = append(summaries, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary: %w", err)
	}
	return summaries, nil
}

// ----------------------------------------------------------------------------
// Experiment records
// ----------------------------------------------------------------------------

// CreateExperiment inserts one experiment record.
func (s *Store) CreateExperiment(ctx context.Context, exp datatypes.Experiment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(exp.ID) == "" {
		return fmt.Errorf("experiment id is required")
	}
	variants, rules, err := encodeExperiment(exp)
	if err != nil {
		return err
	}
	now := toMillis(time.Now())
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO experiments (
		   id, name, description, is_active, start_date, end_date,
		   traffic_allocation, variants, targeting_rules, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID,
		exp.Name,
		exp.Description,
		boolToInt(exp.IsActive),
		zeroAsNullMillis(exp.StartDate),
		nullableMillis(exp.EndDate),
		exp.TrafficAllocation,
		variants,
		rules,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("experiment %q: %w", exp.ID, eventstore.ErrDuplicateExperiment)
		}
		return fmt.Errorf("create experiment: %w", err)
	}
	return nil
}

// GetExperiment returns one experiment record by id.
func (s *Store) GetExperiment(ctx context.Context, id string) (*datatypes.Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, name, description, is_active, start_date, end_date,
		        traffic_allocation, variants, targeting_rules
		 FROM experiments WHERE id = ?`,
		id,
	)
	exp, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment %q: %w", id, eventstore.ErrExperimentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	return exp, nil
}

// ListExperiments returns all experiment records ordered by id.
func (s *Store) ListExperiments(ctx context.Context) ([]datatypes.Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, name, description, is_active, start_date, end_date,
		        traffic_allocation, variants, targeting_rules
		 FROM experiments ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []datatypes.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("list experiments: %w", err)
		}
		experiments = append(experiments, *exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate experiments: %w", err)
	}
	return experiments, nil
}

// UpdateExperiment replaces an existing record.
func (s *Store) UpdateExperiment(ctx context.Context, exp datatypes.Experiment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	variants, rules, err := encodeExperiment(exp)
	if err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE experiments SET
		   name = ?, description = ?, is_active = ?, start_date = ?, end_date = ?,
		   traffic_allocation = ?, variants = ?, targeting_rules = ?, updated_at = ?
		 WHERE id = ?`,
		exp.Name,
		exp.Description,
		boolToInt(exp.IsActive),
		zeroAsNullMillis(exp.StartDate),
		nullableMillis(exp.EndDate),
		exp.TrafficAllocation,
		variants,
		rules,
		toMillis(time.Now()),
		exp.ID,
	)
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("experiment %q: %w", exp.ID, eventstore.ErrExperimentNotFound)
	}
	return nil
}

// DeleteExperiment removes one record by id.
func (s *Store) DeleteExperiment(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("experiment %q: %w", id, eventstore.ErrExperimentNotFound)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*datatypes.Experiment, error) {
	var (
		exp       datatypes.Experiment
		isActive  int
		startDate sql.NullInt64
		endDate   sql.NullInt64
		variants  string
		rules     string
	)
	if err := row.Scan(
		&exp.ID,
		&exp.Name,
		&exp.Description,
		&isActive,
		&startDate,
		&endDate,
		&exp.TrafficAllocation,
		&variants,
		&rules,
	); err != nil {
		return nil, err
	}
	exp.IsActive = isActive != 0
	if startDate.Valid {
		exp.StartDate = fromMillis(startDate.Int64)
	}
	if endDate.Valid {
		t := fromMillis(endDate.Int64)
		exp.EndDate = &t
	}
	if err := json.Unmarshal([]byte(variants), &exp.Variants); err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}
	if err := json.Unmarshal([]byte(rules), &exp.TargetingRules); err != nil {
		return nil, fmt.Errorf("decode targeting rules: %w", err)
	}
	return &exp, nil
}

func encodeExperiment(exp datatypes.Experiment) (variants, rules string, err error) {
	v, err := json.Marshal(exp.Variants)
	if err != nil {
		return "", "", fmt.Errorf("encode variants: %w", err)
	}
	r, err := json.Marshal(exp.TargetingRules)
	if err != nil {
		return "", "", fmt.Errorf("encode targeting rules: %w", err)
	}
	if exp.Variants == nil {
		v = []byte("[]")
	}
	if exp.TargetingRules == nil {
		r = []byte("[]")
	}
	return string(v), string(r), nil
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

// zeroAsNullMillis stores a zero time as NULL. A zero start date means
// "always started" and must round-trip as zero, not as the epoch.
func zeroAsNullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ eventstore.Store = (*Store)(nil)
