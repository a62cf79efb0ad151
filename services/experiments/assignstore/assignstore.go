// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assignstore persists sticky user assignments on top of a
// storage.Provider.
//
// All of a user's assignments live under a single key derived from the
// user id, encoded as a JSON array of assignment records. That layout
// matches the storefront client, which keeps one browser-storage entry
// per user, and keeps the provider contract to plain string get/set.
package assignstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopkit/experiments/services/experiments/datatypes"
	"github.com/shopkit/experiments/services/experiments/storage"
)

const keyPrefix = "assignments:"

// Key returns the provider key for a user's assignment record.
func Key(userID string) string {
	return keyPrefix + userID
}

// Store reads and writes UserAssignment records.
//
// Invariant: at most one record per (userId, experimentId). Put never
// overwrites an existing record for a pair; the first decision wins.
//
// Thread Safety: Safe for concurrent use across users. Callers must
// serialize Put calls for the same user (the orchestrator holds a
// per-user lock); concurrent writers to one key could otherwise lose a
// read-modify-write.
type Store struct {
	provider storage.Provider
	logger   *slog.Logger
}

// New creates a store over the given provider.
func New(provider storage.Provider, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{provider: provider, logger: logger}
}

// List returns all persisted assignments for the user.
//
// A corrupt record is logged and treated as empty rather than failing
// the call; assignment must degrade, not crash.
func (s *Store) List(ctx context.Context, userID string) ([]datatypes.UserAssignment, error) {
	raw, ok, err := s.provider.Get(ctx, Key(userID))
	if err != nil {
		return nil, fmt.Errorf("load assignments for %q: %w", userID, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var records []datatypes.UserAssignment
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		s.logger.Warn("corrupt assignment record; treating as empty",
			"user_id", userID, "error", err)
		return nil, nil
	}
	return records, nil
}

// Get returns the assignment for (userID, experimentID), or nil when
// none exists.
func (s *Store) Get(ctx context.Context, userID, experimentID string) (*datatypes.UserAssignment, error) {
	records, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ExperimentID == experimentID {
			return &records[i], nil
		}
	}
	return nil, nil
}

// Put persists a new assignment record.
//
// Description:
//
//	Read-modify-write over the user's record array. If a record for the
//	same experiment already exists it is kept unchanged and returned:
//	sticky decisions never mutate, they are only superseded by an
//	explicit identity reset.
//
// Outputs:
//   - *datatypes.UserAssignment: the authoritative stored record.
//   - error: non-nil on provider I/O failure.
func (s *Store) Put(ctx context.Context, assignment datatypes.UserAssignment) (*datatypes.UserAssignment, error) {
	records, err := s.List(ctx, assignment.UserID)
	if err != nil {
		return nil, err
	}

	for i := range records {
		if records[i].ExperimentID == assignment.ExperimentID {
			return &records[i], nil
		}
	}

	records = append(records, assignment)
	encoded, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode assignments for %q: %w", assignment.UserID, err)
	}
	if err := s.provider.Set(ctx, Key(assignment.UserID), string(encoded)); err != nil {
		return nil, fmt.Errorf("persist assignments for %q: %w", assignment.UserID, err)
	}
	return &assignment, nil
}

// Reset removes every assignment for the user. Used for explicit
// identity resets; a plain identity switch leaves records in place for
// when the identity returns.
func (s *Store) Reset(ctx context.Context, userID string) error {
	if err := s.provider.Remove(ctx, Key(userID)); err != nil {
		return fmt.Errorf("reset assignments for %q: %w", userID, err)
	}
	return nil
}
