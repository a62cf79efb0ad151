// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage defines the key-value persistence abstraction behind
// sticky assignments.
//
// The interface mirrors the browser-storage contract the storefront
// uses on the client: get, set, and remove over string keys and values.
// Implementations decide durability:
//
//	Memory  - process-local only (default for tests and degraded mode)
//	Nop     - discards everything (assignment works, nothing sticks
//	          across a restart)
//	badgerstore.Store - embedded BadgerDB persistence (production)
//
// Callers treat provider failures as degradable: the orchestrator logs
// them and carries on with in-memory state for the affected call.
package storage

import (
	"context"
	"sync"
)

// -----------------------------------------------------------------------------
// Provider Interface
// -----------------------------------------------------------------------------

// Provider is a persistent string key-value store.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Provider interface {
	// Get returns the value for key. The boolean is false when the key
	// is absent; error is reserved for I/O failures.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// -----------------------------------------------------------------------------
// Memory Provider
// -----------------------------------------------------------------------------

// Memory is a process-local Provider backed by a map.
//
// Thread Safety: Safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get implements Provider.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok, nil
}

// Set implements Provider.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Remove implements Provider.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// -----------------------------------------------------------------------------
// Nop Provider
// -----------------------------------------------------------------------------

// Nop discards writes and never finds keys. Useful when sticky
// persistence is disabled entirely.
type Nop struct{}

// Get implements Provider.
func (Nop) Get(context.Context, string) (string, bool, error) { return "", false, nil }

// Set implements Provider.
func (Nop) Set(context.Context, string, string) error { return nil }

// Remove implements Provider.
func (Nop) Remove(context.Context, string) error { return nil }

var (
	_ Provider = (*Memory)(nil)
	_ Provider = Nop{}
)
