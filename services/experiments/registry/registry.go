// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry holds the in-memory experiment catalog.
//
// The registry is read-mostly: assignment evaluation takes the read
// side of an RWMutex, while reloads validate a full replacement set and
// swap it in under the write lock. Malformed definitions are rejected
// at load time, never at evaluation time.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shopkit/experiments/services/experiments/datatypes"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrUnknownExperiment indicates a lookup for an id not in the catalog.
	ErrUnknownExperiment = errors.New("unknown experiment")

	// ErrInvalidDefinition indicates a definition failed load-time
	// validation. The wrapping error names the experiment and field.
	ErrInvalidDefinition = errors.New("invalid experiment definition")
)

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// Registry is the validated in-memory experiment catalog.
//
// Thread Safety: Safe for concurrent use. Reads never block each other;
// Load replaces the whole catalog atomically.
type Registry struct {
	mu          sync.RWMutex
	experiments map[string]*datatypes.Experiment
	order       []string

	validate *validator.Validate
	logger   *slog.Logger
}

// New creates an empty registry.
//
// Inputs:
//   - logger: logger for load diagnostics. If nil, slog.Default() is used.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		experiments: make(map[string]*datatypes.Experiment),
		validate:    validator.New(),
		logger:      logger,
	}
}

// Load validates the definitions and replaces the catalog with them.
//
// Description:
//
//	All-or-nothing: if any definition is invalid the current catalog is
//	left untouched and the first validation error is returned, wrapped
//	with ErrInvalidDefinition.
//
// Thread Safety: Safe for concurrent use; readers observe either the
// old or the new catalog, never a mix.
func (r *Registry) Load(definitions []datatypes.Experiment) error {
	next := make(map[string]*datatypes.Experiment, len(definitions))
	order := make([]string, 0, len(definitions))

	for i := range definitions {
		exp := definitions[i]
		if err := r.validateExperiment(&exp); err != nil {
			return err
		}
		if _, dup := next[exp.ID]; dup {
			return fmt.Errorf("%w: duplicate experiment id %q", ErrInvalidDefinition, exp.ID)
		}
		next[exp.ID] = &exp
		order = append(order, exp.ID)
	}

	r.mu.Lock()
	r.experiments = next
	r.order = order
	r.mu.Unlock()

	r.logger.Info("experiment catalog loaded", "experiments", len(order))
	return nil
}

// LoadFile reads a YAML definitions file and loads it.
//
// The file holds a list of experiment definitions:
//
//	- id: homepage-hero-test
//	  name: Homepage hero
//	  isActive: true
//	  trafficAllocation: 100
//	  variants:
//	    - {id: control, name: Control, weight: 50, isControl: true}
//	    - {id: treatment, name: Treatment, weight: 50}
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read definitions file: %w", err)
	}
	var definitions []datatypes.Experiment
	if err := yaml.Unmarshal(data, &definitions); err != nil {
		return fmt.Errorf("parse definitions file: %w", err)
	}
	return r.Load(definitions)
}

// Get returns the experiment with the given id.
//
// The returned definition is shared and must be treated as read-only.
func (r *Registry) Get(id string) (*datatypes.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exp, ok := r.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExperiment, id)
	}
	return exp, nil
}

// List returns all experiments in load order.
func (r *Registry) List() []*datatypes.Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*datatypes.Experiment, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.experiments[id])
	}
	return out
}

// Active returns the experiments running at the given instant,
// in load order.
func (r *Registry) Active(now time.Time) []*datatypes.Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*datatypes.Experiment, 0, len(r.order))
	for _, id := range r.order {
		if exp := r.experiments[id]; exp.RunningAt(now) {
			out = append(out, exp)
		}
	}
	return out
}

// Len returns the number of catalogued experiments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.experiments)
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

func (r *Registry) validateExperiment(exp *datatypes.Experiment) error {
	return validateWith(r.validate, exp)
}

// Validate checks a single definition against the catalog rules without
// loading it. The records API uses this before persisting a definition.
func Validate(exp *datatypes.Experiment) error {
	return validateWith(defaultValidator, exp)
}

var defaultValidator = validator.New()

func validateWith(validate *validator.Validate, exp *datatypes.Experiment) error {
	if err := validate.Struct(exp); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidDefinition, exp.ID, err)
	}

	if exp.TotalWeight() <= 0 {
		return fmt.Errorf("%w: %q: total variant weight must be positive", ErrInvalidDefinition, exp.ID)
	}

	seen := make(map[string]bool, len(exp.Variants))
	controls := 0
	for _, v := range exp.Variants {
		if seen[v.ID] {
			return fmt.Errorf("%w: %q: duplicate variant id %q", ErrInvalidDefinition, exp.ID, v.ID)
		}
		seen[v.ID] = true
		if v.IsControl {
			controls++
		}
	}
	if controls > 1 {
		return fmt.Errorf("%w: %q: at most one control variant allowed", ErrInvalidDefinition, exp.ID)
	}

	for _, rule := range exp.TargetingRules {
		if !rule.Operator.Valid() {
			return fmt.Errorf("%w: %q: unsupported operator %q", ErrInvalidDefinition, exp.ID, rule.Operator)
		}
	}

	if exp.EndDate != nil && !exp.StartDate.IsZero() && exp.EndDate.Before(exp.StartDate) {
		return fmt.Errorf("%w: %q: end date precedes start date", ErrInvalidDefinition, exp.ID)
	}

	return nil
}
