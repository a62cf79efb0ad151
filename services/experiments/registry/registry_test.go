// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopkit/experiments/services/experiments/datatypes"
)

func validExperiment(id string) datatypes.Experiment {
	return datatypes.Experiment{
		ID:                id,
		Name:              "test " + id,
		IsActive:          true,
		TrafficAllocation: 100,
		Variants: []datatypes.Variant{
			{ID: "control", Name: "Control", Weight: 50, IsControl: true},
			{ID: "treatment", Name: "Treatment", Weight: 50},
		},
	}
}

func TestLoadAndGet(t *testing.T) {
	reg := New(nil)
	require.NoError(t, reg.Load([]datatypes.Experiment{validExperiment("exp-1"), validExperiment("exp-2")}))

	exp, err := reg.Get("exp-1")
	require.NoError(t, err)
	assert.Equal(t, "exp-1", exp.ID)
	assert.Equal(t, 2, reg.Len())

	_, err = reg.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownExperiment)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*datatypes.Experiment)
	}{
		{"missing id", func(e *datatypes.Experiment) { e.ID = "" }},
		{"no variants", func(e *datatypes.Experiment) { e.Variants = nil }},
		{"zero total weight", func(e *datatypes.Experiment) {
			for i := range e.Variants {
				e.Variants[i].Weight = 0
			}
		}},
		{"negative allocation", func(e *datatypes.Experiment) { e.TrafficAllocation = -1 }},
		{"allocation over 100", func(e *datatypes.Experiment) { e.TrafficAllocation = 101 }},
		{"duplicate variant ids", func(e *datatypes.Experiment) { e.Variants[1].ID = e.Variants[0].ID }},
		{"two controls", func(e *datatypes.Experiment) { e.Variants[1].IsControl = true }},
		{"bad operator", func(e *datatypes.Experiment) {
			e.TargetingRules = []datatypes.TargetingRule{
				{Property: "country", Operator: "matches", Value: "DE"},
			}
		}},
		{"end before start", func(e *datatypes.Experiment) {
			e.StartDate = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
			end := e.StartDate.Add(-time.Hour)
			e.EndDate = &end
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New(nil)
			exp := validExperiment("exp-1")
			tt.mutate(&exp)
			err := reg.Load([]datatypes.Experiment{exp})
			assert.ErrorIs(t, err, ErrInvalidDefinition)
			assert.Equal(t, 0, reg.Len(), "failed load must not mutate the catalog")
		})
	}
}

func TestLoadRejectsDuplicateExperiments(t *testing.T) {
	reg := New(nil)
	err := reg.Load([]datatypes.Experiment{validExperiment("exp-1"), validExperiment("exp-1")})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestLoadKeepsPreviousCatalogOnFailure(t *testing.T) {
	reg := New(nil)
	require.NoError(t, reg.Load([]datatypes.Experiment{validExperiment("exp-1")}))

	bad := validExperiment("exp-2")
	bad.Variants = nil
	require.Error(t, reg.Load([]datatypes.Experiment{bad}))

	_, err := reg.Get("exp-1")
	assert.NoError(t, err, "previous catalog must survive a failed load")
}

func TestActive(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	running := validExperiment("running")

	inactive := validExperiment("inactive")
	inactive.IsActive = false

	future := validExperiment("future")
	future.StartDate = now.Add(24 * time.Hour)

	ended := validExperiment("ended")
	ended.StartDate = now.Add(-48 * time.Hour)
	endedAt := now.Add(-time.Hour)
	ended.EndDate = &endedAt

	reg := New(nil)
	require.NoError(t, reg.Load([]datatypes.Experiment{running, inactive, future, ended}))

	active := reg.Active(now)
	require.Len(t, active, 1)
	assert.Equal(t, "running", active[0].ID)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "experiments.yaml")

	definitions := `
- id: homepage-hero-test
  name: Homepage hero
  isActive: true
  trafficAllocation: 50
  variants:
    - id: control
      name: Control
      weight: 50
      isControl: true
    - id: treatment
      name: Treatment
      weight: 50
  targetingRules:
    - property: country
      operator: equals
      value: DE
`
	require.NoError(t, os.WriteFile(path, []byte(definitions), 0644))

	reg := New(nil)
	require.NoError(t, reg.LoadFile(path))

	exp, err := reg.Get("homepage-hero-test")
	require.NoError(t, err)
	assert.Equal(t, 50, exp.TrafficAllocation)
	require.Len(t, exp.TargetingRules, 1)
	assert.Equal(t, datatypes.OpEquals, exp.TargetingRules[0].Operator)

	t.Run("missing file", func(t *testing.T) {
		err := reg.LoadFile(filepath.Join(dir, "absent.yaml"))
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrInvalidDefinition))
	})
}
