// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assignstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopkit/experiments/services/experiments/datatypes"
	"github.com/shopkit/experiments/services/experiments/storage"
)

func newTestStore() (*Store, *storage.Memory) {
	mem := storage.NewMemory()
	return New(mem, nil), mem
}

func assignment(userID, expID, variantID string) datatypes.UserAssignment {
	return datatypes.UserAssignment{
		UserID:       userID,
		ExperimentID: expID,
		VariantID:    variantID,
		AssignedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Sticky:       true,
	}
}

func TestPutAndGet(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	stored, err := store.Put(ctx, assignment("user-1", "exp-cta", "variant-a"))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "variant-a", stored.VariantID)

	got, err := store.Get(ctx, "user-1", "exp-cta")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "exp-cta", got.ExperimentID)
	assert.Equal(t, "variant-a", got.VariantID)
	assert.True(t, got.Sticky)
}

func TestGetMissing(t *testing.T) {
	store, _ := newTestStore()

	got, err := store.Get(context.Background(), "user-1", "exp-cta")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPutFirstDecisionWins(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	_, err := store.Put(ctx, assignment("user-1", "exp-cta", "variant-a"))
	require.NoError(t, err)

	// Second write for the same pair must not replace the record.
	stored, err := store.Put(ctx, assignment("user-1", "exp-cta", "variant-b"))
	require.NoError(t, err)
	assert.Equal(t, "variant-a", stored.VariantID)

	records, err := store.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "variant-a", records[0].VariantID)
}

func TestListMultipleExperiments(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	_, err := store.Put(ctx, assignment("user-1", "exp-cta", "variant-a"))
	require.NoError(t, err)
	_, err = store.Put(ctx, assignment("user-1", "exp-shipping", "control"))
	require.NoError(t, err)
	_, err = store.Put(ctx, assignment("user-2", "exp-cta", "variant-b"))
	require.NoError(t, err)

	records, err := store.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = store.List(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "variant-b", records[0].VariantID)
}

func TestCorruptRecordTreatedAsEmpty(t *testing.T) {
	store, mem := newTestStore()
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, Key("user-1"), "not json"))

	records, err := store.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, records)

	// A fresh Put replaces the corrupt payload.
	_, err = store.Put(ctx, assignment("user-1", "exp-cta", "variant-a"))
	require.NoError(t, err)

	got, err := store.Get(ctx, "user-1", "exp-cta")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestReset(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	_, err := store.Put(ctx, assignment("user-1", "exp-cta", "variant-a"))
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx, "user-1"))

	records, err := store.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, records)

	// Resetting an absent user is not an error.
	require.NoError(t, store.Reset(ctx, "user-9"))
}

func TestRecordFormatRoundTrip(t *testing.T) {
	store, mem := newTestStore()
	ctx := context.Background()

	_, err := store.Put(ctx, assignment("user-1", "exp-cta", "variant-a"))
	require.NoError(t, err)

	raw, ok, err := mem.Get(ctx, "assignments:user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"userId":"user-1"`)
	assert.Contains(t, raw, `"experimentId":"exp-cta"`)
	assert.Contains(t, raw, `"variantId":"variant-a"`)
	assert.Contains(t, raw, `"sticky":true`)
}
