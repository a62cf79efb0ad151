// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInMemory(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "assignments:u1", `[{"userId":"u1"}]`))

	value, ok, err := store.Get(ctx, "assignments:u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"userId":"u1"}]`, value)
}

func TestSetOverwrites(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", "v1"))
	require.NoError(t, store.Set(ctx, "k", "v2"))

	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", value)
}

func TestRemove(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", "v"))
	require.NoError(t, store.Remove(ctx, "k"))

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing an absent key is not an error.
	require.NoError(t, store.Remove(ctx, "never-set"))
}

func TestPersistentPath(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0 // no GC loop in tests
	store, err := Open(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "persistent", "value"))
	require.NoError(t, store.Close())

	// Reopen and verify the value survived.
	store, err = Open(cfg)
	require.NoError(t, err)
	defer store.Close()

	value, ok, err := store.Get(ctx, "persistent")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value", value)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = store.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, store.Set(ctx, "k", "v"))
	assert.Error(t, store.Remove(ctx, "k"))
}
