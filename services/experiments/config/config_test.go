// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Registry.Watch)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
  readTimeout: 5s
registry:
  definitionsFile: /etc/expd/experiments.yaml
  watch: false
events:
  dbPath: /var/lib/expd/events.db
  ingestRate: 50
logging:
  level: debug
  dir: /var/log/expd
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/etc/expd/experiments.yaml", cfg.Registry.DefinitionsFile)
	assert.False(t, cfg.Registry.Watch)
	assert.Equal(t, 50.0, cfg.Events.IngestRate)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/var/log/expd", cfg.Logging.Dir)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EXPD_ADDR", ":7070")
	t.Setenv("EXPD_INFLUX_URL", "http://influx:8086")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "http://influx:8086", cfg.Analytics.Influx.URL)
}

func TestLoadRejectsBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
