// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/shopkit/experiments/services/experiments/metrics"
)

// defaultDebounce batches rapid successive writes (editors often write a
// file several times per save) into a single reload.
const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a registry from a definitions file when it changes.
//
// Description:
//
//	Watches the file's parent directory (watching the file itself
//	breaks on rename-based atomic saves) and reloads the registry on
//	write or create events for the file. A failed reload logs the
//	validation error and keeps the previous catalog.
//
// Thread Safety: Run is single-goroutine; the underlying registry
// handles concurrent readers during a swap.
type Watcher struct {
	registry *Registry
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher for the given definitions file.
func NewWatcher(reg *Registry, path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		registry: reg,
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		logger:   logger,
	}
}

// Run watches the definitions file until the context is cancelled.
//
// Outputs:
//   - error: non-nil if the watch cannot be established. Reload
//     failures are logged, not returned.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.registry.LoadFile(w.path); err != nil {
				metrics.RegistryReloadsTotal.WithLabelValues("error").Inc()
				w.logger.Error("experiment definitions reload failed; keeping previous catalog",
					"path", w.path, "error", err)
			} else {
				metrics.RegistryReloadsTotal.WithLabelValues("ok").Inc()
				w.logger.Info("experiment definitions reloaded", "path", w.path)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("definitions watcher error", "error", err)
		}
	}
}
