// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads metrics.enabled from the config file.
//
// # Description
//
// The directory holding the file is watched, so editors that replace the
// file instead of writing it in place are seen too. On every change the
// file is reloaded; when metrics.enabled differs from the last applied
// value, onMetricsEnabled is called. Every other key requires a restart.
// A file that fails to load is logged and ignored.
//
// # Thread Safety
//
// Start should only be called once. onMetricsEnabled runs on the
// watcher goroutine.
type Watcher struct {
	path             string
	watcher          *fsnotify.Watcher
	enabled          bool
	onMetricsEnabled func(bool)
}

// NewWatcher creates a watcher for path.
//
// # Inputs
//
//   - path: The config file passed to Load.
//   - enabled: The metrics.enabled value currently applied.
//   - onMetricsEnabled: Called with the new value on change.
//
// # Outputs
//
//   - *Watcher: Watching already; call Start to process events.
//   - error: Non-nil if the watch cannot be set up.
func NewWatcher(path string, enabled bool, onMetricsEnabled func(bool)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return &Watcher{
		path:             abs,
		watcher:          watcher,
		enabled:          enabled,
		onMetricsEnabled: onMetricsEnabled,
	}, nil
}

// Start processes file events until ctx is cancelled or Stop is called.
// Should be run in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	slog.Debug("watching config file", "path", w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)

		case <-ctx.Done():
			slog.Debug("config watcher stopping")
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("config reload failed, keeping current settings", "path", w.path, "error", err)
		return
	}
	if cfg.Metrics.Enabled == w.enabled {
		return
	}

	w.enabled = cfg.Metrics.Enabled
	slog.Info("config reloaded", "metrics_enabled", w.enabled)
	if w.onMetricsEnabled != nil {
		w.onMetricsEnabled(w.enabled)
	}
}

// Stop releases the watch. Safe to call multiple times.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
