// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package presets

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/AleutianAI/abstat/pkg/logging"
	"github.com/fsnotify/fsnotify"
)

// WatchOptions configures Registry.Watch.
type WatchOptions struct {
	// Debounce is how long to wait after the last change before reloading.
	// Default: 100ms
	Debounce time.Duration

	// Logger receives reload results. Default: logging.Nop().
	Logger *logging.Logger

	// OnReload, if set, is called after every reload attempt with its error.
	OnReload func(err error)
}

// Watch loads path and reloads it whenever it changes.
//
// # Description
//
// Watches the directory containing path rather than the file itself, so
// editors that save by rename are followed. Bursts of events are collapsed
// by a debounce window. A reload that fails to parse or validate leaves the
// previous table in place and is logged as a warning.
//
// # Inputs
//
//   - ctx: Watching stops when ctx is canceled.
//   - path: Preset YAML file.
//   - opts: Watch configuration.
//
// # Outputs
//
//   - error: Non-nil if the initial load fails or the watcher cannot start.
//     Once Watch returns nil, errors are only logged.
func (r *Registry) Watch(ctx context.Context, path string, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve presets path: %w", err)
	}
	if err := r.Load(abs); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go r.watchLoop(ctx, watcher, abs, opts)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, opts WatchOptions) {
	defer watcher.Close()
	logger := opts.Logger.With("presets_file", path)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(opts.Debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			err := r.Load(path)
			if err != nil {
				logger.Warn("preset reload rejected, keeping previous table", "error", err)
			} else {
				logger.Info("presets reloaded", "count", len(r.List()))
			}
			if opts.OnReload != nil {
				opts.OnReload(err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("preset watcher error", "error", err)
		}
	}
}
