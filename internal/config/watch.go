package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor produces for one save.
const reloadDebounce = 250 * time.Millisecond

// LoadFunc loads a config file with every override layer applied.
type LoadFunc func(path string) (*Config, error)

// Watch reloads the Holder's config file whenever it changes, until ctx is
// cancelled. The parent directory is watched because editors usually
// replace the file rather than write it in place. A config that fails to
// load is logged and ignored; the Holder keeps the previous one. onReload,
// if set, is called with each accepted config.
func Watch(ctx context.Context, h *Holder, load LoadFunc, logger *slog.Logger, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(h.Path())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	logger.Debug("watching config file", slog.String("path", h.Path()))

	target := filepath.Clean(h.Path())

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target || ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}

			debounce.Reset(reloadDebounce)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", watchErr.Error()))

		case <-debounce.C:
			reload(h, load, logger, onReload)
		}
	}
}

func reload(h *Holder, load LoadFunc, logger *slog.Logger, onReload func(*Config)) {
	cfg, err := load(h.Path())
	if err != nil {
		logger.Warn("config reload rejected, keeping previous config",
			slog.String("path", h.Path()),
			slog.String("error", err.Error()),
		)

		return
	}

	h.Update(cfg)
	logger.Info("config reloaded", slog.String("path", h.Path()))

	if onReload != nil {
		onReload(cfg)
	}
}
