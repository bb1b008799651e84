package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/mobilyecommerce/storefront/pkg/middleware"
	"github.com/mobilyecommerce/storefront/pkg/observability"
)

// RateLimitUpdater accepts new admission limits at runtime
type RateLimitUpdater interface {
	UpdateLimits(config middleware.RateLimitConfig) error
}

// Watcher reloads the rate_limit section of the config file when it
// changes on disk. Other sections require a restart.
type Watcher struct {
	path    string
	updater RateLimitUpdater
	logger  *observability.Logger
}

// NewWatcher creates a watcher for path
func NewWatcher(path string, updater RateLimitUpdater, logger *observability.Logger) *Watcher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Watcher{
		path:    path,
		updater: updater,
		logger:  logger.WithField("config_file", path),
	}
}

// Reload reads the file and pushes its rate limits to the updater.
// Environment overrides keep precedence over the file, as at startup.
func (w *Watcher) Reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := decodeYAML(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", w.path, err)
	}
	applyRateLimitEnv(&cfg.RateLimit)

	limits := cfg.RateLimit.RateLimitConfig
	if err := limits.Validate(); err != nil {
		return err
	}
	return w.updater.UpdateLimits(limits)
}

// Run watches the file's directory until ctx is done. Editors commonly
// replace files by rename, so the directory is watched rather than the file.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	name := filepath.Base(w.path)

	w.logger.Info("Watching config file for rate limit changes")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.WithError(err).Warn("Ignoring config change")
				continue
			}
			w.logger.Info("Rate limits reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Config watcher error")
		}
	}
}
