package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pvmon/pvmon/internal/config"
)

const defaultConfigDebounce = 200 * time.Millisecond

// ConfigWatcher reloads the config file when it changes on disk. The
// parent directory is watched so editors that replace the file by rename
// are picked up too.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	onChange func(config.AppConfig)
	logger   *slog.Logger
}

func NewConfigWatcher(path string, onChange func(config.AppConfig), logger *slog.Logger) *ConfigWatcher {
	if logger == nil {
		logger = slog.Default().With("component", "app.config_watcher")
	}
	return &ConfigWatcher{
		path:     filepath.Clean(path),
		debounce: defaultConfigDebounce,
		onChange: onChange,
		logger:   logger,
	}
}

// Run blocks until ctx is done or the watcher fails to start.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	w.logger.Debug("watching config", "path", w.path)

	debounce := time.NewTimer(w.debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			debounce.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		case <-debounce.C:
			w.reload()
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.Warn("reload config", "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("reloaded config is invalid, keeping current", "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path, "pvs", len(cfg.PVs))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
