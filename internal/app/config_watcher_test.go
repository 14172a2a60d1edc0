package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pvmon/pvmon/internal/config"
)

func TestConfigWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFilename)
	if err := config.Save(path, config.Default()); err != nil {
		t.Fatalf("save initial config: %v", err)
	}

	reloaded := make(chan config.AppConfig, 4)
	w := NewConfigWatcher(path, func(cfg config.AppConfig) { reloaded <- cfg }, discardLogger())
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := make(chan error, 1)
	go func() { errs <- w.Run(ctx) }()

	// the watch is registered asynchronously; rewrite until it is observed
	next := config.Default()
	next.PVs = []config.PVConfig{{Name: "TEMP", Type: "double"}}
	deadline := time.After(3 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case cfg := <-reloaded:
			if len(cfg.PVs) != 1 || cfg.PVs[0].Name != "TEMP" {
				t.Fatalf("unexpected reloaded config %+v", cfg.PVs)
			}
			return
		case err := <-errs:
			t.Fatalf("watcher stopped: %v", err)
		case <-ticker.C:
			if err := config.Save(path, next); err != nil {
				t.Fatalf("save config: %v", err)
			}
		case <-deadline:
			t.Fatal("config was not reloaded")
		}
	}
}

func TestConfigWatcherIgnoresInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFilename)
	if err := os.WriteFile(path, []byte("connection:\n  connector: usb\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	called := false
	w := NewConfigWatcher(path, func(config.AppConfig) { called = true }, discardLogger())
	w.reload()
	if called {
		t.Fatalf("invalid config must not be applied")
	}
}
