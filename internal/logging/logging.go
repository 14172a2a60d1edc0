package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pvmon/pvmon/internal/config"
)

// Manager owns the process logger. Console output goes to stderr so stdout
// stays free for PV values. The level is shared by every handler and can be
// changed without reopening the log file.
type Manager struct {
	mu      sync.RWMutex
	level   slog.LevelVar
	console io.Writer
	logger  *slog.Logger

	format   string
	filePath string
	file     *os.File
}

func NewManager() *Manager {
	return NewManagerWithConsole(os.Stderr)
}

func NewManagerWithConsole(console io.Writer) *Manager {
	if console == nil {
		console = io.Discard
	}
	m := &Manager{console: console, format: "text"}
	m.logger = slog.New(slog.NewTextHandler(console, &slog.HandlerOptions{Level: &m.level}))

	return m
}

// Configure applies cfg. Invalid settings are rejected before anything
// changes. A level-only change keeps the current handlers.
func (m *Manager) Configure(cfg config.LoggingConfig, filePath string) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return fmt.Errorf("unsupported log format: %q", cfg.Format)
	}
	if !cfg.LogToFile {
		filePath = ""
	} else {
		filePath = filepath.Clean(filePath)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.level.Set(level)
	if format == m.format && filePath == m.filePath {
		slog.SetDefault(m.logger)
		return nil
	}

	var file *os.File
	if filePath != "" {
		if file, err = openLogFile(filePath); err != nil {
			return err
		}
	}
	if m.file != nil {
		_ = m.file.Close()
	}
	m.format, m.filePath, m.file = format, filePath, file

	handlers := []slog.Handler{m.newHandler(m.console)}
	if file != nil {
		handlers = append(handlers, m.newHandler(file))
	}
	m.logger = slog.New(newTeeHandler(handlers...))
	slog.SetDefault(m.logger)

	return nil
}

func (m *Manager) Logger(component string) *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.logger.With("component", component)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file, m.filePath = nil, ""

	return err
}

func (m *Manager) newHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: &m.level}
	if m.format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

func parseLevel(raw string) (slog.Level, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("unsupported log level: %q", raw)
	}
	return level, nil
}

// teeHandler sends each record to every handler. A failing destination does
// not keep the record from the others.
type teeHandler struct {
	handlers []slog.Handler
}

func newTeeHandler(handlers ...slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return &teeHandler{handlers: handlers}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithAttrs(attrs)
	}
	return &teeHandler{handlers: out}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithGroup(name)
	}
	return &teeHandler{handlers: out}
}
