package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pvmon/pvmon/internal/config"
)

func TestTeeHandler_ContinuesWhenOneDestinationFails(t *testing.T) {
	var dst bytes.Buffer
	h := newTeeHandler(
		slog.NewTextHandler(errorWriter{err: errors.New("broken stderr")}, nil),
		slog.NewTextHandler(&dst, nil),
	)

	h = h.WithAttrs([]slog.Attr{slog.String("pv", "TEMP")})
	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "value", 0))
	if err == nil || !strings.Contains(err.Error(), "broken stderr") {
		t.Fatalf("expected console error to be reported, got %v", err)
	}
	if got := dst.String(); !strings.Contains(got, "msg=value") || !strings.Contains(got, "pv=TEMP") {
		t.Fatalf("unexpected destination contents: %q", got)
	}
}

func TestManagerConfigure_LevelChangeKeepsLogFile(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	logPath := filepath.Join(t.TempDir(), "pvmon.log")
	m := NewManagerWithConsole(nil)
	t.Cleanup(func() { _ = m.Close() })

	cfg := config.LoggingConfig{Level: "info", LogToFile: true}
	if err := m.Configure(cfg, logPath); err != nil {
		t.Fatalf("configure manager: %v", err)
	}
	log := m.Logger("test")
	log.Debug("hidden at info")

	cfg.Level = "debug"
	if err := m.Configure(cfg, logPath); err != nil {
		t.Fatalf("reconfigure manager: %v", err)
	}
	log.Debug("visible at debug")

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if bytes.Contains(raw, []byte("hidden at info")) || !bytes.Contains(raw, []byte("visible at debug")) {
		t.Fatalf("unexpected log file contents: %q", string(raw))
	}
}

func TestManagerConfigure_LogFileStillReceivesLogsWhenConsoleFails(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	logPath := filepath.Join(t.TempDir(), "logs", "pvmon.log")
	m := NewManagerWithConsole(errorWriter{err: errors.New("broken console")})
	t.Cleanup(func() { _ = m.Close() })

	if err := m.Configure(config.LoggingConfig{Level: "debug", LogToFile: true}, logPath); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	slog.Info("file must receive this message")

	if err := m.Close(); err != nil {
		t.Fatalf("close manager: %v", err)
	}

	cleanLogPath := filepath.Clean(logPath)
	// #nosec G304 -- logPath is created from t.TempDir() in this test.
	raw, err := os.ReadFile(cleanLogPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(raw, []byte("file must receive this message")) {
		t.Fatalf("log file does not contain test message, contents: %q", string(raw))
	}
}

func TestManagerConfigure_JSONFormatAndComponent(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	var console bytes.Buffer
	m := NewManagerWithConsole(&console)
	if err := m.Configure(config.LoggingConfig{Level: "warn", Format: "json"}, ""); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	log := m.Logger("poller")
	log.Info("dropped by level")
	log.Warn("kept", "pv", "TEMP")

	lines := strings.Split(strings.TrimSpace(console.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one log line, got %q", console.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode json log line: %v", err)
	}
	if entry["component"] != "poller" || entry["pv"] != "TEMP" || entry["msg"] != "kept" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestManagerConfigure_RejectsUnknownLevelAndFormat(t *testing.T) {
	m := NewManagerWithConsole(nil)
	if err := m.Configure(config.LoggingConfig{Level: "loud"}, ""); err == nil {
		t.Fatalf("expected level error")
	}
	if err := m.Configure(config.LoggingConfig{Level: "info", Format: "xml"}, ""); err == nil {
		t.Fatalf("expected format error")
	}
	for _, level := range []string{"", "DEBUG", "warning", "error"} {
		if err := m.Configure(config.LoggingConfig{Level: level}, ""); err != nil {
			t.Fatalf("level %q: %v", level, err)
		}
	}
}

type errorWriter struct {
	err error
}

func (w errorWriter) Write(_ []byte) (int, error) {
	return 0, w.err
}
