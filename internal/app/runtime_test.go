package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmon/pvmon/internal/config"
	"github.com/pvmon/pvmon/internal/pv"
)

func testPaths(t *testing.T) Paths {
	t.Helper()
	dir := t.TempDir()
	return Paths{
		RootDir:    dir,
		ConfigFile: filepath.Join(dir, ConfigFilename),
		DBFile:     filepath.Join(dir, DBFilename),
		LogFile:    filepath.Join(dir, LogFilename),
		CacheDir:   dir,
	}
}

func startTestRuntime(t *testing.T, cfg config.AppConfig) *Runtime {
	t.Helper()
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	cfg.Logging.Level = "error"
	cfg.FillMissingDefaults()
	require.NoError(t, cfg.Validate())

	rt, err := start(context.Background(), testPaths(t), cfg, Options{Sender: newCollectingNotificationSender()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestRuntimeLoopbackWatchArchivesSamples(t *testing.T) {
	cfg := config.Default()
	cfg.Archive.Enabled = true
	cfg.PVs = []config.PVConfig{
		{Name: "SIM:TEMP", Type: "double"},
		{Name: "SIM:MODE", Type: "enum"},
	}
	rt := startTestRuntime(t, cfg)

	require.Len(t, rt.Watched(), 2)
	require.True(t, rt.Poller.Tick())

	h, err := rt.Registry.Get("SIM:MODE")
	require.NoError(t, err)
	assert.Equal(t, pv.KindEnum, h.Kind())
	assert.Equal(t, "Off", h.Snapshot().AsEnum().Choice)

	require.Eventually(t, func() bool {
		got, err := rt.Samples.ListRecent(context.Background(), "SIM:TEMP", 10)
		return err == nil && len(got) == 1 && got[0].Kind == "double"
	}, 2*time.Second, 10*time.Millisecond)

	status, known := rt.CurrentConnStatus()
	require.True(t, known)
	assert.Equal(t, "loopback", status.TransportName)
}

func TestRuntimeSkipsArchiveOwnedByAnotherRuntime(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Archive.Enabled = true
	paths := testPaths(t)

	first, err := start(context.Background(), paths, cfg, Options{Sender: newCollectingNotificationSender()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })
	require.NotNil(t, first.DB)

	second, err := start(context.Background(), paths, cfg, Options{Sender: newCollectingNotificationSender()})
	require.NoError(t, err)
	assert.Nil(t, second.DB)
	assert.Nil(t, second.WriterQueue)
	require.NoError(t, second.Close())

	require.NoError(t, first.Close())
	third, err := start(context.Background(), paths, cfg, Options{Sender: newCollectingNotificationSender()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = third.Close() })
	assert.NotNil(t, third.DB)
}

func TestRuntimeFirstValue(t *testing.T) {
	rt := startTestRuntime(t, config.Default())

	h, err := rt.Watch(config.PVConfig{Name: "SIM:COUNT", Type: "int"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := rt.FirstValue(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, pv.KindInt, v.Kind())
	assert.GreaterOrEqual(t, v.AsInt(), 0)

	again, err := rt.Watch(config.PVConfig{Name: "SIM:COUNT", Type: "int"})
	require.NoError(t, err)
	assert.Same(t, h, again)

	_, err = rt.Watch(config.PVConfig{Name: "SIM:COUNT", Type: "string"})
	assert.ErrorIs(t, err, pv.ErrTypeMismatch)
}

func TestRuntimePutThroughLoopback(t *testing.T) {
	cfg := config.Default()
	cfg.PVs = []config.PVConfig{{Name: "SIM:SP", Type: "double"}}
	rt := startTestRuntime(t, cfg)

	h, err := rt.Registry.Get("SIM:SP")
	require.NoError(t, err)
	require.NoError(t, h.PutText(context.Background(), "12.5"))

	puts := rt.Loopback.Puts()
	require.Len(t, puts, 1)
	assert.Equal(t, "value", puts[0].Field)
	assert.Equal(t, 12.5, puts[0].Value)

	rt.Poller.Tick()
	assert.Equal(t, 12.5, h.Snapshot().AsDouble())
}

func TestRuntimeSaveAndApplyConfigAddsPVs(t *testing.T) {
	rt := startTestRuntime(t, config.Default())

	next := rt.CurrentConfig()
	next.PVs = append(next.PVs, config.PVConfig{Name: "SIM:NEW", Type: "string[]"})
	require.NoError(t, rt.SaveAndApplyConfig(next))

	_, err := rt.Registry.Get("SIM:NEW")
	require.NoError(t, err)
	assert.Len(t, rt.CurrentConfig().PVs, 1)

	raw, err := os.ReadFile(rt.Paths.ConfigFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "SIM:NEW")

	bad := rt.CurrentConfig()
	bad.Sync.MismatchPolicy = "explode"
	assert.Error(t, rt.SaveAndApplyConfig(bad))
}

func TestApplyOptions(t *testing.T) {
	cfg := config.Default()
	cfg.PVs = []config.PVConfig{{Name: "A", Type: "int"}}

	err := applyOptions(&cfg, Options{
		Connector:    "IP",
		Target:       "ioc.local:6000",
		LogLevel:     "debug",
		PollInterval: 250 * time.Millisecond,
		PVs: []config.PVConfig{
			{Name: "A", Type: "double"},
			{Name: "B"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, config.ConnectorIP, cfg.Connection.Connector)
	assert.Equal(t, "ioc.local", cfg.Connection.Host)
	assert.Equal(t, 6000, cfg.Connection.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.PollInterval.Std())
	assert.Equal(t, []config.PVConfig{{Name: "A", Type: "double"}, {Name: "B", Type: "string"}}, cfg.PVs)

	assert.Error(t, applyOptions(&cfg, Options{Connector: "loopback", Target: "x"}))
}
