package app

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmon/pvmon/internal/bus"
	"github.com/pvmon/pvmon/internal/config"
	"github.com/pvmon/pvmon/internal/events"
	"github.com/pvmon/pvmon/internal/provider"
	"github.com/pvmon/pvmon/internal/pv"
	"github.com/pvmon/pvmon/internal/pvdata"
)

type countingSyncer struct {
	changed atomic.Bool
	calls   atomic.Int64
}

func (s *countingSyncer) Sync() bool {
	s.calls.Add(1)
	return s.changed.Swap(false)
}

func TestPollerTickCallsOnChangeOnlyWhenSynced(t *testing.T) {
	syncer := &countingSyncer{}
	p := NewPoller(syncer, time.Millisecond, discardLogger())
	var changes int
	p.OnChange(func() { changes++ })

	assert.False(t, p.Tick())
	syncer.changed.Store(true)
	assert.True(t, p.Tick())
	assert.False(t, p.Tick())

	assert.Equal(t, 1, changes)
	assert.Equal(t, int64(3), syncer.calls.Load())
}

func TestPollerRunStopsWithContext(t *testing.T) {
	syncer := &countingSyncer{}
	p := NewPoller(syncer, time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return syncer.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPublishSamplesFromSimulator(t *testing.T) {
	logger := discardLogger()
	b := bus.New(logger, 0)
	t.Cleanup(b.Close)
	samples := b.Subscribe(events.TopicSample)

	lb := provider.NewLoopback()
	sim := NewSimulator(lb, time.Hour, logger)
	sim.Add("WAVE", pv.KindDoubleSeq)
	sim.Add("MODE", pv.KindEnum)

	r := pv.NewRegistry(lb, pv.RegistryConfig{Logger: logger, OnMismatch: MismatchPublisher(b)})
	t.Cleanup(func() { _ = r.Close() })

	for _, name := range []string{"WAVE", "MODE"} {
		h, err := r.GetOrCreate(name)
		require.NoError(t, err)
		kind := pv.KindDoubleSeq
		if name == "MODE" {
			kind = pv.KindEnum
		}
		require.NoError(t, h.Declare(kind))
		PublishSamples(h, b, func() time.Time { return time.Unix(100, 0) })
	}

	p := NewPoller(r, time.Millisecond, logger)
	require.True(t, p.Tick())

	got := map[string]events.Sample{}
	for len(got) < 2 {
		select {
		case raw := <-samples:
			s := raw.(events.Sample)
			got[s.Name] = s
		case <-time.After(time.Second):
			t.Fatalf("missing samples, got %v", got)
		}
	}
	assert.Equal(t, "enum", got["MODE"].Kind)
	assert.Equal(t, "Off", got["MODE"].Text)
	assert.Equal(t, "double[]", got["WAVE"].Kind)
	assert.Equal(t, time.Unix(100, 0), got["WAVE"].Timestamp)

	sim.Step()
	require.True(t, p.Tick())
	h, err := r.Get("MODE")
	require.NoError(t, err)
	assert.Equal(t, "On", h.Snapshot().AsEnum().Choice)
}

func TestMismatchPublisher(t *testing.T) {
	logger := discardLogger()
	b := bus.New(logger, 0)
	t.Cleanup(b.Close)
	mismatches := b.Subscribe(events.TopicMismatch)

	lb := provider.NewLoopback()
	lb.Publish("TEMP", pvdata.Scalar("warm"))
	r := pv.NewRegistry(lb, pv.RegistryConfig{Logger: logger, OnMismatch: MismatchPublisher(b)})
	t.Cleanup(func() { _ = r.Close() })

	var temp float64
	_, err := pv.BindName(r, "TEMP", &temp)
	require.NoError(t, err)

	select {
	case raw := <-mismatches:
		m := raw.(events.Mismatch)
		assert.Equal(t, "TEMP", m.Name)
		assert.Equal(t, "double", m.Kind)
		assert.Contains(t, m.Err, "incompatible types")
	case <-time.After(time.Second):
		t.Fatal("no mismatch published")
	}
}

func TestSimulatedValueDecodesAsDeclaredKind(t *testing.T) {
	kinds := []pv.Kind{pv.KindDouble, pv.KindInt, pv.KindString, pv.KindEnum, pv.KindDoubleSeq, pv.KindIntSeq, pv.KindStringSeq}
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			lb := provider.NewLoopback()
			lb.Publish("X", simulatedValue(kind, 3))
			var mismatched bool
			r := pv.NewRegistry(lb, pv.RegistryConfig{
				Logger:     discardLogger(),
				OnMismatch: func(*pv.MismatchError) { mismatched = true },
			})
			defer func() { _ = r.Close() }()

			h, err := r.GetOrCreate("X")
			require.NoError(t, err)
			require.NoError(t, h.Declare(kind))
			assert.True(t, r.Sync())
			assert.False(t, mismatched)
			assert.Equal(t, kind, h.Snapshot().Kind())
		})
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSimulatorAddConfigured(t *testing.T) {
	lb := provider.NewLoopback()
	sim := NewSimulator(lb, time.Hour, discardLogger())

	require.NoError(t, sim.AddConfigured([]config.PVConfig{
		{Name: "SIM:TEMP", Type: "double"},
		{Name: "SIM:MODE", Type: "enum"},
	}))

	r := pv.NewRegistry(lb, pv.RegistryConfig{Logger: discardLogger()})
	t.Cleanup(func() { _ = r.Close() })
	h, err := r.GetOrCreate("SIM:MODE")
	require.NoError(t, err)
	require.NoError(t, h.Declare(pv.KindEnum))
	require.True(t, r.Sync())
	assert.Equal(t, "Off", h.Snapshot().String())

	err = sim.AddConfigured([]config.PVConfig{{Name: "BAD", Type: "matrix"}})
	assert.Error(t, err)
}

func TestSlowSampleSubscriberDoesNotStallRegistry(t *testing.T) {
	logger := discardLogger()
	b := bus.New(logger, 1)
	t.Cleanup(b.Close)
	stalled := b.Subscribe(events.TopicSample)

	lb := provider.NewLoopback()
	sim := NewSimulator(lb, time.Hour, logger)
	sim.Add("A", pv.KindInt)

	r := pv.NewRegistry(lb, pv.RegistryConfig{Logger: logger})
	t.Cleanup(func() { _ = r.Close() })
	h, err := r.GetOrCreate("A")
	require.NoError(t, err)
	require.NoError(t, h.Declare(pv.KindInt))
	PublishSamples(h, b, nil)

	stop := make(chan struct{})
	looped := make(chan struct{})
	go func() {
		defer close(looped)
		for {
			select {
			case <-stop:
				return
			default:
			}
			sim.Step()
			r.Sync()
		}
	}()

	registered := make(chan error, 1)
	go func() {
		_, err := r.GetOrCreate("B")
		registered <- err
	}()
	select {
	case err := <-registered:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("GetOrCreate blocked behind a sample publish")
	}

	close(stop)
	go func() {
		for range stalled {
		}
	}()
	select {
	case <-looped:
	case <-time.After(2 * time.Second):
		t.Fatal("sync loop did not stop")
	}
}
