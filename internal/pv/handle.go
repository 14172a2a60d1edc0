package pv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pvmon/pvmon/internal/provider"
	"github.com/pvmon/pvmon/internal/pvdata"
)

// ConnectionMonitor tracks whether a channel is currently connected.
type ConnectionMonitor struct {
	connected atomic.Bool
}

func (c *ConnectionMonitor) Set(connected bool) { c.connected.Store(connected) }
func (c *ConnectionMonitor) Connected() bool    { return c.connected.Load() }

// Handle caches the latest value of one PV. Producer callbacks decode into
// a scratch value and install it under mu; Sync hands the installed value
// to the bound consumers on the polling goroutine.
type observer struct {
	id uint64
	fn func(Value)
}

type Handle struct {
	name       string
	logger     *slog.Logger
	channel    provider.Channel
	conn       ConnectionMonitor
	onMismatch func(*MismatchError)

	// decodeMu serializes producers. Lock order: decodeMu, then mu.
	decodeMu sync.Mutex
	monitor  provider.Monitor
	scratch  Value
	// pending keeps the latest update seen before a kind was fixed.
	pending pvdata.Structure

	mu        sync.Mutex
	value     Value
	consumers []func(*Value)
	observers []observer
	nextObs   uint64

	dirty  atomic.Bool
	closed atomic.Bool
}

func newHandle(ch provider.Channel, logger *slog.Logger, onMismatch func(*MismatchError)) (*Handle, error) {
	h := &Handle{
		name:       ch.Name(),
		logger:     logger.With("pv", ch.Name()),
		channel:    ch,
		onMismatch: onMismatch,
	}

	mon, err := ch.Monitor(h.onEvent)
	if err != nil {
		return nil, fmt.Errorf("monitor %s: %w", h.name, err)
	}
	h.decodeMu.Lock()
	h.monitor = mon
	h.decodeMu.Unlock()
	// OnConnect reports the current state right away.
	ch.OnConnect(h.setConnected)

	// Updates queued before the monitor was stored are still pending.
	h.drain()
	return h, nil
}

func (h *Handle) Name() string    { return h.name }
func (h *Handle) Connected() bool { return h.conn.Connected() }

func (h *Handle) Kind() Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value.kind
}

// Declare fixes the handle's kind without binding a consumer.
func (h *Handle) Declare(kind Kind) error {
	return h.fix(kind, nil)
}

// fix sets the kind if it is still unset and registers consume. An update
// that arrived while the kind was unset is decoded once the kind is known.
func (h *Handle) fix(kind Kind, consume func(*Value)) error {
	if kind == KindUnset {
		return fmt.Errorf("declare %s: %w", h.name, ErrTypeMismatch)
	}

	h.mu.Lock()
	fixed := false
	switch h.value.kind {
	case KindUnset:
		h.value.kind = kind
		fixed = true
	case kind:
	default:
		current := h.value.kind
		h.mu.Unlock()
		return &MismatchError{Name: h.name, Kind: current, Err: fmt.Errorf("requested %s", kind)}
	}
	if consume != nil {
		h.consumers = append(h.consumers, consume)
	}
	h.mu.Unlock()

	if fixed {
		h.replayPending()
	}
	return nil
}

func (h *Handle) replayPending() {
	h.decodeMu.Lock()
	s := h.pending
	h.pending = nil
	var mismatch *MismatchError
	if s != nil && !h.closed.Load() {
		mismatch = h.apply(s)
	}
	h.decodeMu.Unlock()
	h.reportMismatch(mismatch)
}

// Observe registers a consumer that receives a private copy of the value on
// every Sync that reports new data. It does not fix the handle's kind and is
// invoked with no lock held. The returned func removes it.
func (h *Handle) Observe(fn func(Value)) (cancel func()) {
	h.mu.Lock()
	h.nextObs++
	id := h.nextObs
	h.observers = append(h.observers, observer{id: id, fn: fn})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, o := range h.observers {
			if o.id == id {
				h.observers = append(h.observers[:i:i], h.observers[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns a copy of the cached value.
func (h *Handle) Snapshot() Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value.Clone()
}

// Sync copies the cached value into every bound consumer if it changed since
// the previous call. It reports whether anything was copied.
func (h *Handle) Sync() bool {
	changed, notify := h.sync()
	if notify != nil {
		notify()
	}
	return changed
}

// sync copies into the bound consumers under mu. Observer calls are returned
// rather than made so callers can run them after dropping their own locks.
func (h *Handle) sync() (bool, func()) {
	if !h.dirty.Load() {
		return false, nil
	}

	h.mu.Lock()
	for _, consume := range h.consumers {
		consume(&h.value)
	}
	var snapshot Value
	observers := h.observers
	if len(observers) > 0 {
		snapshot = h.value.Clone()
	}
	h.dirty.Store(false)
	h.mu.Unlock()

	if len(observers) == 0 {
		return true, nil
	}
	return true, func() {
		for _, o := range observers {
			o.fn(snapshot)
		}
	}
}

// Put writes v to field (usually "value" or "value.index") without waiting
// for the server to apply it.
func (h *Handle) Put(ctx context.Context, field string, v any) error {
	if !h.Connected() {
		return fmt.Errorf("put %s: %w", h.name, ErrDisconnected)
	}
	if err := h.channel.Put(ctx, field, v); err != nil {
		return fmt.Errorf("put %s: %w", h.name, err)
	}
	return nil
}

// PutText parses text according to the handle's kind and writes it.
func (h *Handle) PutText(ctx context.Context, text string) error {
	h.mu.Lock()
	kind := h.value.kind
	choices := cloneSlice(h.value.enum.Choices)
	h.mu.Unlock()

	field, v, err := ParseText(kind, text, choices)
	if err != nil {
		return fmt.Errorf("put %s: %w", h.name, err)
	}
	return h.Put(ctx, field, v)
}

// Close cancels the subscription. No producer callback touches the handle
// once Close returns.
func (h *Handle) Close() {
	if h.closed.Swap(true) {
		return
	}
	h.decodeMu.Lock()
	mon := h.monitor
	h.monitor = nil
	h.decodeMu.Unlock()
	if mon != nil {
		mon.Cancel()
	}
}

func (h *Handle) setConnected(connected bool) {
	if h.closed.Load() {
		return
	}
	h.conn.Set(connected)
	h.logger.Debug("connection changed", "connected", connected)
}

func (h *Handle) onEvent(ev provider.EventKind) {
	switch ev {
	case provider.EventData:
		h.drain()
	default:
		h.logger.Debug("monitor event", "event", ev.String())
	}
}

// drain applies every pending update in arrival order. Mismatches are
// reported once decodeMu is released.
func (h *Handle) drain() {
	var mismatches []*MismatchError
	h.decodeMu.Lock()
	if h.monitor != nil && !h.closed.Load() {
		for {
			s, ok := h.monitor.Poll()
			if !ok {
				break
			}
			if m := h.apply(s); m != nil {
				mismatches = append(mismatches, m)
			}
		}
	}
	h.decodeMu.Unlock()

	for _, m := range mismatches {
		h.reportMismatch(m)
	}
}

// apply must be called with decodeMu held.
func (h *Handle) apply(s pvdata.Structure) *MismatchError {
	kind := h.Kind()
	if kind == KindUnset {
		h.pending = s
		return nil
	}
	h.pending = nil
	if err := decode(&h.scratch, kind, s); err != nil {
		if errors.Is(err, ErrChoiceIndex) {
			h.logger.Debug("update skipped", "error", err)
			return nil
		}
		return &MismatchError{Name: h.name, Kind: kind, Err: err}
	}

	h.mu.Lock()
	h.value.assign(&h.scratch)
	h.dirty.Store(true)
	h.mu.Unlock()
	return nil
}

func (h *Handle) reportMismatch(m *MismatchError) {
	if m != nil && h.onMismatch != nil {
		h.onMismatch(m)
	}
}
