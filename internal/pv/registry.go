package pv

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/pvmon/pvmon/internal/provider"
)

// MismatchPolicy selects what happens when an update cannot be decoded
// into the kind a handle was bound with.
type MismatchPolicy int

const (
	// MismatchSkip drops the update and keeps the previous value.
	MismatchSkip MismatchPolicy = iota
	// MismatchAbort terminates through RegistryConfig.Fatal.
	MismatchAbort
)

func (p MismatchPolicy) String() string {
	if p == MismatchAbort {
		return "abort"
	}
	return "skip"
}

func ParseMismatchPolicy(s string) (MismatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return MismatchSkip, nil
	case "abort":
		return MismatchAbort, nil
	default:
		return MismatchSkip, fmt.Errorf("unknown mismatch policy %q", s)
	}
}

type RegistryConfig struct {
	Logger         *slog.Logger
	MismatchPolicy MismatchPolicy
	// OnMismatch is called for every mismatch regardless of policy.
	OnMismatch func(*MismatchError)
	// Fatal is called under MismatchAbort. Defaults to exiting the process.
	Fatal func(error)
}

// Registry owns the handles of a session, keyed by PV name.
type Registry struct {
	provider provider.Provider
	cfg      RegistryConfig
	logger   *slog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	order   []*Handle
	closed  bool
}

func NewRegistry(p provider.Provider, cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Fatal == nil {
		cfg.Fatal = func(error) { os.Exit(1) }
	}
	return &Registry{
		provider: p,
		cfg:      cfg,
		logger:   logger.With("component", "pv"),
		handles:  make(map[string]*Handle),
	}
}

// GetOrCreate returns the handle for name, subscribing on first use.
func (r *Registry) GetOrCreate(name string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if h, ok := r.handles[name]; ok {
		return h, nil
	}

	ch, err := r.provider.Channel(name)
	if err != nil {
		return nil, fmt.Errorf("open channel %s: %w", name, err)
	}
	h, err := newHandle(ch, r.logger, r.mismatch)
	if err != nil {
		return nil, err
	}
	r.handles[name] = h
	r.order = append(r.order, h)
	r.logger.Debug("pv registered", "pv", name, "count", len(r.order))
	return h, nil
}

// Get returns a registered handle. It never creates one.
func (r *Registry) Get(name string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	if !ok {
		return nil, fmt.Errorf("%s %w", name, ErrNotRegistered)
	}
	return h, nil
}

// Sync drains every handle in registration order and reports whether any
// of them had new data. Bound consumers are filled under the registry lock;
// observers run after it is released.
func (r *Registry) Sync() bool {
	var notify []func()
	changed := false

	r.mu.Lock()
	for _, h := range r.order {
		c, n := h.sync()
		if c {
			changed = true
		}
		if n != nil {
			notify = append(notify, n)
		}
	}
	r.mu.Unlock()

	for _, n := range notify {
		n()
	}
	return changed
}

// Connected reports false for names that were never registered.
func (r *Registry) Connected(name string) bool {
	h, err := r.Get(name)
	if err != nil {
		return false
	}
	return h.Connected()
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.order))
	for i, h := range r.order {
		names[i] = h.name
	}
	return names
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Close unsubscribes every handle. Handles stay readable afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, h := range r.order {
		h.Close()
	}
	return nil
}

func (r *Registry) mismatch(err *MismatchError) {
	if r.cfg.OnMismatch != nil {
		r.cfg.OnMismatch(err)
	}
	if r.cfg.MismatchPolicy == MismatchAbort {
		r.logger.Error("incompatible update, aborting", "pv", err.Name, "kind", err.Kind.String(), "error", err)
		r.cfg.Fatal(err)
		return
	}
	r.logger.Warn("incompatible update skipped", "pv", err.Name, "kind", err.Kind.String(), "error", err)
}
