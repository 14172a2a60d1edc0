package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Syncer is the part of the registry the poll loop drives.
type Syncer interface {
	Sync() bool
}

// Poller calls Sync on a fixed interval from a single goroutine, the way an
// interactive front end would once per frame.
type Poller struct {
	syncer   Syncer
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	onChange []func()

	ticks   uint64
	changes uint64
}

func NewPoller(syncer Syncer, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default().With("component", "app.poller")
	}
	return &Poller{syncer: syncer, interval: interval, logger: logger}
}

// OnChange registers fn to run on the poll goroutine after a Sync that
// reported new data.
func (p *Poller) OnChange(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

// Run blocks until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Debug("poll loop started", "interval", p.interval.String())
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("poll loop stopped", "ticks", p.ticks, "changes", p.changes)
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Tick performs one poll iteration and reports whether anything changed.
func (p *Poller) Tick() bool {
	p.ticks++
	if !p.syncer.Sync() {
		return false
	}
	p.changes++

	p.mu.Lock()
	callbacks := append([]func(){}, p.onChange...)
	p.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
	return true
}
