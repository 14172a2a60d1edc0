package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pvmon/pvmon/internal/bus"
	"github.com/pvmon/pvmon/internal/client"
	"github.com/pvmon/pvmon/internal/config"
	"github.com/pvmon/pvmon/internal/events"
	"github.com/pvmon/pvmon/internal/logging"
	"github.com/pvmon/pvmon/internal/notifications"
	"github.com/pvmon/pvmon/internal/persistence"
	"github.com/pvmon/pvmon/internal/platform"
	"github.com/pvmon/pvmon/internal/protocol"
	"github.com/pvmon/pvmon/internal/provider"
	"github.com/pvmon/pvmon/internal/pv"
)

// Options are command line overrides applied on top of the config file.
type Options struct {
	ConfigPath   string
	Connector    string
	Target       string
	LogLevel     string
	PollInterval time.Duration
	// PVs are watched in addition to the configured ones.
	PVs         []config.PVConfig
	NoArchive   bool
	WatchConfig bool
	// Sender overrides the notification backend chosen from config.
	Sender notifications.Sender
	// Fatal replaces process exit under the abort mismatch policy.
	Fatal func(error)
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager  *logging.Manager
	Bus         *bus.PubSubBus
	DB          *sql.DB
	archiveLock platform.FileLock

	Samples       *persistence.SampleRepo
	ChannelEvents *persistence.ChannelEventRepo
	WriterQueue   *persistence.WriterQueue

	ConnectionTransport *SwitchableTransport
	Client              *client.Client
	Loopback            *provider.Loopback
	Simulator           *Simulator

	Registry      *pv.Registry
	Poller        *Poller
	Notifications *NotificationService

	watchedMu sync.Mutex
	watched   map[string]*pv.Handle

	connStatusMu    sync.RWMutex
	connStatus      events.ConnectionStatus
	connStatusKnown bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}
	paths = paths.WithConfigFile(opts.ConfigPath)

	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := applyOptions(&cfg, opts); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return start(parent, paths, cfg, opts)
}

func start(parent context.Context, paths Paths, cfg config.AppConfig, opts Options) (*Runtime, error) {
	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:     ctx,
		cancel:  cancel,
		Paths:   paths,
		Config:  cfg,
		watched: make(map[string]*pv.Handle),
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	build := CurrentBuild()
	slog.Info("starting pvmon runtime", "version", build.Version, "build_date", build.Date, "revision", build.Revision, "connector", cfg.Connection.Connector)

	b := bus.New(slog.Default(), 0)
	rt.Bus = b
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		bus.Consume(ctx, b, rt.captureConnStatus, events.TopicConnStatus)
	}()

	if cfg.Archive.Enabled && !opts.NoArchive {
		if err := rt.openArchive(ctx, cfg.Archive); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	prov, err := rt.startProvider(ctx, cfg)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	policy, err := pv.ParseMismatchPolicy(cfg.Sync.MismatchPolicy)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Registry = pv.NewRegistry(prov, pv.RegistryConfig{
		Logger:         slog.Default(),
		MismatchPolicy: policy,
		OnMismatch:     MismatchPublisher(b),
		Fatal:          opts.Fatal,
	})
	rt.Poller = NewPoller(rt.Registry, cfg.Sync.PollInterval.Std(), logMgr.Logger("app.poller"))

	sender := opts.Sender
	if sender == nil {
		sender = notifications.NopSender{}
		if cfg.Notifications.Enabled {
			sender = notifications.NewDesktopSender(Name, logMgr.Logger("notifications"))
		}
	}
	rt.Notifications = NewNotificationService(b, rt.CurrentConfig, sender, logMgr.Logger("app.notifications"))
	rt.Notifications.Start(ctx)

	for _, p := range cfg.PVs {
		if _, err := rt.Watch(p); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	if opts.WatchConfig {
		watcher := NewConfigWatcher(paths.ConfigFile, rt.applyReloaded, logMgr.Logger("app.config_watcher"))
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			if err := watcher.Run(ctx); err != nil {
				slog.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	return rt, nil
}

// openArchive leaves archiving off when another process owns the archive.
func (r *Runtime) openArchive(ctx context.Context, cfg config.ArchiveConfig) error {
	lock, err := platform.AcquireFileLock(filepath.Join(filepath.Dir(r.Paths.DBFile), ArchiveLockFilename))
	switch {
	case errors.Is(err, platform.ErrLocked):
		slog.Warn("archive in use, samples will not be recorded", "path", r.Paths.DBFile, "error", err)
		return nil
	case errors.Is(err, platform.ErrLockUnsupported):
		slog.Debug("archive lock unsupported on this platform")
	case err != nil:
		return fmt.Errorf("lock archive: %w", err)
	}
	r.archiveLock = lock

	db, err := persistence.Open(ctx, r.Paths.DBFile)
	if err != nil {
		return err
	}
	r.DB = db
	r.Samples = persistence.NewSampleRepo(db)
	r.ChannelEvents = persistence.NewChannelEventRepo(db)

	r.WriterQueue = persistence.NewWriterQueue(r.LogManager.Logger("persistence"), persistence.DefaultWriterQueueSize)
	r.WriterQueue.Start(ctx)
	persistence.StartArchiveProjection(ctx, r.Bus, r.WriterQueue, r.Samples, r.ChannelEvents)

	retention := cfg.Retention.Std()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runPrune(ctx, retention)
	}()

	return nil
}

func (r *Runtime) runPrune(ctx context.Context, retention time.Duration) {
	prune := func() {
		n, err := persistence.Prune(ctx, r.DB, time.Now().Add(-retention))
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Warn("prune archive", "error", err)
			}
			return
		}
		if n > 0 {
			slog.Info("archive pruned", "rows", n, "retention", retention.String())
		}
	}

	prune()
	ticker := time.NewTicker(archivePruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

func (r *Runtime) startProvider(ctx context.Context, cfg config.AppConfig) (provider.Provider, error) {
	if cfg.Connection.Connector == config.ConnectorLoopback {
		lb := provider.NewLoopback()
		lb.QueueSize = cfg.Sync.QueueSize
		r.Loopback = lb
		r.Simulator = NewSimulator(lb, defaultSimulatorPeriod, r.LogManager.Logger("app.simulator"))
		// Configured PVs have a value before anything subscribes.
		if err := r.Simulator.AddConfigured(cfg.PVs); err != nil {
			return nil, err
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.Simulator.Run(ctx)
		}()
		status := ConnectionStatusFromConfig(cfg.Connection)
		status.Timestamp = time.Now()
		r.setConnStatus(status)
		r.Bus.Publish(events.TopicConnStatus, status)

		return lb, nil
	}

	connTransport, err := NewConnectionTransport(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("initialize transport: %w", err)
	}
	r.ConnectionTransport = connTransport

	r.Client = client.New(slog.Default(), r.Bus, connTransport, protocol.NewMsgpackCodec(), client.Config{
		QueueSize: cfg.Sync.QueueSize,
	})
	r.Client.Start(ctx)

	return r.Client, nil
}

// Watch subscribes to p, fixes its type and publishes its samples. Watching
// an already watched PV returns the existing handle.
func (r *Runtime) Watch(p config.PVConfig) (*pv.Handle, error) {
	kind, err := p.Kind()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", p.Name, err)
	}

	r.watchedMu.Lock()
	defer r.watchedMu.Unlock()

	if h, ok := r.watched[p.Name]; ok {
		if err := h.Declare(kind); err != nil {
			return nil, fmt.Errorf("watch %s: %w", p.Name, err)
		}
		return h, nil
	}

	if r.Simulator != nil {
		r.Simulator.Add(p.Name, kind)
	}
	h, err := r.Registry.GetOrCreate(p.Name)
	if err != nil {
		return nil, err
	}
	if err := h.Declare(kind); err != nil {
		return nil, fmt.Errorf("watch %s: %w", p.Name, err)
	}
	PublishSamples(h, r.Bus, nil)
	r.watched[p.Name] = h

	return h, nil
}

// Watched returns the watched handles in registration order.
func (r *Runtime) Watched() []*pv.Handle {
	names := r.Registry.Names()
	r.watchedMu.Lock()
	defer r.watchedMu.Unlock()
	out := make([]*pv.Handle, 0, len(r.watched))
	for _, name := range names {
		if h, ok := r.watched[name]; ok {
			out = append(out, h)
		}
	}
	return out
}

// FirstValue polls until h delivers a value or ctx is done.
func (r *Runtime) FirstValue(ctx context.Context, h *pv.Handle) (pv.Value, error) {
	got := make(chan pv.Value, 1)
	stop := h.Observe(func(v pv.Value) {
		select {
		case got <- v:
		default:
		}
	})
	defer stop()

	ticker := time.NewTicker(r.Poller.interval)
	defer ticker.Stop()
	for {
		r.Poller.Tick()
		select {
		case v := <-got:
			return v, nil
		default:
		}
		select {
		case <-ctx.Done():
			return pv.Value{}, fmt.Errorf("wait for %s: %w", h.Name(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Runtime) captureConnStatus(raw any) {
	status, ok := raw.(events.ConnectionStatus)
	if !ok {
		return
	}
	r.setConnStatus(status)
}

func (r *Runtime) setConnStatus(status events.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (events.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	status := r.connStatus
	known := r.connStatusKnown
	r.connStatusMu.RUnlock()
	return status, known
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Config
}

func (r *Runtime) SaveAndApplyConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		return err
	}

	return r.applyConfig(cfg)
}

func (r *Runtime) applyReloaded(cfg config.AppConfig) {
	if err := r.applyConfig(cfg); err != nil {
		slog.Warn("apply reloaded config", "error", err)
	}
}

// applyConfig updates logging, the transport and the watched PVs. PVs are
// only ever added; removing one from the file leaves it watched.
func (r *Runtime) applyConfig(cfg config.AppConfig) error {
	r.mu.Lock()
	prev := r.Config
	r.Config = cfg
	r.mu.Unlock()

	if err := r.LogManager.Configure(cfg.Logging, r.Paths.LogFile); err != nil {
		return err
	}

	if cfg.Connection != prev.Connection {
		switch {
		case r.ConnectionTransport != nil && cfg.Connection.Connector != config.ConnectorLoopback:
			if err := r.ConnectionTransport.Apply(cfg.Connection); err != nil {
				return err
			}
		default:
			slog.Warn("switching between simulator and network connectors needs a restart",
				"from", prev.Connection.Connector, "to", cfg.Connection.Connector)
		}
	}

	var errs []error
	for _, p := range cfg.PVs {
		if _, err := r.Watch(p); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Close stops every component. Calls after the first are no-ops.
func (r *Runtime) Close() error {
	r.closeOnce.Do(r.close)
	return nil
}

func (r *Runtime) close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.Registry != nil {
		_ = r.Registry.Close()
	}
	if r.Client != nil {
		r.Client.Wait()
	}
	if r.WriterQueue != nil {
		r.WriterQueue.Wait()
	}
	// goroutines unsubscribe on exit, which needs a live bus
	r.wg.Wait()
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.ConnectionTransport != nil {
		_ = r.ConnectionTransport.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.archiveLock != nil {
		_ = r.archiveLock.Release()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}
}

func applyOptions(cfg *config.AppConfig, opts Options) error {
	if c := strings.TrimSpace(opts.Connector); c != "" {
		cfg.Connection.Connector = config.ConnectorType(strings.ToLower(c))
	}
	if err := ApplyTarget(&cfg.Connection, opts.Target); err != nil {
		return err
	}
	if lvl := strings.TrimSpace(opts.LogLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if opts.PollInterval > 0 {
		cfg.Sync.PollInterval = config.Duration(opts.PollInterval)
	}

	known := make(map[string]int, len(cfg.PVs))
	for i, p := range cfg.PVs {
		known[p.Name] = i
	}
	for _, p := range opts.PVs {
		if i, ok := known[p.Name]; ok {
			if p.Type != "" {
				cfg.PVs[i].Type = p.Type
			}
			continue
		}
		known[p.Name] = len(cfg.PVs)
		cfg.PVs = append(cfg.PVs, p)
	}
	cfg.FillMissingDefaults()

	return nil
}
