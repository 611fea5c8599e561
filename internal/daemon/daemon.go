package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"folio/internal/bus"
	"folio/internal/config"
	"folio/internal/job"
	"folio/internal/logging"
	"folio/internal/notifications"
	"folio/internal/provider"
	"folio/internal/providers/archive"
	"folio/internal/providers/fsimport"
	"folio/internal/providers/grayscale"
	"folio/internal/providers/normalize"
	"folio/internal/providers/projection"
	"folio/internal/providers/tessocr"
	"folio/internal/sandbox"
	"folio/internal/security"
	"folio/internal/snapshot"
	"folio/internal/store"
	"folio/internal/workers"
	"folio/internal/workflow"
)

// Daemon owns every long-lived component of a folio instance.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *store.DB
	sandboxes *sandbox.Store
	snapshots *snapshot.Store
	workflows *workflow.Store
	registry  *provider.Registry
	pool      *workers.Pool
	events    *bus.Bus
	channels  *bus.ChannelManager
	jobs      *job.Manager
	notifier  notifications.Service
	bridge    *notifications.Bridge

	lockPath     string
	lock         *flock.Flock
	bridgeHandle bus.Handle

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status is the daemon's runtime summary exposed over IPC.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockPath     string
	SocketPath   string
	Providers    int
	Endpoints    []string
	ActiveJobs   int
}

// New constructs a daemon with all dependencies initialized but not yet
// running. Close must be called even if Start is never reached.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare directories: %w", err)
	}

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	registry := provider.NewRegistry()
	if err := registerBuiltins(registry, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}

	events := bus.New()
	channels := bus.NewChannelManager(events, logger, 5*time.Second)
	for _, remote := range cfg.Remotes {
		channels.Add(context.Background(), remote.Name, remote.Network, remote.Address)
	}

	pool := workers.NewPool(cfg.Workflow.WorkerCount, cfg.Workflow.QueueDepth, logger)
	sandboxes := sandbox.NewStore(db)
	snapshots := snapshot.NewStore(db)
	workflows := workflow.NewStore(db)
	scheduler := workflow.NewScheduler(snapshots, sandboxes, registry, pool, events, cfg.Paths.WorkspaceDir, logger)
	jobs := job.NewManager(scheduler, workflows, sandboxes, snapshots, security.AllowAll{}, events, logger)
	notifier := notifications.NewService(cfg)

	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		db:        db,
		sandboxes: sandboxes,
		snapshots: snapshots,
		workflows: workflows,
		registry:  registry,
		pool:      pool,
		events:    events,
		channels:  channels,
		jobs:      jobs,
		notifier:  notifier,
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}
	d.bridge = notifications.NewBridge(notifier, jobs, sandboxes, cfg, logger)
	return d, nil
}

func registerBuiltins(registry *provider.Registry, cfg *config.Config) error {
	var objectStore *minio.Client
	if cfg.ObjectStore.Enabled {
		client, err := minio.New(cfg.ObjectStore.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.ObjectStore.AccessKey, cfg.ObjectStore.SecretKey, ""),
			Secure: cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("object store client: %w", err)
		}
		objectStore = client
	}

	providers := []provider.Provider{
		fsimport.New(),
		grayscale.New(),
		projection.New(),
		tessocr.New(cfg.OCR.Languages, cfg.OCR.TessdataPath),
		normalize.New(),
		archive.New(objectStore, cfg.ObjectStore.Bucket),
	}
	for _, p := range providers {
		if err := registry.Register(p); err != nil {
			return fmt.Errorf("register provider %s: %w", p.ID(), err)
		}
	}
	return nil
}

// Start acquires the instance lock and brings up the job manager, remote
// channels, and the notification bridge.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another folio daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	if err := d.jobs.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start job manager: %w", err)
	}
	d.channels.Start(runCtx)
	d.bridgeHandle = d.bridge.Attach(d.events)

	d.running.Store(true)
	d.logger.Info("folio daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.db.Path()),
	)
	return nil
}

// Stop winds down background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.jobs.Stop()
	d.channels.Close()
	if d.bridgeHandle != 0 {
		d.events.Unregister(d.bridgeHandle)
		d.bridgeHandle = 0
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("folio daemon stopped")
}

// Close stops the daemon and releases the pool and database.
func (d *Daemon) Close() error {
	d.Stop()
	d.pool.Close()
	return d.db.Close()
}

// LogPath returns the daemon log file location, matching the file the
// daemon logger mirrors into. Empty when no log directory is configured.
func (d *Daemon) LogPath() string {
	if d.cfg.Paths.LogDir == "" {
		return ""
	}
	return filepath.Join(d.cfg.Paths.LogDir, "folio.log")
}

// Status summarizes the daemon's runtime state.
func (d *Daemon) Status() Status {
	providers := 0
	for _, category := range provider.Categories() {
		providers += len(d.registry.Providers(category))
	}
	active := 0
	for _, j := range d.jobs.List() {
		if !j.State.Terminal() {
			active++
		}
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.db.Path(),
		LockPath:     d.lockPath,
		SocketPath:   d.cfg.Paths.SocketPath,
		Providers:    providers,
		Endpoints:    d.channels.EndpointIDs(),
		ActiveJobs:   active,
	}
}

// Accessors used by the IPC service layer.

func (d *Daemon) Jobs() *job.Manager               { return d.jobs }
func (d *Daemon) Sandboxes() *sandbox.Store        { return d.sandboxes }
func (d *Daemon) Snapshots() *snapshot.Store       { return d.snapshots }
func (d *Daemon) Workflows() *workflow.Store       { return d.workflows }
func (d *Daemon) Registry() *provider.Registry     { return d.registry }
func (d *Daemon) Events() *bus.Bus                 { return d.events }
func (d *Daemon) Notifier() notifications.Service  { return d.notifier }
func (d *Daemon) DB() *store.DB                    { return d.db }
func (d *Daemon) Config() *config.Config           { return d.cfg }
