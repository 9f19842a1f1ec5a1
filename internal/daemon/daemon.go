package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"ozonassist/internal/attachments"
	"ozonassist/internal/config"
	"ozonassist/internal/events"
	"ozonassist/internal/logging"
	"ozonassist/internal/metrics"
	"ozonassist/internal/notifications"
	"ozonassist/internal/queue"
	"ozonassist/internal/store"
)

// Deps are the components the daemon serves. Recorder and Metrics may be nil.
type Deps struct {
	Store    *store.Store
	Engine   *queue.Engine
	Registry *attachments.Registry
	Bus      *events.Bus
	Notifier notifications.Service
	Recorder *metrics.Recorder
	Metrics  *prometheus.Registry
	// Lock, when set, is already held by the caller and stays owned by it.
	Lock *InstanceLock
}

// InstanceLock guards a data directory against a second daemon.
type InstanceLock struct {
	path string
	lock *flock.Flock
}

// AcquireLock takes the single-instance lock at path without blocking. It
// must be held before the store is repaired or the PID file is written.
func AcquireLock(path string) (*InstanceLock, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return &InstanceLock{path: path, lock: lock}, nil
}

// Path is the lock file location.
func (l *InstanceLock) Path() string {
	return l.path
}

// Release unlocks the instance lock.
func (l *InstanceLock) Release() error {
	return l.lock.Unlock()
}

// ErrAlreadyRunning reports that another daemon holds the instance lock.
var ErrAlreadyRunning = errors.New("another ozonassist daemon instance is already running")

// Daemon owns the ingress server and the reaper and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	deps     Deps
	server   *apiServer
	reaper   *reaper
	lockPath string
	lock     *InstanceLock
	ownsLock bool

	running   atomic.Bool
	startedAt atomic.Int64
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Address      string
	BaseURL      string
	DBPath       string
	LockFilePath string
	StartedAt    time.Time
	Stats        queue.Stats
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Engine == nil || deps.Registry == nil {
		return nil, errors.New("daemon requires config, store, queue engine, and attachment registry")
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(cfg.Server.EventBufferSize)
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewNoop()
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		deps:     deps,
		lockPath: cfg.LockPath(),
		lock:     deps.Lock,
	}
	if d.lock != nil {
		d.lockPath = d.lock.Path()
	}
	server, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.server = server
	d.reaper = newReaper(cfg.Queue.ReapSchedule, deps.Engine, logger)
	return d, nil
}

// Start binds the ingress listener and schedules the reaper. It takes the
// instance lock itself unless Deps.Lock supplied one. Callers must have run
// store migration and repair first.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if d.lock == nil {
		lock, err := AcquireLock(d.lockPath)
		if err != nil {
			return err
		}
		d.lock = lock
		d.ownsLock = true
	}

	if err := d.server.start(ctx); err != nil {
		d.releaseLock()
		return err
	}
	if err := d.reaper.start(ctx); err != nil {
		d.server.stop()
		d.releaseLock()
		return fmt.Errorf("start reaper: %w", err)
	}

	d.startedAt.Store(time.Now().UnixNano())
	d.running.Store(true)
	d.logger.Info("ozonassist daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.address()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops the reaper and the ingress and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.reaper.stop()
	d.server.stop()
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("ozonassist daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

func (d *Daemon) releaseLock() {
	if !d.ownsLock || d.lock == nil {
		return
	}
	if err := d.lock.Release(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.lock = nil
	d.ownsLock = false
}

// Close releases resources held by the daemon. The store is owned by the
// caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Address is the bound listener address, empty before Start.
func (d *Daemon) Address() string {
	return d.server.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Address:      d.server.address(),
		BaseURL:      d.server.baseURL(),
		DBPath:       d.deps.Store.Path(),
		LockFilePath: d.lockPath,
	}
	if started := d.startedAt.Load(); started > 0 {
		status.StartedAt = time.Unix(0, started).UTC()
	}
	if stats, err := d.deps.Engine.Stats(ctx); err == nil {
		status.Stats = stats
	} else {
		logging.WarnWithContext(d.logger, "queue stats unavailable", "stats_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "status reports zero counts"),
		)
	}
	return status
}
