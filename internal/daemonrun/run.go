package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ozonassist/internal/attachments"
	"ozonassist/internal/config"
	"ozonassist/internal/daemon"
	"ozonassist/internal/events"
	"ozonassist/internal/logging"
	"ozonassist/internal/metrics"
	"ozonassist/internal/notifications"
	"ozonassist/internal/preflight"
	"ozonassist/internal/queue"
	"ozonassist/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the ozonassist daemon and blocks until the context ends or the
// process is signalled.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	// Held before touching anything a running instance owns.
	lock, err := daemon.AcquireLock(cfg.LockPath())
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			fmt.Fprintf(os.Stderr, "warn: release %s: %v\n", lock.Path(), err)
		}
	}()

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("ozonassist-%s.log", runID))
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update ozonassist.log link: %v\n", err)
	}
	logging.PruneRunLogs(logger, cfg.Paths.LogDir, "ozonassist-*.log", logPath, cfg.Logging.RetentionRuns)

	for _, result := range preflight.Failed(preflight.RunAll(signalCtx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open complaint store", "store_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.data_dir permissions"),
		)
		return err
	}
	defer st.Close()

	report, err := st.RepairIntegrity(signalCtx)
	if err != nil {
		return fmt.Errorf("repair store: %w", err)
	}
	logRepair(logger, report)

	deps, err := buildDeps(signalCtx, cfg, st, logger)
	if err != nil {
		return err
	}
	deps.Lock = lock

	d, err := daemon.New(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check server.bind and that no other daemon is running"),
			logging.String(logging.FieldImpact, "the browser agent cannot reach the queue"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("ozonassist daemon shutting down")
	return nil
}

func buildDeps(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) (daemon.Deps, error) {
	bus := events.NewBus(cfg.Server.EventBufferSize)
	notifier := notifications.NewService(cfg)

	var (
		recorder *metrics.Recorder
		registry *prometheus.Registry
	)
	if cfg.Metrics.Enabled {
		registry = metrics.NewRegistry()
		recorder = metrics.NewRecorder(registry)
	}

	engine := queue.New(st,
		queue.WithPublisher(bus),
		queue.WithNotifier(notifier),
		queue.WithRecorder(recorder),
		queue.WithLogger(logger),
		queue.WithStaleAfter(cfg.StaleAfter()),
	)
	if err := engine.Prime(ctx); err != nil {
		return daemon.Deps{}, fmt.Errorf("prime queue: %w", err)
	}
	attachmentRegistry := attachments.New(st, cfg,
		attachments.WithPublisher(bus),
		attachments.WithRecorder(recorder),
		attachments.WithLogger(logger),
	)
	if registry != nil {
		if err := registry.Register(metrics.NewQueueCollector(engine.Counts)); err != nil {
			return daemon.Deps{}, fmt.Errorf("register queue collector: %w", err)
		}
	}

	return daemon.Deps{
		Store:    st,
		Engine:   engine,
		Registry: attachmentRegistry,
		Bus:      bus,
		Notifier: notifier,
		Recorder: recorder,
		Metrics:  registry,
	}, nil
}

func logRepair(logger *slog.Logger, report store.RepairReport) {
	attrs := logging.Args(
		logging.Int64("orphaned_claims", report.OrphanedClaims),
		logging.Int64("dangling_images", report.DanglingImages),
		logging.Int64("blank_skus", report.BlankSKUs),
		logging.Int64("duplicate_skus", report.DuplicateSKUs),
		logging.String(logging.FieldEventType, "store_repaired"),
	)
	if report.Changed() {
		logger.Warn("store integrity repaired", attrs...)
		return
	}
	logger.Debug("store integrity verified", attrs...)
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "ozonassist.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
