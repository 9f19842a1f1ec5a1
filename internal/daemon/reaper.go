package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ozonassist/internal/logging"
	"ozonassist/internal/queue"
)

// reaper sweeps stale claims on a cron schedule, independent of polling.
type reaper struct {
	schedule string
	engine   *queue.Engine
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
	ctx  context.Context
}

func newReaper(schedule string, engine *queue.Engine, logger *slog.Logger) *reaper {
	return &reaper{
		schedule: schedule,
		engine:   engine,
		logger:   logging.NewComponentLogger(logger, "reaper"),
	}
}

func (r *reaper) start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.Recover(cronLogger{r.logger}), cron.SkipIfStillRunning(cronLogger{r.logger})),
		cron.WithLogger(cronLogger{r.logger}),
	)
	if _, err := c.AddFunc(r.schedule, r.sweep); err != nil {
		return err
	}
	r.ctx = ctx
	r.cron = c
	c.Start()
	r.logger.Debug("reaper scheduled", logging.String("schedule", r.schedule))
	return nil
}

func (r *reaper) sweep() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := r.engine.Reap(ctx); err != nil {
		logging.WarnWithContext(r.logger, "scheduled reap failed", "reap_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database access"),
			logging.String(logging.FieldImpact, "stale claims stay processing until the next sweep or poll"),
		)
	}
}

func (r *reaper) stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{logging.Error(err)}, keysAndValues...)...)
}
