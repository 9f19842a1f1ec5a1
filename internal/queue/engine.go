package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"ozonassist/internal/events"
	"ozonassist/internal/logging"
	"ozonassist/internal/metrics"
	"ozonassist/internal/notifications"
	"ozonassist/internal/store"
	"ozonassist/internal/textutil"
)

// TimeoutRemark is written to claims the reaper times out.
const TimeoutRemark = "任务超时"

// DefaultStaleAfter is how long a claim may go without an update.
const DefaultStaleAfter = 2 * time.Minute

const selectWorkItem = `SELECT ` + store.WorkItemColumns + `
	FROM complaints c LEFT JOIN images i ON i.id = c.image_id`

// Engine runs claim, outcome, enqueue, and reap operations against the store.
type Engine struct {
	store      *store.Store
	publisher  events.Publisher
	notifier   notifications.Service
	recorder   *metrics.Recorder
	logger     *slog.Logger
	staleAfter time.Duration
	now        func() time.Time

	// drained latches after a batch-complete signal until new work arrives.
	drained atomic.Bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPublisher sets the change-event sink.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithNotifier sets the operator alert sink.
func WithNotifier(n notifications.Service) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r *metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStaleAfter overrides the reaper staleness threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.staleAfter = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine over st.
func New(st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		staleAfter: DefaultStaleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = notifications.NewNoop()
	}
	e.logger = logging.NewComponentLogger(e.logger, "queue")
	return e
}

func (e *Engine) stamp() string {
	return store.FormatTime(e.now())
}

func (e *Engine) publish() {
	if e.publisher != nil {
		e.publisher.Publish(events.TopicQueue)
	}
}

func (e *Engine) alert(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := e.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(e.logger, "operator alert failed", "alert_failed",
			logging.String("alert", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			logging.String(logging.FieldImpact, "operator was not notified"),
		)
	}
}

// ClaimNext atomically moves the oldest pending complaint to processing and
// returns it. It returns nil, nil when no complaint is pending or when a
// concurrent caller claimed the selected row first; callers poll again later.
func (e *Engine) ClaimNext(ctx context.Context) (*store.WorkItem, error) {
	var claimed *store.WorkItem
	stamp := e.stamp()

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM complaints WHERE status = ? ORDER BY id LIMIT 1`,
			store.StatusPending,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE complaints SET status = ?, started_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			store.StatusProcessing, stamp, stamp, id, store.StatusPending,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		claimed, err = store.ScanWorkItem(tx.QueryRowContext(ctx, selectWorkItem+` WHERE c.id = ?`, id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claim next: %w", err)
	}

	e.recorder.Claim(claimed != nil)
	if claimed == nil {
		return nil, nil
	}
	e.logger.Info("complaint claimed",
		logging.Int64(logging.FieldItemID, claimed.ID),
		logging.String(logging.FieldSKU, claimed.SKU),
		logging.String(logging.FieldEventType, "complaint_claimed"),
	)
	e.publish()
	return claimed, nil
}

// ReportOutcome records the agent's result for sku. Only success and failed
// are accepted. An unknown sku yields store.ErrNotFound and changes nothing.
func (e *Engine) ReportOutcome(ctx context.Context, sku string, status store.Status, note string) error {
	if !status.IsOutcome() {
		return store.Validationf("status must be %s or %s, got %q", store.StatusSuccess, store.StatusFailed, status)
	}
	sku = textutil.NormalizeSKU(sku)
	if sku == "" {
		return store.Validationf("sku is required")
	}

	res, err := e.store.Exec(ctx,
		`UPDATE complaints SET status = ?, remark = ?, updated_at = ? WHERE sku = ?`,
		status, store.NullableString(note), e.stamp(), sku,
	)
	if err != nil {
		return fmt.Errorf("report outcome: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("report outcome: %w", err)
	}
	if affected == 0 {
		return store.NotFoundf("complaint %q not found", sku)
	}

	e.recorder.Outcome(string(status))
	e.logger.Info("complaint outcome reported",
		logging.String(logging.FieldSKU, sku),
		logging.String("status", string(status)),
		logging.String("remark", note),
		logging.String(logging.FieldEventType, "complaint_outcome"),
	)
	e.publish()
	return nil
}

// Reap times out processing complaints whose last update is older than the
// staleness threshold, in one statement. Change events and alerts fire only
// when at least one row changed.
func (e *Engine) Reap(ctx context.Context) (int64, error) {
	current := e.now()
	cutoff := store.FormatTime(current.Add(-e.staleAfter))

	res, err := e.store.Exec(ctx,
		`UPDATE complaints SET status = ?, remark = ?, updated_at = ?
		 WHERE status = ? AND updated_at < ?`,
		store.StatusTimeout, TimeoutRemark, store.FormatTime(current), store.StatusProcessing, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reap stale claims: %w", err)
	}
	reaped, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reap stale claims: %w", err)
	}
	if reaped == 0 {
		return 0, nil
	}

	e.recorder.Reaped(reaped)
	logging.WarnWithContext(e.logger, "stale claims timed out", "claims_reaped",
		logging.Int64("count", reaped),
		logging.Duration("stale_after", e.staleAfter),
		logging.String(logging.FieldErrorHint, "check that the browser agent is still running"),
		logging.String(logging.FieldImpact, "complaints need a retry"),
	)
	e.publish()
	e.alert(ctx, notifications.EventClaimsTimeout, notifications.Payload{"count": reaped})
	return reaped, nil
}

// CheckCompletion reports true exactly once each time the queue drains: no
// pending or processing complaints remain and at least one complaint exists.
// The latch re-arms when new work becomes pending.
func (e *Engine) CheckCompletion(ctx context.Context) (bool, error) {
	stats, err := e.Stats(ctx)
	if err != nil {
		return false, fmt.Errorf("check completion: %w", err)
	}
	if stats.Active() > 0 {
		e.drained.Store(false)
		return false, nil
	}
	if stats.Total == 0 {
		return false, nil
	}
	if !e.drained.CompareAndSwap(false, true) {
		return false, nil
	}

	e.logger.Info("queue drained",
		logging.Int("total", stats.Total),
		logging.Int("success", stats.Success),
		logging.Int("failed", stats.Failed),
		logging.Int("timeout", stats.Timeout),
		logging.String(logging.FieldEventType, "batch_complete"),
	)
	e.alert(ctx, notifications.EventBatchComplete, notifications.Payload{
		"total":   stats.Total,
		"success": stats.Success,
		"failed":  stats.Failed,
		"timeout": stats.Timeout,
	})
	return true, nil
}

// Prime latches the completion flag when the queue is already drained, so a
// restart does not repeat the batch-complete signal for work finished before
// it. Call once after repair, before serving polls.
func (e *Engine) Prime(ctx context.Context) error {
	stats, err := e.Stats(ctx)
	if err != nil {
		return fmt.Errorf("prime completion: %w", err)
	}
	e.drained.Store(stats.Total > 0 && stats.Active() == 0)
	return nil
}

// Poll is the claim endpoint's full side-effect sequence: reap stale claims,
// claim the next complaint, and on an empty result run the completion check.
func (e *Engine) Poll(ctx context.Context) (*store.WorkItem, error) {
	if _, err := e.Reap(ctx); err != nil {
		logging.WarnWithContext(e.logger, "reap during poll failed", "reap_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale claims stay processing until the next sweep"),
		)
	}
	item, err := e.ClaimNext(ctx)
	if err != nil || item != nil {
		return item, err
	}
	if _, err := e.CheckCompletion(ctx); err != nil {
		logging.WarnWithContext(e.logger, "completion check failed", "completion_check_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "batch-complete alert may be delayed"),
		)
	}
	return nil, nil
}

func (e *Engine) rearm() {
	e.drained.Store(false)
}
