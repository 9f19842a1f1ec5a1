package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ozonassist/internal/logging"
	"ozonassist/internal/store"
	"ozonassist/internal/textutil"
)

// EnqueueResult reports how many entries were inserted versus already present.
type EnqueueResult struct {
	Inserted int
	Skipped  int
}

// BulkEnqueue inserts every entry whose SKU is not already queued, in one
// transaction. Entries with blank SKUs are counted as skipped.
func (e *Engine) BulkEnqueue(ctx context.Context, entries []textutil.Entry) (EnqueueResult, error) {
	var result EnqueueResult
	stamp := e.stamp()

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		result = EnqueueResult{}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO complaints (sku, reason, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, entry := range entries {
			sku := textutil.NormalizeSKU(entry.SKU)
			if sku == "" {
				result.Skipped++
				continue
			}
			res, err := stmt.ExecContext(ctx, sku, store.NullableString(strings.TrimSpace(entry.Reason)), store.StatusPending, stamp, stamp)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				result.Skipped++
				continue
			}
			result.Inserted++
		}
		return nil
	})
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("bulk enqueue: %w", err)
	}

	e.logger.Info("complaints enqueued",
		logging.Int("inserted", result.Inserted),
		logging.Int("skipped", result.Skipped),
		logging.String(logging.FieldEventType, "complaints_enqueued"),
	)
	if result.Inserted > 0 {
		e.recorder.Enqueued(result.Inserted)
		e.rearm()
		e.publish()
	}
	return result, nil
}

// EnqueueSKUs is BulkEnqueue for bare SKUs.
func (e *Engine) EnqueueSKUs(ctx context.Context, skus ...string) (EnqueueResult, error) {
	entries := make([]textutil.Entry, 0, len(skus))
	for _, sku := range skus {
		entries = append(entries, textutil.Entry{SKU: sku})
	}
	return e.BulkEnqueue(ctx, entries)
}

// Stats aggregates complaint counts per status plus the attachment count.
type Stats struct {
	Total       int
	Pending     int
	Processing  int
	Success     int
	Failed      int
	Timeout     int
	Attachments int
}

// Active counts complaints still pending or processing.
func (s Stats) Active() int {
	return s.Pending + s.Processing
}

// ByStatus returns the per-status counts keyed by status name.
func (s Stats) ByStatus() map[string]int {
	return map[string]int{
		string(store.StatusPending):    s.Pending,
		string(store.StatusProcessing): s.Processing,
		string(store.StatusSuccess):    s.Success,
		string(store.StatusFailed):     s.Failed,
		string(store.StatusTimeout):    s.Timeout,
	}
}

// Stats reads aggregate counts in one pass over complaints.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := e.store.QueryRow(ctx, `SELECT
			COUNT(1),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'timeout' THEN 1 ELSE 0 END), 0),
			(SELECT COUNT(1) FROM images)
		FROM complaints`,
	).Scan(&stats.Total, &stats.Pending, &stats.Processing, &stats.Success, &stats.Failed, &stats.Timeout, &stats.Attachments)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

// Counts adapts Stats to the metrics scrape callback.
func (e *Engine) Counts(ctx context.Context) (map[string]int, int, error) {
	stats, err := e.Stats(ctx)
	if err != nil {
		return nil, 0, err
	}
	return stats.ByStatus(), stats.Attachments, nil
}

// Filter narrows List results. Zero values disable a criterion.
type Filter struct {
	SKU      string
	Statuses []store.Status
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// DefaultPageSize is used when a Filter does not set one.
const DefaultPageSize = 20

const maxPageSize = 500

func (f Filter) normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	return f
}

// Page is one page of List results plus the unpaged total.
type Page struct {
	Items    []*store.WorkItem
	Total    int
	Page     int
	PageSize int
}

// List returns complaints matching filter, newest first.
func (e *Engine) List(ctx context.Context, filter Filter) (Page, error) {
	filter = filter.normalized()

	var (
		clauses []string
		args    []any
	)
	if sku := strings.TrimSpace(filter.SKU); sku != "" {
		clauses = append(clauses, `c.sku LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(sku)+"%")
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "c.status IN ("+store.MakePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if !filter.From.IsZero() {
		clauses = append(clauses, "c.created_at >= ?")
		args = append(args, store.FormatTime(filter.From))
	}
	if !filter.To.IsZero() {
		clauses = append(clauses, "c.created_at < ?")
		args = append(args, store.FormatTime(filter.To))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	page := Page{Page: filter.Page, PageSize: filter.PageSize}
	if err := e.store.QueryRow(ctx, `SELECT COUNT(1) FROM complaints c`+where, args...).Scan(&page.Total); err != nil {
		return Page{}, fmt.Errorf("count complaints: %w", err)
	}

	query := selectWorkItem + where + ` ORDER BY c.created_at DESC, c.id DESC LIMIT ? OFFSET ?`
	pageArgs := append(append([]any(nil), args...), filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := e.store.Query(ctx, query, pageArgs...)
	if err != nil {
		return Page{}, fmt.Errorf("list complaints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := store.ScanWorkItem(rows)
		if err != nil {
			return Page{}, fmt.Errorf("scan complaint: %w", err)
		}
		page.Items = append(page.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("list complaints: %w", err)
	}
	return page, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

// Get returns the complaint with id or store.ErrNotFound.
func (e *Engine) Get(ctx context.Context, id int64) (*store.WorkItem, error) {
	item, err := store.ScanWorkItem(e.store.QueryRow(ctx, selectWorkItem+` WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundf("complaint %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get complaint: %w", err)
	}
	return item, nil
}

// GetBySKU returns the complaint keyed by sku or store.ErrNotFound.
func (e *Engine) GetBySKU(ctx context.Context, sku string) (*store.WorkItem, error) {
	sku = textutil.NormalizeSKU(sku)
	item, err := store.ScanWorkItem(e.store.QueryRow(ctx, selectWorkItem+` WHERE c.sku = ?`, sku))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundf("complaint %q not found", sku)
	}
	if err != nil {
		return nil, fmt.Errorf("get complaint: %w", err)
	}
	return item, nil
}

// UpdateStatus sets any status on the complaint with id. It is the operator
// override; the agent uses ReportOutcome. A nil remark leaves the remark as is.
func (e *Engine) UpdateStatus(ctx context.Context, id int64, status store.Status, remark *string) error {
	if _, err := store.ParseStatus(string(status)); err != nil {
		return err
	}
	stamp := e.stamp()

	query := `UPDATE complaints SET status = ?, updated_at = ?`
	args := []any{status, stamp}
	switch status {
	case store.StatusProcessing:
		query += `, started_at = ?`
		args = append(args, stamp)
	case store.StatusPending:
		query += `, started_at = NULL`
	}
	if remark != nil {
		query += `, remark = ?`
		args = append(args, store.NullableString(*remark))
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := e.store.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if affected == 0 {
		return store.NotFoundf("complaint %d not found", id)
	}

	e.logger.Info("complaint status updated",
		logging.Int64(logging.FieldItemID, id),
		logging.String("status", string(status)),
		logging.String(logging.FieldEventType, "complaint_status_updated"),
	)
	if status == store.StatusPending {
		e.rearm()
	}
	e.publish()
	return nil
}

// Remove deletes the complaint with id. The image it referenced is untouched.
func (e *Engine) Remove(ctx context.Context, id int64) error {
	res, err := e.store.Exec(ctx, `DELETE FROM complaints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove complaint: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove complaint: %w", err)
	}
	if affected == 0 {
		return store.NotFoundf("complaint %d not found", id)
	}
	e.logger.Info("complaint removed",
		logging.Int64(logging.FieldItemID, id),
		logging.String(logging.FieldEventType, "complaint_removed"),
	)
	e.publish()
	return nil
}

// ResetToPending returns complaints in the given statuses to pending so they
// are claimed again. With no statuses, failed and timeout complaints reset.
func (e *Engine) ResetToPending(ctx context.Context, statuses ...store.Status) (int64, error) {
	if len(statuses) == 0 {
		statuses = []store.Status{store.StatusFailed, store.StatusTimeout}
	}
	args := []any{store.StatusPending, e.stamp()}
	for _, status := range statuses {
		if status == store.StatusPending {
			continue
		}
		args = append(args, status)
	}
	if len(args) == 2 {
		return 0, nil
	}

	res, err := e.store.Exec(ctx,
		`UPDATE complaints SET status = ?, started_at = NULL, remark = NULL, updated_at = ?
		 WHERE status IN (`+store.MakePlaceholders(len(args)-2)+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("reset complaints: %w", err)
	}
	reset, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset complaints: %w", err)
	}
	if reset > 0 {
		e.logger.Info("complaints reset to pending",
			logging.Int64("count", reset),
			logging.String(logging.FieldEventType, "complaints_reset"),
		)
		e.rearm()
		e.publish()
	}
	return reset, nil
}
