package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RestartRemark is written to claims orphaned by a process restart.
const RestartRemark = "服务重启，任务中断"

// RepairReport counts the rows each integrity rule changed.
type RepairReport struct {
	OrphanedClaims int64
	DanglingImages int64
	BlankSKUs      int64
	DuplicateSKUs  int64
}

// Changed reports whether any rule touched a row.
func (r RepairReport) Changed() bool {
	return r.OrphanedClaims+r.DanglingImages+r.BlankSKUs+r.DuplicateSKUs > 0
}

// RepairIntegrity normalizes state that cannot be valid right after startup.
// It must run once, after Migrate and before the ingress accepts claims.
func (s *Store) RepairIntegrity(ctx context.Context) (RepairReport, error) {
	var report RepairReport
	stamp := FormatTime(now())

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		report = RepairReport{}
		run := func(target *int64, query string, args ...any) error {
			res, execErr := tx.ExecContext(ctx, query, args...)
			if execErr != nil {
				return execErr
			}
			*target, execErr = res.RowsAffected()
			return execErr
		}

		// No process holds a claim across a restart.
		if err := run(&report.OrphanedClaims,
			`UPDATE complaints SET status = ?, remark = ?, updated_at = ? WHERE status = ?`,
			StatusTimeout, RestartRemark, stamp, StatusProcessing,
		); err != nil {
			return err
		}
		if err := run(&report.DanglingImages,
			`UPDATE complaints SET image_id = NULL, updated_at = ?
			 WHERE image_id IS NOT NULL AND image_id NOT IN (SELECT id FROM images)`,
			stamp,
		); err != nil {
			return err
		}
		if err := run(&report.BlankSKUs,
			`DELETE FROM complaints WHERE sku IS NULL OR TRIM(sku) = ''`,
		); err != nil {
			return err
		}
		// Databases created before the UNIQUE constraint may hold duplicates.
		if err := run(&report.DuplicateSKUs,
			`DELETE FROM complaints WHERE id NOT IN (SELECT MIN(id) FROM complaints GROUP BY sku)`,
		); err != nil {
			return err
		}
		// Legacy tables lack the column constraint; the index takes its place.
		if _, err := tx.ExecContext(ctx,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_complaints_sku ON complaints(sku)`,
		); err != nil {
			return fmt.Errorf("enforce unique sku: %w", err)
		}
		return nil
	})
	if err != nil {
		return RepairReport{}, fmt.Errorf("repair integrity: %w", err)
	}
	return report, nil
}
