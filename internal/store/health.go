package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var expectedColumns = map[string][]string{
	"complaints": {"id", "sku", "reason", "status", "image_id", "started_at", "remark", "created_at", "updated_at"},
	"images":     {"id", "file_path", "file_name", "file_size", "fingerprint", "mime_type", "created_at"},
}

// DatabaseHealth summarizes on-disk database state for diagnostics.
type DatabaseHealth struct {
	DBPath          string
	DatabaseExists  bool
	JournalMode     string
	MissingColumns  []string
	IntegrityCheck  bool
	IntegrityDetail string
	ComplaintCount  int
	ImageCount      int
}

// Healthy reports whether every check passed.
func (h DatabaseHealth) Healthy() bool {
	return h.DatabaseExists && h.IntegrityCheck && len(h.MissingColumns) == 0
}

// CheckHealth returns diagnostic information about the database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if err := s.QueryRow(ctx, "PRAGMA journal_mode").Scan(&health.JournalMode); err != nil {
		return health, fmt.Errorf("read journal mode: %w", err)
	}

	for _, table := range []string{"complaints", "images"} {
		columns, err := s.tableColumns(ctx, table)
		if err != nil {
			return health, err
		}
		for _, column := range expectedColumns[table] {
			if _, ok := columns[column]; !ok {
				health.MissingColumns = append(health.MissingColumns, table+"."+column)
			}
		}
	}

	if err := s.QueryRow(ctx, "PRAGMA integrity_check").Scan(&health.IntegrityDetail); err != nil {
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(health.IntegrityDetail, "ok")

	if err := s.QueryRow(ctx, "SELECT COUNT(1) FROM complaints").Scan(&health.ComplaintCount); err != nil {
		return health, fmt.Errorf("count complaints: %w", err)
	}
	if err := s.QueryRow(ctx, "SELECT COUNT(1) FROM images").Scan(&health.ImageCount); err != nil {
		return health, fmt.Errorf("count images: %w", err)
	}
	return health, nil
}
