package store

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaDDL string

type columnAddition struct {
	table      string
	column     string
	definition string
}

// Columns introduced after the first release. Each is nullable or defaulted so
// ALTER TABLE ADD COLUMN can run against a populated table.
var columnAdditions = []columnAddition{
	{table: "complaints", column: "reason", definition: "TEXT"},
	{table: "complaints", column: "image_id", definition: "INTEGER REFERENCES images(id) ON DELETE SET NULL"},
	{table: "complaints", column: "started_at", definition: "TEXT"},
	{table: "complaints", column: "remark", definition: "TEXT"},
	{table: "images", column: "mime_type", definition: "TEXT"},
}

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_complaints_status ON complaints(status)",
	"CREATE INDEX IF NOT EXISTS idx_complaints_created_at ON complaints(created_at)",
	"CREATE INDEX IF NOT EXISTS idx_complaints_image_id ON complaints(image_id)",
}

// Migrate creates missing tables and adds missing columns. It inspects the
// live columns instead of a version number, so it is safe on every start.
func (s *Store) Migrate(ctx context.Context) error {
	ctx = ensureContext(ctx)
	if _, err := s.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	for _, addition := range columnAdditions {
		columns, err := s.tableColumns(ctx, addition.table)
		if err != nil {
			return err
		}
		if _, ok := columns[addition.column]; ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", addition.table, addition.column, addition.definition)
		if _, err := s.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", addition.table, addition.column, err)
		}
	}

	for _, stmt := range indexes {
		if _, err := s.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	if _, err := s.Exec(ctx,
		`INSERT INTO schema_meta (key, value) VALUES ('migrated_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		FormatTime(now()),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}

func (s *Store) tableColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	rows, err := s.Query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("inspect %s columns: %w", table, err)
	}
	defer rows.Close()

	columns := make(map[string]struct{})
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("scan %s columns: %w", table, err)
		}
		columns[strings.ToLower(name)] = struct{}{}
	}
	return columns, rows.Err()
}
