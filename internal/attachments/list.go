package attachments

import (
	"context"
	"fmt"
	"strings"

	"ozonassist/internal/fileutil"
	"ozonassist/internal/store"
)

// ListFilter narrows List results.
type ListFilter struct {
	Search   string
	Page     int
	PageSize int
}

// Entry is one listed attachment.
type Entry struct {
	*store.Attachment
	// Missing is true when the blob is gone from disk.
	Missing bool
}

// ListPage is one page of attachments plus totals over the whole filter.
type ListPage struct {
	Items     []Entry
	Total     int
	TotalSize int64
	Page      int
	PageSize  int
}

// List returns attachments matching filter, newest first.
func (r *Registry) List(ctx context.Context, filter ListFilter) (ListPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	where := ""
	var args []any
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(search) + "%"
		where = ` WHERE file_name LIKE ? ESCAPE '\' OR file_path LIKE ? ESCAPE '\'`
		args = append(args, pattern, pattern)
	}

	page := ListPage{Page: filter.Page, PageSize: filter.PageSize}
	if err := r.store.QueryRow(ctx,
		`SELECT COUNT(1), COALESCE(SUM(file_size), 0) FROM images`+where, args...,
	).Scan(&page.Total, &page.TotalSize); err != nil {
		return ListPage{}, fmt.Errorf("count attachments: %w", err)
	}

	rows, err := r.store.Query(ctx,
		`SELECT `+store.AttachmentColumns+` FROM images`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)...,
	)
	if err != nil {
		return ListPage{}, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		att, err := store.ScanAttachment(rows)
		if err != nil {
			return ListPage{}, fmt.Errorf("scan attachment: %w", err)
		}
		page.Items = append(page.Items, Entry{Attachment: att, Missing: !fileutil.Exists(r.Path(att))})
	}
	if err := rows.Err(); err != nil {
		return ListPage{}, fmt.Errorf("list attachments: %w", err)
	}
	return page, nil
}
