package store

import (
	"database/sql"
	"errors"
	"time"
)

// timeLayout has fixed-width fractional seconds so stored timestamps compare
// correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// WorkItemColumns is the select list ScanWorkItem expects. Queries must alias
// complaints as c and LEFT JOIN images as i.
const WorkItemColumns = "c.id, c.sku, c.reason, c.status, c.image_id, i.file_path, c.started_at, c.remark, c.created_at, c.updated_at"

// AttachmentColumns is the select list ScanAttachment expects.
const AttachmentColumns = "id, file_path, file_name, file_size, fingerprint, mime_type, created_at"

var now = func() time.Time { return time.Now().UTC() }

// Now returns the current time in UTC, as stored timestamps use.
func Now() time.Time {
	return now()
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// FormatTime renders t in the stored timestamp layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp. SQLite's CURRENT_TIMESTAMP format is
// accepted for rows written by older releases.
func ParseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

// ScanWorkItem reads one row selected with WorkItemColumns.
func ScanWorkItem(scanner Scanner) (*WorkItem, error) {
	var (
		item       WorkItem
		reason     sql.NullString
		status     string
		imageID    sql.NullInt64
		imagePath  sql.NullString
		startedRaw sql.NullString
		remark     sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(
		&item.ID,
		&item.SKU,
		&reason,
		&status,
		&imageID,
		&imagePath,
		&startedRaw,
		&remark,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item.Reason = reason.String
	item.Status = Status(status)
	item.Remark = remark.String
	if imageID.Valid {
		id := imageID.Int64
		item.AttachmentID = &id
		item.AttachmentPath = imagePath.String
	}
	if startedRaw.Valid {
		if started, err := ParseTime(startedRaw.String); err == nil {
			item.StartedAt = &started
		}
	}
	if created, err := ParseTime(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := ParseTime(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return &item, nil
}

// ScanAttachment reads one row selected with AttachmentColumns.
func ScanAttachment(scanner Scanner) (*Attachment, error) {
	var (
		att        Attachment
		mimeType   sql.NullString
		createdRaw sql.NullString
	)
	if err := scanner.Scan(
		&att.ID,
		&att.FilePath,
		&att.FileName,
		&att.FileSize,
		&att.Fingerprint,
		&mimeType,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	att.MimeType = mimeType.String
	if created, err := ParseTime(createdRaw.String); err == nil {
		att.CreatedAt = created
	}
	return &att, nil
}

// NullableString maps "" to NULL.
func NullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// MakePlaceholders returns "?,?,..." with count entries.
func MakePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
