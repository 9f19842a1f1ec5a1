package api

import (
	"path"
	"strings"
	"time"

	"ozonassist/internal/attachments"
	"ozonassist/internal/queue"
	"ozonassist/internal/store"
)

// ImagePrefix is the URL path static blobs are served under.
const ImagePrefix = "/images/"

// ImageURL builds the absolute URL of a blob.
func ImageURL(baseURL, filePath string) string {
	if strings.TrimSpace(filePath) == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + ImagePrefix + path.Base(filePath)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromWorkItem converts a store work item to its API representation.
func FromWorkItem(item *store.WorkItem, baseURL string) Complaint {
	if item == nil {
		return Complaint{}
	}
	dto := Complaint{
		ID:        item.ID,
		SKU:       item.SKU,
		Reason:    item.Reason,
		Status:    string(item.Status),
		ImageID:   item.AttachmentID,
		ImagePath: item.AttachmentPath,
		ImageURL:  ImageURL(baseURL, item.AttachmentPath),
		Remark:    item.Remark,
		CreatedAt: formatTime(item.CreatedAt),
		UpdatedAt: formatTime(item.UpdatedAt),
	}
	if item.StartedAt != nil {
		dto.StartedAt = formatTime(*item.StartedAt)
	}
	return dto
}

// FromAttachment converts a store attachment to its API representation.
func FromAttachment(att *store.Attachment, missing bool, baseURL string) Image {
	if att == nil {
		return Image{}
	}
	return Image{
		ID:          att.ID,
		FileName:    att.FileName,
		FilePath:    att.FilePath,
		FileSize:    att.FileSize,
		Fingerprint: att.Fingerprint,
		MimeType:    att.MimeType,
		URL:         ImageURL(baseURL, att.FilePath),
		Missing:     missing,
		CreatedAt:   formatTime(att.CreatedAt),
	}
}

// FromRandomPick converts the attachment handed to the agent.
func FromRandomPick(att *store.Attachment, baseURL string) RandomImage {
	return RandomImage{
		ID:       att.ID,
		FileName: att.FileName,
		FilePath: att.FilePath,
		URL:      ImageURL(baseURL, att.FilePath),
	}
}

// FromStats converts queue stats.
func FromStats(stats queue.Stats) Stats {
	return Stats{
		Total:      stats.Total,
		Pending:    stats.Pending,
		Processing: stats.Processing,
		Success:    stats.Success,
		Failed:     stats.Failed,
		Timeout:    stats.Timeout,
		Images:     stats.Attachments,
	}
}

// FromComplaintPage converts a queue listing.
func FromComplaintPage(page queue.Page, baseURL string) ComplaintPage {
	items := make([]Complaint, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, FromWorkItem(item, baseURL))
	}
	return ComplaintPage{Items: items, Total: page.Total, Page: page.Page, PageSize: page.PageSize}
}

// FromImagePage converts an attachment listing.
func FromImagePage(page attachments.ListPage, baseURL string) ImagePage {
	items := make([]Image, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, FromAttachment(entry.Attachment, entry.Missing, baseURL))
	}
	return ImagePage{
		Items:     items,
		Total:     page.Total,
		TotalSize: page.TotalSize,
		Page:      page.Page,
		PageSize:  page.PageSize,
	}
}

// FromBatchResult converts an attachment batch import.
func FromBatchResult(result attachments.BatchResult) ImportResult {
	out := ImportResult{Imported: result.Imported, Skipped: result.Skipped, Failed: result.Failed}
	for _, item := range result.Errors {
		out.Errors = append(out.Errors, ImportError{Path: item.Path, Message: item.Message})
	}
	return out
}

// FromDatabaseHealth converts store diagnostics.
func FromDatabaseHealth(health store.DatabaseHealth) DatabaseHealth {
	return DatabaseHealth{
		Healthy:         health.Healthy(),
		DBPath:          health.DBPath,
		DatabaseExists:  health.DatabaseExists,
		JournalMode:     health.JournalMode,
		MissingColumns:  health.MissingColumns,
		IntegrityCheck:  health.IntegrityCheck,
		IntegrityDetail: health.IntegrityDetail,
		Complaints:      health.ComplaintCount,
		Images:          health.ImageCount,
	}
}
