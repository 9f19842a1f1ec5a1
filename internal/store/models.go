package store

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a complaint.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusSuccess,
	StatusFailed,
	StatusTimeout,
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, error) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, nil
		}
	}
	return "", Validationf("unknown status %q", value)
}

// IsOutcome reports whether the agent may report s for a claimed complaint.
func (s Status) IsOutcome() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Terminal reports whether s ends a claim.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusTimeout
}

// WorkItem is one complaint row.
type WorkItem struct {
	ID           int64
	SKU          string
	Reason       string
	Status       Status
	AttachmentID *int64
	// AttachmentPath is the blob name of the bound image, when one is bound.
	AttachmentPath string
	StartedAt      *time.Time
	Remark         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (w *WorkItem) String() string {
	if w == nil {
		return "<nil>"
	}
	return fmt.Sprintf("complaint %d (%s, %s)", w.ID, w.SKU, w.Status)
}

// Attachment is one deduplicated image row.
type Attachment struct {
	ID          int64
	FilePath    string
	FileName    string
	FileSize    int64
	Fingerprint string
	MimeType    string
	CreatedAt   time.Time
}
