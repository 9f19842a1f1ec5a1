package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"ozonassist/internal/events"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Envelope wraps every response body.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK wraps data in a success envelope.
func OK(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

// Fail builds a failure envelope.
func Fail(message string) Envelope {
	return Envelope{Success: false, Message: message}
}

// ID is an integer identifier that also decodes from a numeric string.
type ID int64

var _ json.Unmarshaler = (*ID)(nil)

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("invalid id %s", raw)
		}
		raw = strings.TrimSpace(unquoted)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", raw)
	}
	*id = ID(value)
	return nil
}

// ServerStatus is the liveness payload.
type ServerStatus struct {
	Status    string `json:"status"`
	Port      int    `json:"port"`
	Timestamp string `json:"timestamp"`
}

// Complaint describes a work item in a transport-friendly format.
type Complaint struct {
	ID        int64  `json:"id"`
	SKU       string `json:"sku"`
	Reason    string `json:"reason,omitempty"`
	Status    string `json:"status"`
	ImageID   *int64 `json:"imageId,omitempty"`
	ImagePath string `json:"imagePath,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	StartedAt string `json:"startedAt,omitempty"`
	Remark    string `json:"remark,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Image describes an attachment.
type Image struct {
	ID          int64  `json:"id"`
	FileName    string `json:"fileName"`
	FilePath    string `json:"filePath"`
	FileSize    int64  `json:"fileSize"`
	Fingerprint string `json:"fingerprint"`
	MimeType    string `json:"mimeType,omitempty"`
	URL         string `json:"url"`
	Missing     bool   `json:"missing,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// RandomImage is the payload handed to the agent for upload.
type RandomImage struct {
	ID       int64  `json:"id"`
	FileName string `json:"fileName"`
	FilePath string `json:"filePath"`
	URL      string `json:"url"`
}

// Stats summarizes complaint and image counts.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Timeout    int `json:"timeout"`
	Images     int `json:"images"`
}

// ComplaintPage is one page of complaints.
type ComplaintPage struct {
	Items    []Complaint `json:"items"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
}

// ImagePage is one page of images.
type ImagePage struct {
	Items     []Image `json:"items"`
	Total     int     `json:"total"`
	TotalSize int64   `json:"totalSize"`
	Page      int     `json:"page"`
	PageSize  int     `json:"pageSize"`
}

// EnqueueResult reports a complaint import.
type EnqueueResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// ImportError names one file an image import rejected.
type ImportError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ImportResult reports an image import.
type ImportResult struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Errors   []ImportError `json:"errors,omitempty"`
}

// ResetResult reports how many complaints returned to pending.
type ResetResult struct {
	Reset int64 `json:"reset"`
}

// DatabaseHealth mirrors store.DatabaseHealth.
type DatabaseHealth struct {
	Healthy         bool     `json:"healthy"`
	DBPath          string   `json:"dbPath"`
	DatabaseExists  bool     `json:"databaseExists"`
	JournalMode     string   `json:"journalMode"`
	MissingColumns  []string `json:"missingColumns,omitempty"`
	IntegrityCheck  bool     `json:"integrityCheck"`
	IntegrityDetail string   `json:"integrityDetail,omitempty"`
	Complaints      int      `json:"complaints"`
	Images          int      `json:"images"`
}

// EventsResponse carries change events after a cursor.
type EventsResponse struct {
	Events []events.Event `json:"events"`
	Next   uint64         `json:"next"`
}

// OutcomeRequest is the agent's result report.
type OutcomeRequest struct {
	Status string `json:"status"`
	Remark string `json:"remark"`
}

// LinkImageRequest binds an image to a complaint.
type LinkImageRequest struct {
	ImageID ID `json:"imageId"`
}

// EnqueueRequest imports complaints. Text holds "sku[,reason]" lines and is
// merged with SKUs.
type EnqueueRequest struct {
	SKUs []string `json:"skus"`
	Text string   `json:"text"`
}

// StatusRequest is the operator status override.
type StatusRequest struct {
	Status string  `json:"status"`
	Remark *string `json:"remark"`
}

// ResetRequest names the statuses to return to pending.
type ResetRequest struct {
	Statuses []string `json:"statuses"`
}

// ImportPathsRequest imports images from server-side paths.
type ImportPathsRequest struct {
	Paths []string `json:"paths"`
}
