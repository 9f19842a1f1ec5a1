// Package client is the CLI's HTTP client for the ozonassist daemon. Every
// call decodes the daemon's {success, data|message} envelope.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ozonassist/internal/api"
)

// ErrRejected wraps failures the daemon reported with success=false.
var ErrRejected = errors.New("request rejected")

const userAgent = "ozonassist-cli"

// Client talks to a running daemon.
type Client struct {
	http *resty.Client
}

// New returns a client for the daemon at baseURL. A non-empty token is sent
// as a bearer credential, which the daemon requires on admin routes when
// api_token is configured.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetRetryCount(0)
	if token = strings.TrimSpace(token); token != "" {
		httpClient.SetAuthToken(token)
	}
	return &Client{http: httpClient}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func call[T any](ctx context.Context, req *resty.Request, method, path string) (T, error) {
	var (
		out T
		env envelope
	)
	resp, err := req.SetContext(ctx).
		SetHeader("Accept", "application/json").
		Execute(method, path)
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return out, fmt.Errorf("%s %s: unexpected response (%s)", method, path, resp.Status())
	}
	if !env.Success {
		if resp.IsError() {
			return out, fmt.Errorf("%s %s: %s", method, path, env.Message)
		}
		return out, fmt.Errorf("%w: %s", ErrRejected, env.Message)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("%s %s: decode data: %w", method, path, err)
	}
	return out, nil
}

// Status pings the daemon.
func (c *Client) Status(ctx context.Context) (api.ServerStatus, error) {
	return call[api.ServerStatus](ctx, c.http.R(), resty.MethodGet, "/api/status")
}

// Stats returns queue and image counts.
func (c *Client) Stats(ctx context.Context) (api.Stats, error) {
	return call[api.Stats](ctx, c.http.R(), resty.MethodGet, "/api/admin/stats")
}

// Health returns the database health report.
func (c *Client) Health(ctx context.Context) (api.DatabaseHealth, error) {
	return call[api.DatabaseHealth](ctx, c.http.R(), resty.MethodGet, "/api/admin/health")
}

// ComplaintQuery filters ListComplaints. Dates use YYYY-MM-DD.
type ComplaintQuery struct {
	SKU      string
	Statuses []string
	Date     string
	From     string
	To       string
	Page     int
	PageSize int
}

func (q ComplaintQuery) values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			v.Set(key, value)
		}
	}
	set("sku", q.SKU)
	set("date", q.Date)
	set("from", q.From)
	set("to", q.To)
	for _, status := range q.Statuses {
		v.Add("status", status)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	return v
}

// ListComplaints returns one page of complaints.
func (c *Client) ListComplaints(ctx context.Context, q ComplaintQuery) (api.ComplaintPage, error) {
	return call[api.ComplaintPage](ctx, c.http.R().SetQueryParamsFromValues(q.values()), resty.MethodGet, "/api/admin/complaints")
}

// Enqueue adds complaints from skus and "sku[,reason]" lines in text.
func (c *Client) Enqueue(ctx context.Context, skus []string, text string) (api.EnqueueResult, error) {
	body := api.EnqueueRequest{SKUs: skus, Text: text}
	return call[api.EnqueueResult](ctx, c.http.R().SetBody(body), resty.MethodPost, "/api/admin/complaints")
}

// SetStatus overrides a complaint's status. A nil remark leaves it unchanged.
func (c *Client) SetStatus(ctx context.Context, id int64, status string, remark *string) (api.Complaint, error) {
	body := api.StatusRequest{Status: status, Remark: remark}
	return call[api.Complaint](ctx, c.http.R().SetBody(body), resty.MethodPatch, "/api/admin/complaints/"+strconv.FormatInt(id, 10))
}

// RemoveComplaint deletes a complaint.
func (c *Client) RemoveComplaint(ctx context.Context, id int64) error {
	_, err := call[struct{}](ctx, c.http.R(), resty.MethodDelete, "/api/admin/complaints/"+strconv.FormatInt(id, 10))
	return err
}

// Reset returns complaints in statuses (default failed and timeout) to pending.
func (c *Client) Reset(ctx context.Context, statuses ...string) (api.ResetResult, error) {
	body := api.ResetRequest{Statuses: statuses}
	return call[api.ResetResult](ctx, c.http.R().SetBody(body), resty.MethodPost, "/api/admin/complaints/reset")
}

// ListImages returns one page of images.
func (c *Client) ListImages(ctx context.Context, search string, page, pageSize int) (api.ImagePage, error) {
	req := c.http.R()
	if search = strings.TrimSpace(search); search != "" {
		req.SetQueryParam("search", search)
	}
	if page > 0 {
		req.SetQueryParam("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		req.SetQueryParam("pageSize", strconv.Itoa(pageSize))
	}
	return call[api.ImagePage](ctx, req, resty.MethodGet, "/api/admin/images")
}

// ImportImages asks the daemon to import files or directories on its host.
func (c *Client) ImportImages(ctx context.Context, paths []string) (api.ImportResult, error) {
	body := api.ImportPathsRequest{Paths: paths}
	return call[api.ImportResult](ctx, c.http.R().SetBody(body), resty.MethodPost, "/api/admin/images/import")
}

// DeleteImage removes an image and unlinks it from complaints.
func (c *Client) DeleteImage(ctx context.Context, id int64) error {
	_, err := call[struct{}](ctx, c.http.R(), resty.MethodDelete, "/api/admin/images/"+strconv.FormatInt(id, 10))
	return err
}
