package daemon

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ozonassist/internal/api"
	"ozonassist/internal/attachments"
	"ozonassist/internal/queue"
	"ozonassist/internal/store"
	"ozonassist/internal/textutil"
)

const dateLayout = "2006-01-02"

func (s *apiServer) handleStats(c *gin.Context) {
	stats, err := s.engine.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, api.FromStats(stats))
}

func (s *apiServer) handleHealth(c *gin.Context) {
	health, err := s.store.CheckHealth(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, api.FromDatabaseHealth(health))
}

func pathID(c *gin.Context) (int64, error) {
	raw := strings.TrimSpace(c.Param("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, store.Validationf("invalid id %q", raw)
	}
	return id, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, store.Validationf("invalid %s %q", key, raw)
	}
	return value, nil
}

func queryDate(c *gin.Context, key string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, nil
	}
	value, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, store.Validationf("invalid %s %q, want YYYY-MM-DD", key, raw)
	}
	return value, nil
}

func parseStatuses(values []string) ([]store.Status, error) {
	var statuses []store.Status
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, err := store.ParseStatus(part)
			if err != nil {
				return nil, err
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

// complaintFilter reads sku, status, date or from/to, page, and pageSize. A
// single date selects that calendar day; to is inclusive of its day.
func complaintFilter(c *gin.Context) (queue.Filter, error) {
	var (
		filter queue.Filter
		err    error
	)
	filter.SKU = c.Query("sku")
	if filter.Statuses, err = parseStatuses(c.QueryArray("status")); err != nil {
		return filter, err
	}
	if filter.Page, err = queryInt(c, "page"); err != nil {
		return filter, err
	}
	if filter.PageSize, err = queryInt(c, "pageSize"); err != nil {
		return filter, err
	}

	day, err := queryDate(c, "date")
	if err != nil {
		return filter, err
	}
	if !day.IsZero() {
		filter.From = day
		filter.To = day.AddDate(0, 0, 1)
		return filter, nil
	}
	if filter.From, err = queryDate(c, "from"); err != nil {
		return filter, err
	}
	to, err := queryDate(c, "to")
	if err != nil {
		return filter, err
	}
	if !to.IsZero() {
		filter.To = to.AddDate(0, 0, 1)
	}
	return filter, nil
}

func (s *apiServer) handleListComplaints(c *gin.Context) {
	filter, err := complaintFilter(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	page, err := s.engine.List(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, api.FromComplaintPage(page, s.baseURL()))
}

func (s *apiServer) handleEnqueue(c *gin.Context) {
	var req api.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, store.Validationf("invalid request body: %v", err))
		return
	}
	entries := textutil.ParseEntries(req.Text)
	for _, sku := range req.SKUs {
		entries = append(entries, textutil.Entry{SKU: sku})
	}
	if len(entries) == 0 {
		s.reject(c, "no skus provided")
		return
	}
	result, err := s.engine.BulkEnqueue(c.Request.Context(), entries)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, api.EnqueueResult{Inserted: result.Inserted, Skipped: result.Skipped})
}

func (s *apiServer) handleSetStatus(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var req api.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, store.Validationf("invalid request body: %v", err))
		return
	}
	status, err := store.ParseStatus(req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.engine.UpdateStatus(c.Request.Context(), id, status, req.Remark); err != nil {
		s.fail(c, err)
		return
	}
	item, err := s.engine.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, api.FromWorkItem(item, s.baseURL()))
}

func (s *apiServer) handleRemoveComplaint(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.engine.Remove(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, nil)
}

func (s *apiServer) handleReset(c *gin.Context) {
	var req api.ResetRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, store.Validationf("invalid request body: %v", err))
			return
		}
	}
	statuses, err := parseStatuses(req.Statuses)
	if err != nil {
		s.fail(c, err)
		return
	}
	reset, err := s.engine.ResetToPending(c.Request.Context(), statuses...)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, api.ResetResult{Reset: reset})
}

func (s *apiServer) handleListImages(c *gin.Context) {
	var (
		filter attachments.ListFilter
		err    error
	)
	filter.Search = c.Query("search")
	if filter.Page, err = queryInt(c, "page"); err != nil {
		s.fail(c, err)
		return
	}
	if filter.PageSize, err = queryInt(c, "pageSize"); err != nil {
		s.fail(c, err)
		return
	}
	page, err := s.registry.List(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, api.FromImagePage(page, s.baseURL()))
}

// handleUploadImages imports multipart files sent as "files" or "file".
// Each file succeeds or fails on its own.
func (s *apiServer) handleUploadImages(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		s.fail(c, store.Validationf("invalid multipart form: %v", err))
		return
	}
	files := append(form.File["files"], form.File["file"]...)
	if len(files) == 0 {
		s.reject(c, "no files uploaded")
		return
	}

	var result api.ImportResult
	limit := s.registry.MaxBytes()
	for _, header := range files {
		data, err := func() ([]byte, error) {
			f, err := header.Open()
			if err != nil {
				return nil, err
			}
			defer f.Close()
			data, err := io.ReadAll(io.LimitReader(f, limit+1))
			if err != nil {
				return nil, err
			}
			if int64(len(data)) > limit {
				return nil, store.Validationf("file exceeds %d bytes", limit)
			}
			return data, nil
		}()
		if err == nil {
			var res attachments.Result
			res, err = s.registry.Import(c.Request.Context(), data, header.Filename)
			if err == nil {
				if res.Skipped {
					result.Skipped++
				} else {
					result.Imported++
				}
				continue
			}
		}
		if !store.IsExpected(err) {
			s.fail(c, err)
			return
		}
		result.Failed++
		result.Errors = append(result.Errors, api.ImportError{Path: header.Filename, Message: err.Error()})
	}
	s.ok(c, result)
}

func (s *apiServer) handleImportImages(c *gin.Context) {
	var req api.ImportPathsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, store.Validationf("invalid request body: %v", err))
		return
	}
	if len(req.Paths) == 0 {
		s.reject(c, "no paths provided")
		return
	}
	result, err := s.registry.ImportBatch(c.Request.Context(), req.Paths)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, api.FromBatchResult(result))
}

func (s *apiServer) handleDeleteImage(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.registry.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, nil)
}
