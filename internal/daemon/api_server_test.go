package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"ozonassist/internal/api"
	"ozonassist/internal/attachments"
	"ozonassist/internal/config"
	"ozonassist/internal/events"
	"ozonassist/internal/logging"
	"ozonassist/internal/notifications"
	"ozonassist/internal/queue"
	"ozonassist/internal/store"
	"ozonassist/internal/testsupport"
)

type capturingNotifier struct {
	events   []notifications.Event
	payloads []notifications.Payload
}

func (n *capturingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.events = append(n.events, event)
	n.payloads = append(n.payloads, payload)
	return nil
}

type harness struct {
	cfg      *config.Config
	daemon   *Daemon
	engine   *queue.Engine
	registry *attachments.Registry
	bus      *events.Bus
	notifier *capturingNotifier
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	bus := events.NewBus(64)
	notifier := &capturingNotifier{}
	engine := queue.New(st,
		queue.WithPublisher(bus),
		queue.WithNotifier(notifier),
		queue.WithLogger(logger),
	)
	registry := attachments.New(st, cfg, attachments.WithPublisher(bus), attachments.WithLogger(logger))
	d, err := New(cfg, Deps{
		Store:    st,
		Engine:   engine,
		Registry: registry,
		Bus:      bus,
		Notifier: notifier,
	}, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &harness{cfg: cfg, daemon: d, engine: engine, registry: registry, bus: bus, notifier: notifier}
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, api.Envelope, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return h.serve(t, req)
}

func (h *harness) serve(t *testing.T, req *http.Request) (int, api.Envelope, []byte) {
	t.Helper()
	w := httptest.NewRecorder()
	h.daemon.server.router.ServeHTTP(w, req)
	var env api.Envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope %q: %v", w.Body.String(), err)
		}
	}
	return w.Code, env, w.Body.Bytes()
}

func decodeData(t *testing.T, raw []byte, out any) {
	t.Helper()
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		t.Fatalf("decode wrapper: %v", err)
	}
	if err := json.Unmarshal(wrapper.Data, out); err != nil {
		t.Fatalf("decode data %s: %v", wrapper.Data, err)
	}
}

func TestStatusEnvelope(t *testing.T) {
	h := newHarness(t)
	code, env, raw := h.do(t, http.MethodGet, "/api/status", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("expected successful status, got %d %+v", code, env)
	}
	var status api.ServerStatus
	decodeData(t, raw, &status)
	if status.Status != "running" {
		t.Fatalf("unexpected status payload: %+v", status)
	}
	if _, err := time.Parse(time.RFC3339, status.Timestamp); err != nil {
		t.Fatalf("timestamp not RFC3339: %v", err)
	}
}

func TestUnprocessedWithEmptyQueue(t *testing.T) {
	h := newHarness(t)
	code, env, _ := h.do(t, http.MethodGet, "/api/complaint/unprocessed", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if env.Success || env.Message != "No pending complaints" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestAgentFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.engine.EnqueueSKUs(ctx, "SKU-A", "SKU-B"); err != nil {
		t.Fatalf("EnqueueSKUs failed: %v", err)
	}
	img, err := h.registry.Import(ctx, testsupport.ImageBytes("proof"), "proof.png")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	_, env, raw := h.do(t, http.MethodGet, "/api/complaint/unprocessed", nil)
	if !env.Success {
		t.Fatalf("expected a claim, got %+v", env)
	}
	var claimed api.Complaint
	decodeData(t, raw, &claimed)
	if claimed.SKU != "SKU-A" || claimed.Status != string(store.StatusProcessing) {
		t.Fatalf("unexpected claim: %+v", claimed)
	}

	_, env, _ = h.do(t, http.MethodPost, "/api/complaint/SKU-A/image", map[string]any{"imageId": img.Attachment.ID})
	if !env.Success {
		t.Fatalf("link failed: %+v", env)
	}
	_, env, _ = h.do(t, http.MethodPost, "/api/complaint/SKU-A/status", api.OutcomeRequest{Status: "success", Remark: "filed"})
	if !env.Success {
		t.Fatalf("outcome failed: %+v", env)
	}

	item, err := h.engine.GetBySKU(ctx, "SKU-A")
	if err != nil {
		t.Fatalf("GetBySKU failed: %v", err)
	}
	if item.Status != store.StatusSuccess || item.AttachmentID == nil || *item.AttachmentID != img.Attachment.ID {
		t.Fatalf("unexpected stored item: %+v", item)
	}

	_, env, raw = h.do(t, http.MethodGet, "/api/complaint/unprocessed", nil)
	decodeData(t, raw, &claimed)
	if !env.Success || claimed.SKU != "SKU-B" {
		t.Fatalf("expected SKU-B next, got %+v", claimed)
	}
	_, env, _ = h.do(t, http.MethodPost, "/api/complaint/SKU-B/status", api.OutcomeRequest{Status: "failed"})
	if !env.Success {
		t.Fatalf("outcome failed: %+v", env)
	}

	_, env, _ = h.do(t, http.MethodGet, "/api/complaint/unprocessed", nil)
	if env.Success {
		t.Fatalf("expected empty queue, got %+v", env)
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0] != notifications.EventBatchComplete {
		t.Fatalf("expected one batch completion alert, got %v", h.notifier.events)
	}
}

func TestOutcomeErrorsStayInEnvelope(t *testing.T) {
	h := newHarness(t)

	code, env, _ := h.do(t, http.MethodPost, "/api/complaint/NOPE/status", api.OutcomeRequest{Status: "success"})
	if code != http.StatusOK || env.Success {
		t.Fatalf("expected 200 with success=false for unknown sku, got %d %+v", code, env)
	}

	if _, err := h.engine.EnqueueSKUs(context.Background(), "SKU-A"); err != nil {
		t.Fatalf("EnqueueSKUs failed: %v", err)
	}
	_, env, _ = h.do(t, http.MethodPost, "/api/complaint/SKU-A/status", api.OutcomeRequest{Status: "exploded"})
	if env.Success {
		t.Fatalf("expected invalid status to be rejected, got %+v", env)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/complaint/SKU-A/status", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	code, env, _ = h.serve(t, req)
	if code != http.StatusOK || env.Success {
		t.Fatalf("expected malformed body rejected in envelope, got %d %+v", code, env)
	}
}

func TestLinkImageRequiresBothSides(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.EnqueueSKUs(context.Background(), "SKU-A"); err != nil {
		t.Fatalf("EnqueueSKUs failed: %v", err)
	}
	_, env, _ := h.do(t, http.MethodPost, "/api/complaint/SKU-A/image", map[string]any{"imageId": "42"})
	if env.Success {
		t.Fatalf("expected missing image rejected, got %+v", env)
	}
}

func TestRandomImage(t *testing.T) {
	h := newHarness(t)
	_, env, _ := h.do(t, http.MethodGet, "/api/image/random", nil)
	if env.Success || env.Message != "No images available" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	if _, err := h.registry.Import(context.Background(), testsupport.ImageBytes("one"), "one.png"); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	_, env, raw := h.do(t, http.MethodGet, "/api/image/random", nil)
	if !env.Success {
		t.Fatalf("expected an image, got %+v", env)
	}
	var pick api.RandomImage
	decodeData(t, raw, &pick)
	if pick.FileName != "one.png" || !strings.Contains(pick.URL, "/images/") {
		t.Fatalf("unexpected pick: %+v", pick)
	}
}

func TestTaskFailedBeaconAlerts(t *testing.T) {
	h := newHarness(t)
	code, env, _ := h.do(t, http.MethodGet, "/api/task/failed?msg=layout+changed", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("expected beacon accepted, got %d %+v", code, env)
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0] != notifications.EventTaskFailed {
		t.Fatalf("expected a failure alert, got %v", h.notifier.events)
	}
	if got := h.notifier.payloads[0]["message"]; got != "layout changed" {
		t.Fatalf("unexpected alert message %v", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/complaint/SKU-A/status", nil)
	req.Header.Set("Origin", "chrome-extension://abc")
	w := httptest.NewRecorder()
	h.daemon.server.router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatal("expected allow-origin header")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	h.daemon.server.router.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
}

func TestAdminComplaintLifecycle(t *testing.T) {
	h := newHarness(t)

	_, env, raw := h.do(t, http.MethodPost, "/api/admin/complaints", api.EnqueueRequest{
		SKUs: []string{"SKU-C", "SKU-A"},
		Text: "SKU-A,counterfeit\nSKU-B\n",
	})
	if !env.Success {
		t.Fatalf("enqueue failed: %+v", env)
	}
	var enq api.EnqueueResult
	decodeData(t, raw, &enq)
	if enq.Inserted != 3 || enq.Skipped != 1 {
		t.Fatalf("unexpected enqueue result: %+v", enq)
	}

	_, env, raw = h.do(t, http.MethodGet, "/api/admin/complaints?status=pending&pageSize=2", nil)
	if !env.Success {
		t.Fatalf("list failed: %+v", env)
	}
	var page api.ComplaintPage
	decodeData(t, raw, &page)
	if page.Total != 3 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: total=%d items=%d", page.Total, len(page.Items))
	}

	_, env, _ = h.do(t, http.MethodGet, "/api/admin/complaints?status=bogus", nil)
	if env.Success {
		t.Fatal("expected bogus status filter rejected")
	}
	_, env, _ = h.do(t, http.MethodGet, "/api/admin/complaints?date=yesterday", nil)
	if env.Success {
		t.Fatal("expected malformed date rejected")
	}

	item, err := h.engine.GetBySKU(context.Background(), "SKU-A")
	if err != nil {
		t.Fatalf("GetBySKU failed: %v", err)
	}
	remark := "manual"
	_, env, raw = h.do(t, http.MethodPatch, "/api/admin/complaints/"+itoa(item.ID), api.StatusRequest{Status: "failed", Remark: &remark})
	if !env.Success {
		t.Fatalf("set status failed: %+v", env)
	}
	var updated api.Complaint
	decodeData(t, raw, &updated)
	if updated.Status != "failed" || updated.Remark != "manual" {
		t.Fatalf("unexpected updated complaint: %+v", updated)
	}

	_, env, raw = h.do(t, http.MethodPost, "/api/admin/complaints/reset", nil)
	if !env.Success {
		t.Fatalf("reset failed: %+v", env)
	}
	var reset api.ResetResult
	decodeData(t, raw, &reset)
	if reset.Reset != 1 {
		t.Fatalf("expected one reset, got %d", reset.Reset)
	}

	_, env, _ = h.do(t, http.MethodDelete, "/api/admin/complaints/"+itoa(item.ID), nil)
	if !env.Success {
		t.Fatalf("remove failed: %+v", env)
	}
	_, env, _ = h.do(t, http.MethodDelete, "/api/admin/complaints/"+itoa(item.ID), nil)
	if env.Success {
		t.Fatal("expected second remove to report not found")
	}

	_, env, raw = h.do(t, http.MethodGet, "/api/admin/stats", nil)
	if !env.Success {
		t.Fatalf("stats failed: %+v", env)
	}
	var stats api.Stats
	decodeData(t, raw, &stats)
	if stats.Total != 2 || stats.Pending != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAdminImageUploadAndDelete(t *testing.T) {
	h := newHarness(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range map[string][]byte{
		"a.png":   testsupport.ImageBytes("a"),
		"b.png":   testsupport.ImageBytes("b"),
		"bad.txt": []byte("plain text"),
	} {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/admin/images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	_, env, raw := h.serve(t, req)
	if !env.Success {
		t.Fatalf("upload failed: %+v", env)
	}
	var result api.ImportResult
	decodeData(t, raw, &result)
	if result.Imported != 2 || result.Failed != 1 || len(result.Errors) != 1 {
		t.Fatalf("unexpected upload result: %+v", result)
	}

	_, env, raw = h.do(t, http.MethodGet, "/api/admin/images", nil)
	if !env.Success {
		t.Fatalf("list images failed: %+v", env)
	}
	var page api.ImagePage
	decodeData(t, raw, &page)
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("unexpected image page: %+v", page)
	}

	_, env, _ = h.do(t, http.MethodDelete, "/api/admin/images/"+itoa(page.Items[0].ID), nil)
	if !env.Success {
		t.Fatalf("delete image failed: %+v", env)
	}
	if got := testsupport.CountFiles(t, h.registry.Dir()); got != 1 {
		t.Fatalf("expected 1 blob left, got %d", got)
	}
	_, env, _ = h.do(t, http.MethodDelete, "/api/admin/images/abc", nil)
	if env.Success {
		t.Fatal("expected invalid id rejected")
	}
}

func TestEventsLongPoll(t *testing.T) {
	h := newHarness(t)
	since := h.bus.Sequence()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = h.engine.EnqueueSKUs(context.Background(), "SKU-A")
	}()

	_, env, raw := h.do(t, http.MethodGet, "/api/events?wait=5&since="+utoa(since), nil)
	if !env.Success {
		t.Fatalf("events failed: %+v", env)
	}
	var resp api.EventsResponse
	decodeData(t, raw, &resp)
	if len(resp.Events) == 0 || resp.Events[0].Topic != events.TopicQueue {
		t.Fatalf("expected a queue event, got %+v", resp)
	}
	if resp.Next <= since {
		t.Fatalf("expected cursor to advance past %d, got %d", since, resp.Next)
	}

	_, env, raw = h.do(t, http.MethodGet, "/api/events?since="+utoa(resp.Next), nil)
	decodeData(t, raw, &resp)
	if !env.Success || len(resp.Events) != 0 {
		t.Fatalf("expected no further events, got %+v", resp)
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func utoa(v uint64) string { return strconv.FormatUint(v, 10) }
