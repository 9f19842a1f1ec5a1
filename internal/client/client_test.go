package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ozonassist/internal/api"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "", 5*time.Second)
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, code int, env api.Envelope) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestStatsDecodesData(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/admin/stats" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeEnvelope(t, w, http.StatusOK, api.OK(api.Stats{Total: 3, Pending: 2, Images: 1}))
	})

	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 2 || stats.Images != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRejectedEnvelopeIsErrRejected(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(t, w, http.StatusOK, api.Fail("complaint 9 not found"))
	})

	err := c.RemoveComplaint(context.Background(), 9)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestServerErrorIsNotRejected(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(t, w, http.StatusInternalServerError, api.Fail("disk full"))
	})

	_, err := c.Stats(context.Background())
	if err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("expected a non-rejection error, got %v", err)
	}
}

func TestListComplaintsSendsFilters(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("sku") != "ABC" || q.Get("date") != "2026-01-02" || q.Get("pageSize") != "5" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if got := q["status"]; len(got) != 2 {
			t.Errorf("expected two statuses, got %v", got)
		}
		writeEnvelope(t, w, http.StatusOK, api.OK(api.ComplaintPage{Total: 1, Items: []api.Complaint{{ID: 1, SKU: "ABC"}}}))
	})

	page, err := c.ListComplaints(context.Background(), ComplaintQuery{
		SKU:      "ABC",
		Statuses: []string{"failed", "timeout"},
		Date:     "2026-01-02",
		PageSize: 5,
	})
	if err != nil {
		t.Fatalf("ListComplaints failed: %v", err)
	}
	if page.Total != 1 || page.Items[0].SKU != "ABC" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestEnqueuePostsBody(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var req api.EnqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeEnvelope(t, w, http.StatusOK, api.OK(api.EnqueueResult{Inserted: len(req.SKUs)}))
	})

	res, err := c.Enqueue(context.Background(), []string{"A", "B"}, "")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if res.Inserted != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTokenSentAsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected Authorization %q", got)
		}
		writeEnvelope(t, w, http.StatusOK, api.OK(api.Stats{Total: 1}))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, " secret ", 5*time.Second)
	if _, err := c.Stats(context.Background()); err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
}

func TestNoTokenSendsNoAuthorization(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("expected no Authorization header, got %q", got)
		}
		writeEnvelope(t, w, http.StatusOK, api.OK(api.Stats{}))
	})
	if _, err := c.Stats(context.Background()); err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
}
