package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"ozonassist/internal/config"
	"ozonassist/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTaskFailed, notifications.Payload{"message": "x"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:           "task failed",
			event:          notifications.EventTaskFailed,
			payload:        notifications.Payload{"message": "captcha"},
			expectTitle:    "ozonassist - Task Failed",
			expectMessage:  "❌ 浏览器插件报告任务失败: captcha",
			expectTags:     "ozonassist,task,failed",
			expectPriority: "high",
		},
		{
			name:          "claims timeout",
			event:         notifications.EventClaimsTimeout,
			payload:       notifications.Payload{"count": int64(3)},
			expectTitle:   "ozonassist - Claims Timed Out",
			expectMessage: "⏱️ 3 complaint(s) timed out and need attention",
			expectTags:    "ozonassist,queue,timeout",
		},
		{
			name:  "batch complete",
			event: notifications.EventBatchComplete,
			payload: notifications.Payload{
				"total":   4,
				"success": 2,
				"failed":  1,
				"timeout": 1,
			},
			expectTitle:   "ozonassist - Batch Complete",
			expectMessage: "✅ All complaints processed: 2 succeeded, 1 failed, 1 timed out",
			expectTags:    "ozonassist,queue,completed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceDeduplicatesWithinWindow(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.DedupWindowSeconds = 60

	svc := notifications.NewService(&cfg)
	for i := 0; i < 3; i++ {
		if err := svc.Publish(context.Background(), notifications.EventTaskFailed, notifications.Payload{"message": "same"}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	if err := svc.Publish(context.Background(), notifications.EventTaskFailed, notifications.Payload{"message": "other"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
}

func TestNtfyServiceHonoursToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for disabled event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.BatchComplete = false
	cfg.Notifications.Timeouts = false

	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventBatchComplete, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := svc.Publish(context.Background(), notifications.EventClaimsTimeout, notifications.Payload{"count": 2}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestNtfyServiceReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
