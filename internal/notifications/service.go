package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"ozonassist/internal/config"
)

const userAgent = "ozonassist/0.1"

// Event identifies an alert type.
type Event string

const (
	EventTaskFailed    Event = "task_failed"
	EventClaimsTimeout Event = "claims_timeout"
	EventBatchComplete Event = "batch_complete"
	EventTest          Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Service defines the alert surface used by the queue and ingress.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	svc := &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventTaskFailed:    cfg.Notifications.TaskFailures,
			EventClaimsTimeout: cfg.Notifications.Timeouts,
			EventBatchComplete: cfg.Notifications.BatchComplete,
			EventTest:          true,
		},
	}
	if window := time.Duration(cfg.Notifications.DedupWindowSeconds) * time.Second; window > 0 {
		svc.recent = cache.New(window, 2*window)
	}
	return svc
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
	recent   *cache.Cache
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := n.format(event, data)
	if !ok {
		return nil
	}
	if n.recent != nil {
		key := string(event) + "|" + msg.message
		if err := n.recent.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
			return nil
		}
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, data Payload) (payload, bool) {
	switch event {
	case EventTaskFailed:
		message := "❌ 浏览器插件报告任务失败"
		if detail := strings.TrimSpace(data.String("message")); detail != "" {
			message += ": " + detail
		}
		return payload{
			title:    "ozonassist - Task Failed",
			message:  message,
			tags:     []string{"ozonassist", "task", "failed"},
			priority: "high",
		}, true
	case EventClaimsTimeout:
		count := data.Int("count")
		if count <= 0 {
			return payload{}, false
		}
		return payload{
			title:   "ozonassist - Claims Timed Out",
			message: fmt.Sprintf("⏱️ %d complaint(s) timed out and need attention", count),
			tags:    []string{"ozonassist", "queue", "timeout"},
		}, true
	case EventBatchComplete:
		message := "✅ All complaints processed"
		if total := data.Int("total"); total > 0 {
			message = fmt.Sprintf("✅ All complaints processed: %d succeeded, %d failed, %d timed out",
				data.Int("success"), data.Int("failed"), data.Int("timeout"))
		}
		return payload{
			title:   "ozonassist - Batch Complete",
			message: message,
			tags:    []string{"ozonassist", "queue", "completed"},
		}, true
	case EventTest:
		return payload{
			title:    "ozonassist - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"ozonassist", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// String returns the value at key rendered as a string.
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the value at key as an int, or 0.
func (p Payload) Int(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// NewNoop returns a Service that discards every alert.
func NewNoop() Service {
	return noopService{}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
