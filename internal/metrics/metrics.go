// Package metrics exposes Prometheus instrumentation for the queue, the
// attachment registry, and the ingress.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "ozonassist"

// Recorder holds the counters mutating components increment. A nil *Recorder
// is valid and records nothing.
type Recorder struct {
	claims   *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	reaped   prometheus.Counter
	enqueued prometheus.Counter
	imports  *prometheus.CounterVec
	requests *prometheus.HistogramVec
}

// NewRecorder registers the counters on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim polls by result (claimed or empty).",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Outcomes reported by the agent.",
		}, []string{"status"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_total",
			Help:      "Stale claims converted to timeout.",
		}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Complaints inserted by imports.",
		}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachment_imports_total",
			Help:      "Attachment imports by result (imported, skipped, failed).",
		}, []string{"result"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Ingress request latency.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"route", "method", "code"}),
	}
	reg.MustRegister(r.claims, r.outcomes, r.reaped, r.enqueued, r.imports, r.requests)
	return r
}

func (r *Recorder) Claim(claimed bool) {
	if r == nil {
		return
	}
	if claimed {
		r.claims.WithLabelValues("claimed").Inc()
		return
	}
	r.claims.WithLabelValues("empty").Inc()
}

func (r *Recorder) Outcome(status string) {
	if r == nil {
		return
	}
	r.outcomes.WithLabelValues(status).Inc()
}

func (r *Recorder) Reaped(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.reaped.Add(float64(n))
}

func (r *Recorder) Enqueued(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.enqueued.Add(float64(n))
}

func (r *Recorder) Import(result string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.imports.WithLabelValues(result).Add(float64(n))
}

func (r *Recorder) Request(route, method, code string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(route, method, code).Observe(elapsed.Seconds())
}

// CountsFunc returns complaint counts keyed by status plus the image count.
type CountsFunc func(ctx context.Context) (map[string]int, int, error)

// QueueCollector reads live counts from the database at scrape time so the
// gauges never disagree with the store.
type QueueCollector struct {
	counts      CountsFunc
	complaints  *prometheus.Desc
	attachments *prometheus.Desc
	scrapeError *prometheus.Desc
}

// NewQueueCollector builds a collector backed by counts.
func NewQueueCollector(counts CountsFunc) *QueueCollector {
	return &QueueCollector{
		counts:      counts,
		complaints:  prometheus.NewDesc(namespace+"_complaints", "Complaints by status.", []string{"status"}, nil),
		attachments: prometheus.NewDesc(namespace+"_attachments", "Stored attachments.", nil, nil),
		scrapeError: prometheus.NewDesc(namespace+"_scrape_error", "1 when the last scrape failed to read the store.", nil, nil),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.complaints
	ch <- c.attachments
	ch <- c.scrapeError
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	byStatus, images, err := c.counts(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.scrapeError, prometheus.GaugeValue, 1)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.scrapeError, prometheus.GaugeValue, 0)
	for status, count := range byStatus {
		ch <- prometheus.MustNewConstMetric(c.complaints, prometheus.GaugeValue, float64(count), status)
	}
	ch <- prometheus.MustNewConstMetric(c.attachments, prometheus.GaugeValue, float64(images))
}

// NewRegistry returns a registry preloaded with process and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return reg
}
