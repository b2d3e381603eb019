// Package metrics exposes orchestrator counters on a dedicated Prometheus registry.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JaimeStill/ktru/pkg/middleware"
)

const namespace = "ktru"

// Collector holds every orchestrator metric.
type Collector struct {
	registry *prometheus.Registry

	batchesSubmitted *prometheus.CounterVec
	subBatches       *prometheus.CounterVec
	reconciliations  *prometheus.CounterVec
	classifications  *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	dueBatches       prometheus.Gauge
	providerDuration *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates a Collector registered on a fresh registry together with
// the Go runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		batchesSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_submitted_total",
			Help:      "Batches accepted by the submitter, by initial status.",
		}, []string{"status"}),
		subBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sub_batches_total",
			Help:      "Provider jobs by submission outcome.",
		}, []string{"outcome"}),
		reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Reconcile attempts by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Parsed product classifications by outcome.",
		}, []string{"outcome"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Callback delivery attempts by outcome.",
		}, []string{"outcome"}),
		dueBatches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_batches",
			Help:      "Batches due for polling at the last scheduler tick.",
		}),
		providerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider API call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the API module.",
		}, []string{"method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency for the API module.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) BatchSubmitted(status string) {
	if c == nil {
		return
	}
	c.batchesSubmitted.WithLabelValues(status).Inc()
}

func (c *Collector) SubBatch(outcome string) {
	if c == nil {
		return
	}
	c.subBatches.WithLabelValues(outcome).Inc()
}

func (c *Collector) Reconciliation(trigger, outcome string) {
	if c == nil {
		return
	}
	c.reconciliations.WithLabelValues(trigger, outcome).Inc()
}

func (c *Collector) Classification(outcome string) {
	if c == nil {
		return
	}
	c.classifications.WithLabelValues(outcome).Inc()
}

func (c *Collector) Notification(outcome string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(outcome).Inc()
}

func (c *Collector) DueBatches(n int) {
	if c == nil {
		return
	}
	c.dueBatches.Set(float64(n))
}

// ObserveProviderRequest satisfies provider.Observer.
func (c *Collector) ObserveProviderRequest(op, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.providerDuration.WithLabelValues(op, outcome).Observe(d.Seconds())
}

// Middleware records request counts and latency.
func (c *Collector) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if c == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := middleware.NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			c.httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.Status)).Inc()
			c.httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
