package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)
	// RateLimited counts requests rejected by the per-tenant limiter
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_rate_limited_total", Help: "Requests rejected by the rate limiter."},
		[]string{"path"},
	)

	// PlansGenerated counts generation runs by outcome: persisted, dry_run, invalid, error
	PlansGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "plans_generated_total", Help: "Plan generation runs by outcome."},
		[]string{"outcome"},
	)
	// PlanGenerationDuration records engine plus persistence time in seconds
	PlanGenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "plan_generation_duration_seconds", Help: "Plan generation duration in seconds.", Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}},
	)
	// PlanEntries tracks the number of entries per generated plan
	PlanEntries = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "plan_entries", Help: "Entries per generated plan.", Buckets: prometheus.ExponentialBuckets(10, 4, 8)},
	)
	// PlanDiagnostics counts skipped allocations by reason
	PlanDiagnostics = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "plan_diagnostics_total", Help: "Plan diagnostics by reason."},
		[]string{"reason"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration, RateLimited)
		Registry.MustRegister(PlansGenerated, PlanGenerationDuration, PlanEntries, PlanDiagnostics)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
