// Package metrics collects per-provider request counters and latency
// histograms, exposed both as Prometheus text (promhttp.Handler, grounded
// on the registerMetrics pattern other gateways in this space use) and as
// a plain JSON snapshot for operators without a Prometheus scraper.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every collector this gateway exports plus the in-memory
// counters backing the JSON snapshot. A single Registry is built once in
// main and threaded through the router.
type Registry struct {
	requestsStarted  *prometheus.CounterVec
	requestsSucceeded *prometheus.CounterVec
	requestsFailed   *prometheus.CounterVec
	wafBlocks        *prometheus.CounterVec
	latency          *prometheus.HistogramVec

	mu       sync.Mutex
	snapshot map[string]*providerCounts
}

type providerCounts struct {
	Started   int64 `json:"started"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	WafBlocks int64 `json:"waf_blocks"`
}

// New builds a Registry and registers its collectors with reg. Pass
// prometheus.NewRegistry() in production so tests can build independent
// registries without colliding on the global default one.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		requestsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmgateway_requests_started_total",
			Help: "Total chat completion requests started, by provider and model.",
		}, []string{"provider", "model"}),
		requestsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmgateway_requests_succeeded_total",
			Help: "Total chat completion requests that completed successfully, by provider and model.",
		}, []string{"provider", "model"}),
		requestsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmgateway_requests_failed_total",
			Help: "Total chat completion requests that failed, by provider, model, and error kind.",
		}, []string{"provider", "model", "kind"}),
		wafBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmgateway_waf_blocks_total",
			Help: "Total requests rejected by an upstream WAF, by provider.",
		}, []string{"provider"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmgateway_request_duration_seconds",
			Help:    "End-to-end request latency in seconds, by provider and model.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "model"}),
		snapshot: make(map[string]*providerCounts),
	}
	reg.MustRegister(r.requestsStarted, r.requestsSucceeded, r.requestsFailed, r.wafBlocks, r.latency)
	return r
}

// StartRequest records that a request began, returning a Finish func the
// caller invokes exactly once with the outcome.
func (r *Registry) StartRequest(providerName, model string) (finish func(succeeded bool, kind string)) {
	r.requestsStarted.WithLabelValues(providerName, model).Inc()
	r.bump(providerName, func(c *providerCounts) { c.Started++ })

	start := time.Now()
	return func(succeeded bool, kind string) {
		r.latency.WithLabelValues(providerName, model).Observe(time.Since(start).Seconds())
		if succeeded {
			r.requestsSucceeded.WithLabelValues(providerName, model).Inc()
			r.bump(providerName, func(c *providerCounts) { c.Succeeded++ })
			return
		}
		r.requestsFailed.WithLabelValues(providerName, model, kind).Inc()
		r.bump(providerName, func(c *providerCounts) { c.Failed++ })
	}
}

// RecordWafBlock increments the WAF-block counter for providerName.
func (r *Registry) RecordWafBlock(providerName string) {
	r.wafBlocks.WithLabelValues(providerName).Inc()
	r.bump(providerName, func(c *providerCounts) { c.WafBlocks++ })
}

func (r *Registry) bump(providerName string, f func(*providerCounts)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.snapshot[providerName]
	if !ok {
		c = &providerCounts{}
		r.snapshot[providerName] = c
	}
	f(c)
}

// Snapshot returns a JSON-serializable copy of the per-provider counters,
// for the gateway's own /metrics endpoint (distinct from
// /metrics/prometheus, which serves the text-exposition format via
// promhttp.Handler).
func (r *Registry) Snapshot() map[string]providerCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]providerCounts, len(r.snapshot))
	for k, v := range r.snapshot {
		out[k] = *v
	}
	return out
}

// PrometheusHandler returns promhttp's text-exposition handler bound to reg.
func PrometheusHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
