// Package apiserver sets up the HTTP router, middleware pipeline, and
// request handlers that expose the gateway's OpenAI-compatible API.
package apiserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/llmgateway/llmgateway/internal/breaker"
	"github.com/llmgateway/llmgateway/internal/config"
	"github.com/llmgateway/llmgateway/internal/harvester"
	"github.com/llmgateway/llmgateway/internal/metrics"
	"github.com/llmgateway/llmgateway/internal/provider"
	"github.com/llmgateway/llmgateway/internal/ratelimit"
)

// Server holds the HTTP router and every dependency its handlers need —
// the provider registry, the shared rate limiter and breaker registry, the
// metrics registry, and (optionally) the harvester client for health
// reporting.
type Server struct {
	router chi.Router
	cfg    *config.Config
	log    *logrus.Logger

	// providers maps a routing Kind to the adapter that implements it.
	// Only kinds with a configured adapter appear here; ResolveKind can
	// still report an unconfigured Kind, which the handler turns into a
	// 503 (Unavailable).
	providers map[provider.Kind]provider.Provider

	limiter   *ratelimit.Limiter
	breakers  *breaker.Registry
	metrics   *metrics.Registry
	promReg   *prometheus.Registry
	harvester *harvester.Client // nil if the openai_web adapter isn't configured
}

// Dependencies bundles everything New needs, so the constructor signature
// doesn't grow every time a new side-car or shared service is wired in.
type Dependencies struct {
	Config    *config.Config
	Log       *logrus.Logger
	Providers map[provider.Kind]provider.Provider
	Limiter   *ratelimit.Limiter
	Breakers  *breaker.Registry
	Metrics   *metrics.Registry
	PromReg   *prometheus.Registry
	Harvester *harvester.Client
}

// New builds a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(deps Dependencies) *Server {
	s := &Server{
		cfg:       deps.Config,
		log:       deps.Log,
		providers: deps.Providers,
		limiter:   deps.Limiter,
		breakers:  deps.Breakers,
		metrics:   deps.Metrics,
		promReg:   deps.PromReg,
		harvester: deps.Harvester,
	}
	s.routes()
	return s
}

// routes builds the chi router with the full middleware pipeline and
// route table.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(withAPIVersion)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestSize(s.cfg.Server.MaxRequestSize))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetricsJSON)
	r.Get("/metrics/prometheus", s.handleMetricsPrometheus)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/v1/models", s.handleModels)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/v1/chat/completions", s.handleChatCompletions)
		})
	})

	s.router = r
}

// ServeHTTP makes Server satisfy http.Handler so it can be passed directly
// as an http.Server's Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
