package apiserver

import (
	"encoding/json"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/llmgateway/llmgateway/internal/apperrors"
	"github.com/llmgateway/llmgateway/internal/breaker"
	"github.com/llmgateway/llmgateway/internal/chatmodel"
	"github.com/llmgateway/llmgateway/internal/logging"
	"github.com/llmgateway/llmgateway/internal/metrics"
	"github.com/llmgateway/llmgateway/internal/provider"
	"github.com/llmgateway/llmgateway/internal/stream"
)

// writeJSON encodes v as the response body. Errors from Encode are logged
// rather than returned: by the time they'd occur, headers are already
// written and there's nothing left for the caller to do about it.
func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

// healthResponse is the /health payload: process-wide liveness, plus a
// snapshot of every dependency with state worth reporting.
type healthResponse struct {
	Status    string                   `json:"status"`
	Breakers  map[string]string        `json:"breakers,omitempty"`
	RateLimit healthRateLimit          `json:"rate_limit"`
	Harvester *healthHarvesterSnapshot `json:"harvester,omitempty"`
}

type healthRateLimit struct {
	Capacity        float64 `json:"capacity"`
	RefillPerSecond float64 `json:"refill_per_second"`
}

type healthHarvesterSnapshot struct {
	BrowserAlive     bool      `json:"browser_alive"`
	SessionValid     bool      `json:"session_valid"`
	LastTokenRefresh time.Time `json:"last_token_refresh"`
	Error            string    `json:"error,omitempty"`
}

// handleHealth reports process liveness plus the current state of every
// breaker, the rate limiter's configured bucket, and (if configured) the
// harvester side-car's own health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	capacity, refill := s.limiter.Snapshot()

	resp := healthResponse{
		Status: "ok",
		RateLimit: healthRateLimit{
			Capacity:        capacity,
			RefillPerSecond: refill,
		},
	}

	snap := s.breakers.Snapshot()
	if len(snap) > 0 {
		resp.Breakers = make(map[string]string, len(snap))
		for name, state := range snap {
			resp.Breakers[name] = string(state)
		}
	}

	if s.harvester != nil {
		hs, err := s.harvester.Health(r.Context())
		h := &healthHarvesterSnapshot{
			BrowserAlive:     hs.BrowserAlive,
			SessionValid:     hs.SessionValid,
			LastTokenRefresh: hs.LastTokenRefresh,
		}
		if err != nil {
			h.Error = err.Error()
		}
		resp.Harvester = h
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp)
}

// handleMetricsJSON reports the per-provider counter snapshot as JSON, for
// consumers that don't scrape Prometheus exposition format.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.metrics.Snapshot())
}

// handleMetricsPrometheus exposes the same counters in Prometheus
// exposition format.
func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	metrics.PrometheusHandler(s.promReg).ServeHTTP(w, r)
}

// modelEntry is one element of the OpenAI-compatible /v1/models list.
type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// staticModels is the fixed catalogue of model ids each adapter claims by
// prefix — this gateway doesn't discover models dynamically from any
// upstream, so the list simply names a few representative ids per adapter.
var staticModels = []modelEntry{
	{ID: "gemini-2.5-flash", Object: "model", OwnedBy: "vertex"},
	{ID: "gemini-2.5-pro", Object: "model", OwnedBy: "vertex"},
	{ID: "claude-sonnet-4-5-20250929", Object: "model", OwnedBy: "anthropic_cli"},
	{ID: "gpt-4o", Object: "model", OwnedBy: "openai_web"},
	{ID: "gpt-3.5-turbo", Object: "model", OwnedBy: "openai_web"},
}

// handleModels serves the static OpenAI-compatible model catalogue. Many
// OpenAI-compatible clients (LangChain, the official SDKs) probe this
// endpoint on startup even when the caller never lists models themselves.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"object": "list",
		"data":   staticModels,
	})
}

// handleChatCompletions handles POST /v1/chat/completions: it decodes the
// request, resolves the provider from the model name, runs the call
// through the breaker and metrics instrumentation shared by both the
// streaming and non-streaming paths, and writes the response in whichever
// shape the caller asked for.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	log := logging.ForRequest(s.log, chimiddleware.GetReqID(r.Context()))

	var req chatmodel.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidRequest("invalid request body: "+err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, apperrors.InvalidRequest(err.Error()))
		return
	}

	kind := provider.ResolveKind(req.Model)
	if !provider.Dispatchable(kind) {
		writeError(w, apperrors.InvalidRequest("model not implemented: "+req.Model))
		return
	}

	p, ok := s.providers[kind]
	if !ok {
		writeError(w, apperrors.Unavailable("provider not configured: "+string(kind)))
		return
	}

	log = log.WithFields(logrus.Fields{"provider": p.Name(), "model": req.Model})

	b := s.breakers.For(p.Name())
	allowed, release, err := b.Allow()
	if !allowed {
		writeError(w, err)
		return
	}

	finish := s.metrics.StartRequest(p.Name(), req.Model)

	w.Header().Set("X-LLMGateway-Provider", p.Name())
	w.Header().Set("X-LLMGateway-Model", req.Model)

	if req.Stream {
		s.handleStreamingCompletion(w, r, log, p, &req, b, release, finish)
		return
	}
	s.handleUnaryCompletion(w, r, log, p, &req, b, release, finish)
}

func (s *Server) handleUnaryCompletion(
	w http.ResponseWriter, r *http.Request, log *logrus.Entry,
	p provider.Provider, req *chatmodel.ChatCompletionRequest,
	b *breaker.Breaker, release func(), finish func(succeeded bool, kind string),
) {
	resp, err := p.ChatCompletion(r.Context(), req)
	release()
	if err != nil {
		recordOutcome(s.metrics, p.Name(), b, finish, err)
		log.WithError(err).Warn("provider call failed")
		writeError(w, err)
		return
	}
	recordOutcome(s.metrics, p.Name(), b, finish, nil)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp)
}

func (s *Server) handleStreamingCompletion(
	w http.ResponseWriter, r *http.Request, log *logrus.Entry,
	p provider.Provider, req *chatmodel.ChatCompletionRequest,
	b *breaker.Breaker, release func(), finish func(succeeded bool, kind string),
) {
	events, err := p.ChatCompletionStream(r.Context(), req)
	if err != nil {
		release()
		recordOutcome(s.metrics, p.Name(), b, finish, err)
		log.WithError(err).Warn("provider stream start failed")
		writeError(w, err)
		return
	}

	streamErr := stream.Write(w, log, events)
	release()
	recordOutcome(s.metrics, p.Name(), b, finish, streamErr)
	if streamErr != nil {
		log.WithError(streamErr).Warn("stream write failed")
	}
}

// recordOutcome reports the call's result to the breaker, the generic
// metrics registry, and — specifically for a WAF block — the distinct
// waf_blocked counter a plain error-kind breakdown would otherwise lump in
// with every other failure. apperrors.IsBreakerFailure keeps client-caused
// errors (invalid request, rate limited) from tripping the breaker.
func recordOutcome(m *metrics.Registry, providerName string, b *breaker.Breaker, finish func(succeeded bool, kind string), err error) {
	if err == nil {
		b.RecordSuccess()
		finish(true, "")
		return
	}
	if apperrors.IsBreakerFailure(err) {
		b.RecordFailure()
	}
	kind := "internal"
	if appErr, ok := apperrors.As(err); ok {
		kind = string(appErr.Kind)
		if appErr.Kind == apperrors.KindWafBlocked {
			m.RecordWafBlock(providerName)
		}
	}
	finish(false, kind)
}
