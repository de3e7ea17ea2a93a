package apiserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/llmgateway/llmgateway/internal/apperrors"
)

// noAuthPaths lists routes reachable without a bearer token: liveness and
// metrics probes are typically scraped by infrastructure that doesn't carry
// the gateway's own master key.
var noAuthPaths = map[string]bool{
	"/health":            true,
	"/metrics":           true,
	"/metrics/prometheus": true,
}

// apiVersion is the literal value of the API-Version response header set on
// every response, streaming or not.
const apiVersion = "1.0.0"

// withAPIVersion sets the API-Version header before anything downstream
// writes a status line, so it's present on every response this gateway
// sends, including error responses and SSE streams.
func withAPIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("API-Version", apiVersion)
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request with the chi request id attached,
// mirroring chimiddleware.Logger's shape but through the configured logrus
// logger instead of the stdlib one, so every log line lands in the same
// format (json or pretty) as the rest of the process.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.WithFields(map[string]any{
			"request_id": chimiddleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request handled")
	})
}

// authenticate enforces the configured bearer-token requirement. It's
// skipped entirely when auth.require_auth is false, and for the probe
// routes in noAuthPaths regardless of that setting.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Auth.RequireAuth || noAuthPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token != s.cfg.Auth.MasterKey {
			writeError(w, apperrors.Auth("Unauthorized", false))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimit admits the request against the shared global token bucket,
// setting Retry-After on denial so well-behaved clients back off instead
// of hammering the gateway.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admitted, retryAfter := s.limiter.TryAdmit()
		if !admitted {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			writeError(w, apperrors.RateLimited("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeError encodes err as the OpenAI-compatible error envelope at the
// HTTP status apperrors.HTTPStatus maps it to.
func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.HTTPStatus(err))
	writeJSON(w, apperrors.ToEnvelope(err))
}
