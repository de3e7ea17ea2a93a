package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/llmgateway/llmgateway/internal/apperrors"
	"github.com/sirupsen/logrus"
)

// Per-request deadlines enforced locally by every adapter, independent of
// whatever timeout (if any) the inbound HTTP request carries: unary calls
// get 30s end-to-end, streaming calls get 60s end-to-end since a stream's
// useful lifetime is naturally longer than a single round trip.
const (
	UnaryTimeout  = 30 * time.Second
	StreamTimeout = 60 * time.Second
)

// classifyDoError maps a client.Do (or body-read) failure to the apperrors
// taxonomy: a locally enforced deadline expiring becomes GatewayTimeout
// rather than a generic Network error, so a hung upstream connection is
// reported distinctly from a connection reset or DNS failure.
func classifyDoError(model, url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.GatewayTimeout(fmt.Sprintf("request to %s for model %s exceeded its deadline", url, model))
	}
	return apperrors.Network(model, url, err)
}

// classifyUpstreamStatus maps an upstream HTTP response's status code onto
// the apperrors taxonomy. Shared by every adapter so "what counts as a
// breaker failure" and "what HTTP status the client sees" stay consistent
// across providers. The upstream's own response body is logged (it may
// carry account identifiers, prompts, or other payload fragments) but never
// becomes part of the client-facing message — the client only ever sees a
// generic, per-kind message.
func classifyUpstreamStatus(status int, body []byte) error {
	if status == http.StatusOK {
		return nil
	}

	logUpstreamBody(status, body)
	message := genericUpstreamMessage(status)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.Auth(message, true)
	case http.StatusTooManyRequests:
		return apperrors.RateLimited(message)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.InvalidRequest(message)
	case http.StatusGatewayTimeout:
		return apperrors.GatewayTimeout(message)
	default:
		if status >= 500 {
			return apperrors.Unavailable(message)
		}
		return apperrors.Wrap(apperrors.KindNetwork, message, nil)
	}
}

// genericUpstreamMessage is the client-facing text for an upstream error of
// the given status, never the upstream's own error body: the wire format
// differs per provider and can itself leak details that don't belong in a
// response sent back to an API client.
func genericUpstreamMessage(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "upstream rejected the request's credentials"
	case http.StatusTooManyRequests:
		return "upstream is rate limiting this request"
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "upstream rejected the request as malformed"
	case http.StatusGatewayTimeout:
		return "upstream timed out"
	default:
		if status >= 500 {
			return "upstream is unavailable"
		}
		return "upstream request failed"
	}
}

// logUpstreamBody records the raw upstream error body server-side at debug
// level, the one place that text is allowed to surface.
func logUpstreamBody(status int, body []byte) {
	logrus.StandardLogger().WithFields(logrus.Fields{
		"upstream_status": status,
		"upstream_body":   string(body),
	}).Debug("upstream error response")
}
