// Package provider defines the Provider interface and the adapters that
// speak to each upstream LLM backend. Every
// adapter works entirely in chatmodel's OpenAI-shaped types — the
// provider-native wire format never escapes this package.
package provider

import (
	"context"
	"strings"

	"github.com/llmgateway/llmgateway/internal/chatmodel"
)

// Kind is the tagged variant identifying which upstream backend a model
// routes to. DeepSeek and Ollama are
// recognized by the router so a request to one of their model prefixes
// fails with a clear "not implemented" instead of silently falling
// through to Vertex.
type Kind string

const (
	KindVertex       Kind = "vertex"
	KindAnthropicCli Kind = "anthropic_cli"
	KindOpenAIWeb    Kind = "openai_web"
	KindDeepSeek     Kind = "deepseek"
	KindOllama       Kind = "ollama"
)

// Provider is the interface every upstream adapter satisfies. The router
// resolves a Kind from the request's model name, looks up the matching
// Provider, and delegates — the rest of the gateway never branches on
// which backend it's talking to.
type Provider interface {
	// Name returns the provider identifier used for logging, metrics
	// labels, breaker keys, and the X-LLMGateway-Provider response header.
	Name() string

	// ChatCompletion sends a non-streaming request and returns the
	// complete OpenAI-shaped response.
	ChatCompletion(ctx context.Context, req *chatmodel.ChatCompletionRequest) (*chatmodel.ChatCompletionResponse, error)

	// ChatCompletionStream sends a streaming request and returns a
	// channel of StreamEvents. The adapter owns the channel: it sends
	// events as they arrive and closes the channel when the stream ends,
	// whether that's success, upstream error, or context cancellation.
	ChatCompletionStream(ctx context.Context, req *chatmodel.ChatCompletionRequest) (<-chan StreamEvent, error)
}

// StreamEvent is one item flowing from an adapter's background goroutine
// to the router's SSE writer. At most one of Chunk or Err is set per
// event; Done is true on the last event of a successful stream and
// carries neither a Chunk nor an Err.
type StreamEvent struct {
	Chunk *chatmodel.ChatCompletionChunk
	Done  bool
	Err   error
}

// ResolveKind applies the gateway's routing rules: first matching
// case-sensitive prefix on model wins, and an unprefixed model defaults
// to Vertex.
func ResolveKind(model string) Kind {
	switch {
	case strings.HasPrefix(model, "gpt-"):
		return KindOpenAIWeb
	case strings.HasPrefix(model, "claude-"):
		return KindAnthropicCli
	case strings.HasPrefix(model, "gemini-"):
		return KindVertex
	case strings.HasPrefix(model, "deepseek-"):
		return KindDeepSeek
	case strings.HasPrefix(model, "ollama-"):
		return KindOllama
	default:
		return KindVertex
	}
}

// Dispatchable reports whether a Kind has an actual adapter behind it.
// DeepSeek and Ollama are recognized by ResolveKind but
// requires dispatch to fail for them with "not implemented" rather than
// silently falling back to another provider.
func Dispatchable(kind Kind) bool {
	return kind == KindVertex || kind == KindAnthropicCli || kind == KindOpenAIWeb
}
