package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/llmgateway/llmgateway/internal/apperrors"
	"github.com/llmgateway/llmgateway/internal/chatmodel"
	"github.com/llmgateway/llmgateway/internal/translator"
)

// TokenProvider is the subset of *googleauth.Manager the Vertex adapter
// needs, so tests can fake it without constructing a real OAuth2 flow.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

// Vertex implements Provider for Google's Gemini API,
// supporting both of its auth modes: a flat API key sent as a query
// parameter against the public Gemini endpoint, or an OAuth2 bearer
// token (from googleauth.Manager) against the Vertex AI endpoint. Exactly
// one of apiKey or tokens is set, decided once at construction — a
// struct-with-one-active-field shape generalized here to a two-mode adapter.
type Vertex struct {
	client *http.Client

	apiKey  string
	tokens  TokenProvider // non-nil in OAuth mode
	baseURL string

	projectID string
	region    string
}

// NewVertexAPIKey builds a Vertex adapter using the API-key auth mode.
// baseURL is the Gemini public endpoint base, e.g.
// "https://generativelanguage.googleapis.com".
func NewVertexAPIKey(apiKey, baseURL string, client *http.Client) *Vertex {
	return &Vertex{apiKey: apiKey, baseURL: baseURL, client: client}
}

// NewVertexOAuth builds a Vertex adapter using the OAuth2 service-account
// auth mode against the regional Vertex AI endpoint, e.g.
// "https://us-central1-aiplatform.googleapis.com".
func NewVertexOAuth(tokens TokenProvider, projectID, region, baseURL string, client *http.Client) *Vertex {
	return &Vertex{tokens: tokens, projectID: projectID, region: region, baseURL: baseURL, client: client}
}

func (v *Vertex) Name() string { return "vertex" }

// endpoint builds the generateContent/streamGenerateContent URL for the
// adapter's active auth mode, one of two URL templates.
// streaming appends "&alt=sse" in API-key mode (the URL already carries
// "?key=") or "?alt=sse" in OAuth mode (the URL has no query string of its
// own).
func (v *Vertex) endpoint(ctx context.Context, model, op string, streaming bool) (string, map[string]string, error) {
	if v.tokens != nil {
		token, err := v.tokens.GetToken(ctx)
		if err != nil {
			return "", nil, apperrors.Auth("fetching Google OAuth token: "+err.Error(), true)
		}
		url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
			v.baseURL, v.projectID, v.region, model, op)
		if streaming {
			url += "?alt=sse"
		}
		return url, map[string]string{"Authorization": "Bearer " + token}, nil
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s", v.baseURL, model, op, v.apiKey)
	if streaming {
		url += "&alt=sse"
	}
	return url, nil, nil
}

// ChatCompletion sends a non-streaming generateContent request.
func (v *Vertex) ChatCompletion(ctx context.Context, req *chatmodel.ChatCompletionRequest) (*chatmodel.ChatCompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, UnaryTimeout)
	defer cancel()

	body, err := translator.OpenAIRequestToGemini(req)
	if err != nil {
		return nil, apperrors.Internal("translating request to gemini", err)
	}

	url, headers, err := v.endpoint(ctx, req.Model, "generateContent", false)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Internal("building vertex request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, val := range headers {
		httpReq.Header.Set(k, val)
	}

	httpResp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, classifyDoError(req.Model, url, err)
	}
	defer httpResp.Body.Close()

	respBody, readErr := readAllLimited(httpResp.Body)
	if readErr != nil {
		return nil, classifyDoError(req.Model, url, readErr)
	}

	if err := classifyUpstreamStatus(httpResp.StatusCode, respBody); err != nil {
		return nil, err
	}

	resp := translator.GeminiResponseToOpenAI(uuid.NewString(), req.Model, respBody)
	resp.Object = "chat.completion"
	return resp, nil
}

// ChatCompletionStream sends a streaming streamGenerateContent request and
// adapts Gemini's SSE into OpenAI chunks on a channel, following the same
// goroutine + unbuffered-channel + select-on-ctx.Done pattern the Google
// and Anthropic adapters this package grew from already used.
func (v *Vertex) ChatCompletionStream(ctx context.Context, req *chatmodel.ChatCompletionRequest) (<-chan StreamEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, StreamTimeout)

	body, err := translator.OpenAIRequestToGemini(req)
	if err != nil {
		cancel()
		return nil, apperrors.Internal("translating request to gemini", err)
	}

	url, headers, err := v.endpoint(ctx, req.Model, "streamGenerateContent", true)
	if err != nil {
		cancel()
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, apperrors.Internal("building vertex request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, val := range headers {
		httpReq.Header.Set(k, val)
	}

	httpResp, err := v.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classifyDoError(req.Model, url, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer cancel()
		defer httpResp.Body.Close()
		respBody, _ := readAllLimited(httpResp.Body)
		return nil, classifyUpstreamStatus(httpResp.StatusCode, respBody)
	}

	ch := make(chan StreamEvent)
	respID := uuid.NewString()

	go func() {
		defer cancel()
		defer close(ch)
		defer httpResp.Body.Close()

		roleEmitted := false
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")

			chunk, ok := translator.GeminiSSEEventToChunk(respID, req.Model, []byte(payload), &roleEmitted)
			if !ok {
				continue
			}
			chunk.Object = "chat.completion.chunk"

			select {
			case ch <- StreamEvent{Chunk: &chunk}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- StreamEvent{Err: classifyDoError(req.Model, url, err)}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case ch <- StreamEvent{Done: true}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// readAllLimited reads an upstream response body with a sane cap so a
// misbehaving upstream can't exhaust memory through an unbounded error body.
func readAllLimited(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 1<<20))
}
