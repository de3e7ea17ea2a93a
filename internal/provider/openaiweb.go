package provider

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/llmgateway/llmgateway/internal/apperrors"
	"github.com/llmgateway/llmgateway/internal/chatmodel"
	"github.com/llmgateway/llmgateway/internal/harvester"
	"github.com/llmgateway/llmgateway/internal/translator"
)

const chatGPTBackendURL = "https://chatgpt.com/backend-api/conversation"

// HarvesterTokenSource is the subset of *harvester.Client the OpenAI-Web
// adapter needs, so tests can fake token issuance without an HTTP side-car.
type HarvesterTokenSource interface {
	GetTokens(ctx context.Context, requiresArkose bool) (harvester.Tokens, error)
	Refresh(ctx context.Context, forceArkose bool) error
}

// OpenAIWeb implements Provider for the ChatGPT-web backend:
// it borrows a browser session's tokens from the harvester side-car and
// imitates a logged-in browser's conversation request.
type OpenAIWeb struct {
	tokens     HarvesterTokenSource
	client     *http.Client
	userAgent  string
	acceptLang string
	referer    string
}

// NewOpenAIWeb builds an OpenAIWeb adapter. userAgent/acceptLanguage/referer
// are the fixed browser-imitating header values sent
// in order; sensible defaults are used when a field is left empty.
func NewOpenAIWeb(tokens HarvesterTokenSource, client *http.Client, userAgent, acceptLanguage, referer string) *OpenAIWeb {
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}
	if acceptLanguage == "" {
		acceptLanguage = "en-US,en;q=0.9"
	}
	if referer == "" {
		referer = "https://chatgpt.com/"
	}
	return &OpenAIWeb{tokens: tokens, client: client, userAgent: userAgent, acceptLang: acceptLanguage, referer: referer}
}

func (o *OpenAIWeb) Name() string { return "openai_web" }

// requiresArkose reports whether model needs an arkose challenge token,
// gpt-4* models do, everything else routed here doesn't.
func requiresArkose(model string) bool {
	return strings.HasPrefix(model, "gpt-4")
}

// buildRequest constructs the backend-api/conversation HTTP request with
// the browser-imitating headers set in the exact order a browser session sends them:
// User-Agent, Accept-Language, Referer, Authorization, then (conditionally)
// the arkose sentinel header. Go's http.Header is a map, so header order on
// the wire is actually controlled by net/http's writer, not insertion
// order — but setting them in this sequence documents the contract and
// matches what a literal browser-session replay would do.
func (o *OpenAIWeb) buildRequest(ctx context.Context, body []byte, tokens harvester.Tokens, needsArkose bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatGPTBackendURL, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Internal("building chatgpt backend request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", o.userAgent)
	req.Header.Set("Accept-Language", o.acceptLang)
	req.Header.Set("Referer", o.referer)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	if needsArkose {
		req.Header.Set("Openai-Sentinel-Arkose-Token", tokens.ArkoseToken)
	}
	return req, nil
}

// ChatCompletion aggregates the backend's SSE stream into a single
// response, same rationale as the Anthropic bridge adapter.
func (o *OpenAIWeb) ChatCompletion(ctx context.Context, req *chatmodel.ChatCompletionRequest) (*chatmodel.ChatCompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, UnaryTimeout)
	defer cancel()

	events, err := o.ChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &chatmodel.ChatCompletionResponse{ID: "chatcmpl-" + uuid.NewString(), Object: "chat.completion", Model: req.Model}
	var content strings.Builder
	finish := chatmodel.FinishStop

	for ev := range events {
		if ev.Err != nil {
			return nil, ev.Err
		}
		if ev.Done {
			break
		}
		if ev.Chunk == nil || len(ev.Chunk.Choices) == 0 {
			continue
		}
		choice := ev.Chunk.Choices[0]
		if choice.Delta != nil {
			content.WriteString(choice.Delta.Content)
		}
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
	}

	resp.Choices = []chatmodel.Choice{{
		Index:        0,
		Message:      &chatmodel.Message{Role: chatmodel.RoleAssistant, Content: content.String()},
		FinishReason: finish,
	}}
	return resp, nil
}

// ChatCompletionStream implements the backend's request sequence: fetch
// tokens, translate, POST with browser headers, parse SSE into chunks, and
// the 401/403/429 handling policy. The 401-refresh-and-retry-once happens
// before the channel is created — it's a synchronous, bounded retry on the
// request setup, not part of the long-lived streaming goroutine.
func (o *OpenAIWeb) ChatCompletionStream(ctx context.Context, req *chatmodel.ChatCompletionRequest) (<-chan StreamEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, StreamTimeout)

	needsArkose := requiresArkose(req.Model)

	body, err := translator.OpenAIRequestToChatGPTBackend(req)
	if err != nil {
		cancel()
		return nil, apperrors.Internal("translating request for chatgpt backend", err)
	}

	httpResp, err := o.postWithRetry(ctx, req.Model, body, needsArkose)
	if err != nil {
		cancel()
		return nil, err
	}

	ch := make(chan StreamEvent)
	respID := "chatcmpl-" + uuid.NewString()

	go func() {
		defer cancel()
		defer close(ch)
		defer httpResp.Body.Close()

		cursor := &translator.ChatGPTCursor{}
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var currentEvent string
		for scanner.Scan() {
			line := scanner.Text()

			switch {
			case strings.HasPrefix(line, "event: "):
				currentEvent = strings.TrimPrefix(line, "event: ")
				continue
			case line == "":
				currentEvent = ""
				continue
			case !strings.HasPrefix(line, "data: "):
				continue
			}

			payload := strings.TrimPrefix(line, "data: ")
			if translator.IsDoneSentinel(payload) || currentEvent == "done" {
				break
			}

			chunk, ok := cursor.ChatGPTEventToChunk(respID, req.Model, currentEvent, []byte(payload))
			if !ok {
				continue
			}

			select {
			case ch <- StreamEvent{Chunk: &chunk}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- StreamEvent{Err: classifyDoError(req.Model, chatGPTBackendURL, err)}:
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

// postWithRetry implements the 401/403/429 policy: a 401
// triggers exactly one forced token refresh and exactly one retry; a 403 is
// classified as a WAF block and never retried; a 429 fails fast. The
// caller owns the returned response body and must close it.
func (o *OpenAIWeb) postWithRetry(ctx context.Context, model string, body []byte, needsArkose bool) (*http.Response, error) {
	tokens, err := o.tokens.GetTokens(ctx, needsArkose)
	if err != nil {
		return nil, err
	}

	attempt := func(t harvester.Tokens) (*http.Response, error) {
		httpReq, buildErr := o.buildRequest(ctx, body, harvester.Tokens{AccessToken: t.AccessToken, ArkoseToken: t.ArkoseToken}, needsArkose)
		if buildErr != nil {
			return nil, buildErr
		}
		return o.client.Do(httpReq)
	}

	resp, err := attempt(harvester.Tokens{AccessToken: tokens.AccessToken, ArkoseToken: tokens.ArkoseToken})
	if err != nil {
		return nil, classifyDoError(model, chatGPTBackendURL, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil

	case http.StatusUnauthorized:
		resp.Body.Close()
		if refreshErr := o.tokens.Refresh(ctx, needsArkose); refreshErr != nil {
			return nil, refreshErr
		}
		retried, retryErr := o.tokens.GetTokens(ctx, needsArkose)
		if retryErr != nil {
			return nil, retryErr
		}
		resp2, err2 := attempt(harvester.Tokens{AccessToken: retried.AccessToken, ArkoseToken: retried.ArkoseToken})
		if err2 != nil {
			return nil, classifyDoError(model, chatGPTBackendURL, err2)
		}
		if resp2.StatusCode != http.StatusOK {
			defer resp2.Body.Close()
			respBody, _ := readAllLimited(resp2.Body)
			return nil, classifyUpstreamStatus(resp2.StatusCode, respBody)
		}
		return resp2, nil

	case http.StatusForbidden:
		defer resp.Body.Close()
		respBody, _ := readAllLimited(resp.Body)
		logUpstreamBody(resp.StatusCode, respBody)
		return nil, apperrors.WafBlocked(genericUpstreamMessage(resp.StatusCode))

	case http.StatusTooManyRequests:
		defer resp.Body.Close()
		respBody, _ := readAllLimited(resp.Body)
		logUpstreamBody(resp.StatusCode, respBody)
		return nil, apperrors.RateLimited(genericUpstreamMessage(resp.StatusCode))

	default:
		defer resp.Body.Close()
		respBody, _ := readAllLimited(resp.Body)
		return nil, classifyUpstreamStatus(resp.StatusCode, respBody)
	}
}
