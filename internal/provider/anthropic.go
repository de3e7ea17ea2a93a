package provider

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/llmgateway/llmgateway/internal/apperrors"
	"github.com/llmgateway/llmgateway/internal/chatmodel"
	"github.com/llmgateway/llmgateway/internal/translator"
)

// AnthropicBridge implements Provider for the Anthropic-CLI-backed side-car
// a stateless HTTP client that POSTs to the bridge's
// /anthropic/chat endpoint and line-buffers the OpenAI-shaped SSE it
// already emits, rather than talking to Anthropic's Messages API directly.
type AnthropicBridge struct {
	baseURL string
	client  *http.Client
}

// NewAnthropicBridge builds an AnthropicBridge pointed at the bridge's base
// URL, e.g. "http://localhost:4001".
func NewAnthropicBridge(baseURL string, client *http.Client) *AnthropicBridge {
	return &AnthropicBridge{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (a *AnthropicBridge) Name() string { return "anthropic_cli" }

// ChatCompletion aggregates the bridge's SSE stream into a single response,
// since the bridge itself is streaming-only, so the non-streaming path is
// built on aggregating streaming deltas.
func (a *AnthropicBridge) ChatCompletion(ctx context.Context, req *chatmodel.ChatCompletionRequest) (*chatmodel.ChatCompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, UnaryTimeout)
	defer cancel()

	events, err := a.ChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &chatmodel.ChatCompletionResponse{Object: "chat.completion", Model: req.Model}
	var content strings.Builder
	var finish chatmodel.FinishReason
	var usage *chatmodel.Usage

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
		if resp.ID == "" {
			resp.ID = ev.Chunk.ID
		}
		choice := ev.Chunk.Choices[0]
		if choice.Delta != nil {
			content.WriteString(choice.Delta.Content)
		}
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
		if ev.Chunk.Usage != nil {
			usage = ev.Chunk.Usage
		}
	}

	if finish == "" {
		finish = chatmodel.FinishStop
	}
	resp.Choices = []chatmodel.Choice{{
		Index:        0,
		Message:      &chatmodel.Message{Role: chatmodel.RoleAssistant, Content: content.String()},
		FinishReason: finish,
	}}
	resp.Usage = usage
	return resp, nil
}

// ChatCompletionStream POSTs to the bridge and line-buffers its SSE body,
// validating and passing each frame through translator.AnthropicBridgeChunkToOpenAI.
// The goroutine + unbuffered-channel + select-on-ctx.Done shape mirrors the
// Vertex adapter's streaming path, the same pattern shared by every adapter
// in this package.
func (a *AnthropicBridge) ChatCompletionStream(ctx context.Context, req *chatmodel.ChatCompletionRequest) (<-chan StreamEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, StreamTimeout)

	body, err := translator.OpenAIRequestToAnthropicBridge(req)
	if err != nil {
		cancel()
		return nil, apperrors.Internal("translating request for anthropic bridge", err)
	}

	url := a.baseURL + "/anthropic/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, apperrors.Internal("building anthropic bridge request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.client.Do(httpReq)
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

	go func() {
		defer cancel()
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")

			if translator.IsDoneSentinel(payload) {
				break
			}

			chunk, ok := translator.AnthropicBridgeChunkToOpenAI([]byte(payload))
			if !ok {
				// A malformed frame is logged and skipped; it is not fatal
				// to the stream.
				logrus.StandardLogger().WithField("frame", payload).Warn("skipping malformed anthropic bridge frame")
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
