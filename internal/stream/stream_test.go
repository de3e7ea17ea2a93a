package stream

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/llmgateway/internal/chatmodel"
	"github.com/llmgateway/llmgateway/internal/provider"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// sendEvents is a test helper that sends events on a channel in a goroutine
// and closes the channel when done, the way a provider adapter does in
// production.
func sendEvents(events ...provider.StreamEvent) <-chan provider.StreamEvent {
	ch := make(chan provider.StreamEvent)
	go func() {
		defer close(ch)
		for _, e := range events {
			ch <- e
		}
	}()
	return ch
}

// parseSSEEvents splits the raw SSE output into individual data payloads,
// excluding the "data: [DONE]" sentinel.
func parseSSEEvents(body string) []string {
	var events []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			payload := strings.TrimPrefix(line, "data: ")
			if payload != chatmodel.DoneSentinel {
				events = append(events, payload)
			}
		}
	}
	return events
}

func chunkEvent(delta string, finish chatmodel.FinishReason, usage *chatmodel.Usage) provider.StreamEvent {
	return provider.StreamEvent{Chunk: &chatmodel.ChatCompletionChunk{
		ID:      "chatcmpl-test",
		Object:  "chat.completion.chunk",
		Model:   "test-model",
		Choices: []chatmodel.Choice{{Index: 0, Delta: &chatmodel.Message{Content: delta}, FinishReason: finish}},
		Usage:   usage,
	}}
}

func TestWriteMultipleChunks(t *testing.T) {
	ch := sendEvents(
		chunkEvent("Hello", "", nil),
		chunkEvent(" world", "", nil),
		chunkEvent("", chatmodel.FinishStop, &chatmodel.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}),
		provider.StreamEvent{Done: true},
	)

	w := httptest.NewRecorder()
	require.NoError(t, Write(w, testLog(), ch))

	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	body := w.Body.String()
	require.Contains(t, body, "data: "+chatmodel.DoneSentinel)

	events := parseSSEEvents(body)
	require.Len(t, events, 3)

	var first chatmodel.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(events[0]), &first))
	require.Equal(t, "Hello", first.Choices[0].Delta.Content)
	require.Empty(t, first.Choices[0].FinishReason)

	var third chatmodel.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(events[2]), &third))
	require.Equal(t, chatmodel.FinishStop, third.Choices[0].FinishReason)
	require.NotNil(t, third.Usage)
	require.Equal(t, 7, third.Usage.TotalTokens)
}

func TestWriteMidStreamError(t *testing.T) {
	ch := sendEvents(
		chunkEvent("partial", "", nil),
		provider.StreamEvent{Err: errors.New("connection reset")},
	)

	w := httptest.NewRecorder()
	err := Write(w, testLog(), ch)

	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
	require.NotContains(t, w.Body.String(), chatmodel.DoneSentinel)
}

func TestWriteSSEFraming(t *testing.T) {
	ch := sendEvents(
		chunkEvent("hi", "", nil),
		provider.StreamEvent{Done: true},
	)

	w := httptest.NewRecorder()
	require.NoError(t, Write(w, testLog(), ch))

	body := w.Body.String()
	require.Contains(t, body, "data: "+chatmodel.DoneSentinel+"\n\n")

	parts := strings.Split(body, "\n\n")
	nonEmpty := 0
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty++
		}
	}
	require.Equal(t, 3, nonEmpty) // one content chunk + synthesized finish chunk + [DONE]
}

func TestWriteSkipsChunklessEvents(t *testing.T) {
	ch := sendEvents(
		provider.StreamEvent{Chunk: nil},
		chunkEvent("ok", "", nil),
		provider.StreamEvent{Done: true},
	)

	w := httptest.NewRecorder()
	require.NoError(t, Write(w, testLog(), ch))

	events := parseSSEEvents(w.Body.String())
	require.Len(t, events, 2) // the content chunk plus the synthesized finish chunk
}

func TestWriteSynthesizesFinishReasonWhenUpstreamOmitsIt(t *testing.T) {
	ch := sendEvents(
		chunkEvent("partial reply", "", nil),
		provider.StreamEvent{Done: true},
	)

	w := httptest.NewRecorder()
	require.NoError(t, Write(w, testLog(), ch))

	events := parseSSEEvents(w.Body.String())
	require.Len(t, events, 2)

	var final chatmodel.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(events[1]), &final))
	require.Equal(t, chatmodel.FinishStop, final.Choices[0].FinishReason)
	require.Empty(t, final.Choices[0].Delta.Content)
}

func TestWriteDoesNotSynthesizeFinishReasonWhenAlreadySeen(t *testing.T) {
	ch := sendEvents(
		chunkEvent("done", chatmodel.FinishStop, nil),
		provider.StreamEvent{Done: true},
	)

	w := httptest.NewRecorder()
	require.NoError(t, Write(w, testLog(), ch))

	events := parseSSEEvents(w.Body.String())
	require.Len(t, events, 1)
}

func TestWriteDoesNotSynthesizeFinishReasonForEmptyStream(t *testing.T) {
	ch := sendEvents(provider.StreamEvent{Done: true})

	w := httptest.NewRecorder()
	require.NoError(t, Write(w, testLog(), ch))

	events := parseSSEEvents(w.Body.String())
	require.Len(t, events, 0)
}
