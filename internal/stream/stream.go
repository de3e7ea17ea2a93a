// Package stream handles SSE writing for streaming chat completions.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/llmgateway/llmgateway/internal/apperrors"
	"github.com/llmgateway/llmgateway/internal/chatmodel"
	"github.com/llmgateway/llmgateway/internal/provider"
)

// Write reads StreamEvents from the channel and writes them to the
// http.ResponseWriter as OpenAI-compatible Server-Sent Events.
//
// This is the consumer side of the streaming pipeline:
//
//	provider adapter goroutine → channel → Write() → http.ResponseWriter → client
//
// Each event's Chunk is already a fully OpenAI-shaped chatmodel.ChatCompletionChunk
// by the time it reaches here — translation happens once, inside the
// provider adapter — so Write only has to marshal and flush.
func Write(w http.ResponseWriter, log *logrus.Entry, events <-chan provider.StreamEvent) error {
	// w.(http.Flusher) is a type assertion: the concrete ResponseWriter Go's
	// HTTP server passes to handlers implements Flush() in addition to the
	// plain http.ResponseWriter interface, but nothing guarantees that of
	// every ResponseWriter, so this has to be checked rather than assumed.
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var (
		sawFinishReason bool
		lastID, lastModel string
	)

	for ev := range events {
		if ev.Err != nil {
			log.WithError(ev.Err).Warn("stream terminated mid-flight")
			// Headers and a 200 status are already on the wire, so the
			// error can't be reported via status code at this point. The
			// client sees the stream end without a [DONE] sentinel, which
			// is the signal an OpenAI-compatible client uses to detect a
			// truncated stream.
			return ev.Err
		}
		if ev.Done {
			break
		}
		if ev.Chunk == nil {
			continue
		}

		lastID, lastModel = ev.Chunk.ID, ev.Chunk.Model
		if len(ev.Chunk.Choices) > 0 && ev.Chunk.Choices[0].FinishReason != "" {
			sawFinishReason = true
		}

		if err := writeChunk(w, flusher, *ev.Chunk); err != nil {
			return err
		}
	}

	// An upstream that ends its stream without ever sending a finish reason
	// (connection closed after the last content delta, no trailing event)
	// still has to hand the client a terminal chunk it can key off of, so
	// one is synthesized here with finish_reason "stop".
	if !sawFinishReason && lastID != "" {
		final := chatmodel.ChatCompletionChunk{
			ID:      lastID,
			Object:  "chat.completion.chunk",
			Model:   lastModel,
			Choices: []chatmodel.Choice{{Index: 0, Delta: &chatmodel.Message{}, FinishReason: chatmodel.FinishStop}},
		}
		if err := writeChunk(w, flusher, final); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprint(w, "data: "+chatmodel.DoneSentinel+"\n\n"); err != nil {
		return apperrors.Internal("writing SSE done marker", err)
	}
	flusher.Flush()
	return nil
}

// writeChunk marshals a single chunk and writes it as one SSE event,
// flushing immediately so the client sees tokens as they arrive instead of
// waiting for Go's HTTP server to fill its internal write buffer.
func writeChunk(w http.ResponseWriter, flusher http.Flusher, chunk chatmodel.ChatCompletionChunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return apperrors.Internal("marshaling SSE chunk", err)
	}

	// The blank line after each event is required by the SSE wire format —
	// it marks where one event ends and the next begins.
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return apperrors.Internal("writing SSE event", err)
	}
	flusher.Flush()
	return nil
}
