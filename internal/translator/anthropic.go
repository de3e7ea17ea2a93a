package translator

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/llmgateway/llmgateway/internal/chatmodel"
)

// anthropicBridgeRequest is the body sent to the Anthropic-CLI bridge
// side-car's POST /anthropic/chat. The bridge itself
// concatenates messages into a single prompt string; only text content is
// supported, matching this adapter's scope.
type anthropicBridgeRequest struct {
	Messages []bridgeMessage `json:"messages"`
	Model    string          `json:"model"`
}

type bridgeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIRequestToAnthropicBridge passes messages and model through to the
// bridge essentially unchanged — the bridge owns prompt construction.
func OpenAIRequestToAnthropicBridge(req *chatmodel.ChatCompletionRequest) ([]byte, error) {
	br := anthropicBridgeRequest{Model: req.Model}
	for _, msg := range req.Messages {
		br.Messages = append(br.Messages, bridgeMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return json.Marshal(br)
}

// AnthropicBridgeChunkToOpenAI validates and passes through one SSE data
// line the bridge already emits in OpenAI chunk shape,
// normalizing a missing id to a generated identifier so the client never
// sees an empty id field. Returns ok=false for a line that isn't valid
// JSON — the caller logs and skips it rather than failing the stream.
func AnthropicBridgeChunkToOpenAI(raw []byte) (chunk chatmodel.ChatCompletionChunk, ok bool) {
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return chatmodel.ChatCompletionChunk{}, false
	}
	if chunk.ID == "" {
		chunk.ID = "chatcmpl-" + uuid.NewString()
	}
	return chunk, true
}

// IsDoneSentinel reports whether a raw SSE data payload is the literal
// "[DONE]" terminator, tolerating surrounding whitespace the way a
// line-buffered SSE reader can pick up.
func IsDoneSentinel(raw string) bool {
	return strings.TrimSpace(raw) == chatmodel.DoneSentinel
}
