package translator

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/llmgateway/llmgateway/internal/chatmodel"
	"github.com/tidwall/gjson"
)

// chatGPTBackendRequest mirrors the body the ChatGPT-web backend-api expects
// from a browser session: one new turn appended to a
// (here, never-persisted) conversation.
type chatGPTBackendRequest struct {
	Action          string              `json:"action"`
	Messages        []chatGPTMessage    `json:"messages"`
	Model           string              `json:"model"`
	ParentMessageID string              `json:"parent_message_id"`
	ConversationID  *string             `json:"conversation_id,omitempty"`
}

type chatGPTMessage struct {
	ID      string             `json:"id"`
	Role    string             `json:"role"`
	Content chatGPTMessageBody `json:"content"`
}

type chatGPTMessageBody struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

// OpenAIRequestToChatGPTBackend builds the backend-api/conversation request
// body. Identifiers are generated fresh per request; the gateway never
// persists a conversation, so parent_message_id always seeds a new chain
// and conversation_id is omitted (the backend starts a fresh one).
func OpenAIRequestToChatGPTBackend(req *chatmodel.ChatCompletionRequest) ([]byte, error) {
	br := chatGPTBackendRequest{
		Action:          "next",
		Model:           req.Model,
		ParentMessageID: uuid.NewString(),
	}
	for _, msg := range req.Messages {
		br.Messages = append(br.Messages, chatGPTMessage{
			ID:   uuid.NewString(),
			Role: string(msg.Role),
			Content: chatGPTMessageBody{
				ContentType: "text",
				Parts:       []string{msg.Content},
			},
		})
	}
	return json.Marshal(br)
}

// ChatGPTCursor tracks the cumulative text the backend has sent so far for
// one stream, so successive snapshots can be turned into deltas — the
// backend re-sends the full message content on every frame instead of
// sending just the new fragment.
type ChatGPTCursor struct {
	emitted string
}

// ChatGPTEventToChunk extracts the new text since the last call from one
// "event: message" data frame, or reports ok=false for frames that should
// to ignore (moderation/internal) or that carry no new text.
//
// frameType is the value of the preceding "event:" line; eventData is the
// frame's "data:" JSON payload.
func (c *ChatGPTCursor) ChatGPTEventToChunk(id, model, frameType string, eventData []byte) (chunk chatmodel.ChatCompletionChunk, ok bool) {
	if frameType != "" && frameType != "message" {
		return chatmodel.ChatCompletionChunk{}, false
	}

	parsed := gjson.ParseBytes(eventData)
	if recipient := parsed.Get("message.recipient").String(); recipient != "" && recipient != "all" {
		// Frames directed at a tool/plugin recipient rather than the
		// user are internal and must not be surfaced to the client.
		return chatmodel.ChatCompletionChunk{}, false
	}

	var full strings.Builder
	for _, part := range parsed.Get("message.content.parts").Array() {
		full.WriteString(part.String())
	}

	cumulative := full.String()
	if !strings.HasPrefix(cumulative, c.emitted) {
		// Snapshot diverged from what we've already sent (e.g. the
		// backend edited earlier text) — resync by emitting the whole
		// thing as the delta rather than producing a negative-length
		// extraction.
		c.emitted = ""
	}
	delta := strings.TrimPrefix(cumulative, c.emitted)
	c.emitted = cumulative

	status := parsed.Get("message.status").String()
	var finish chatmodel.FinishReason
	if status == "finished_successfully" {
		finish = chatmodel.FinishStop
	}

	if delta == "" && finish == "" {
		return chatmodel.ChatCompletionChunk{}, false
	}

	choice := chatmodel.Choice{Index: 0, Delta: &chatmodel.Message{Content: delta}, FinishReason: finish}
	return chatmodel.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Model:   model,
		Choices: []chatmodel.Choice{choice},
	}, true
}
