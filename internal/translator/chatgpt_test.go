package translator

import (
	"testing"

	"github.com/llmgateway/llmgateway/internal/chatmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestOpenAIRequestToChatGPTBackendShape(t *testing.T) {
	req := &chatmodel.ChatCompletionRequest{
		Model: "gpt-4",
		Messages: []chatmodel.Message{
			{Role: chatmodel.RoleUser, Content: "hello"},
		},
	}

	body, err := OpenAIRequestToChatGPTBackend(req)
	require.NoError(t, err)
	parsed := gjson.ParseBytes(body)

	assert.Equal(t, "next", parsed.Get("action").String())
	assert.Equal(t, "gpt-4", parsed.Get("model").String())
	assert.NotEmpty(t, parsed.Get("parent_message_id").String())
	assert.Equal(t, "text", parsed.Get("messages.0.content.content_type").String())
	assert.Equal(t, "hello", parsed.Get("messages.0.content.parts.0").String())
	assert.False(t, parsed.Get("conversation_id").Exists(), "conversation_id is omitted since nothing is persisted")
}

func TestChatGPTEventToChunkExtractsDeltaFromCumulativeSnapshots(t *testing.T) {
	cursor := &ChatGPTCursor{}

	chunk1, ok := cursor.ChatGPTEventToChunk("resp-1", "gpt-4", "message",
		[]byte(`{"message":{"content":{"parts":["Hel"]},"recipient":"all"}}`))
	require.True(t, ok)
	assert.Equal(t, "Hel", chunk1.Choices[0].Delta.Content)

	chunk2, ok := cursor.ChatGPTEventToChunk("resp-1", "gpt-4", "message",
		[]byte(`{"message":{"content":{"parts":["Hello world"]},"recipient":"all"}}`))
	require.True(t, ok)
	assert.Equal(t, "lo world", chunk2.Choices[0].Delta.Content)
}

func TestChatGPTEventToChunkIgnoresNonAllRecipientFrames(t *testing.T) {
	cursor := &ChatGPTCursor{}
	_, ok := cursor.ChatGPTEventToChunk("resp-1", "gpt-4", "message",
		[]byte(`{"message":{"content":{"parts":["tool call"]},"recipient":"browser"}}`))
	assert.False(t, ok)
}

func TestChatGPTEventToChunkIgnoresNonMessageFrameTypes(t *testing.T) {
	cursor := &ChatGPTCursor{}
	_, ok := cursor.ChatGPTEventToChunk("resp-1", "gpt-4", "internal_error", []byte(`{}`))
	assert.False(t, ok)
}

func TestChatGPTEventToChunkEmitsFinishOnCompletion(t *testing.T) {
	cursor := &ChatGPTCursor{emitted: "done"}
	chunk, ok := cursor.ChatGPTEventToChunk("resp-1", "gpt-4", "message",
		[]byte(`{"message":{"content":{"parts":["done"]},"status":"finished_successfully","recipient":"all"}}`))
	require.True(t, ok)
	assert.Equal(t, "", chunk.Choices[0].Delta.Content)
	assert.Equal(t, chatmodel.FinishStop, chunk.Choices[0].FinishReason)
}
