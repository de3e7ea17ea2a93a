package translator

import (
	"testing"

	"github.com/llmgateway/llmgateway/internal/chatmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestOpenAIRequestToGeminiMapsRolesAndCoalescesSystem(t *testing.T) {
	req := &chatmodel.ChatCompletionRequest{
		Model: "gemini-2.0-flash",
		Messages: []chatmodel.Message{
			{Role: chatmodel.RoleSystem, Content: "be terse"},
			{Role: chatmodel.RoleUser, Content: "hello"},
			{Role: chatmodel.RoleAssistant, Content: "hi there"},
		},
	}

	body, err := OpenAIRequestToGemini(req)
	require.NoError(t, err)
	parsed := gjson.ParseBytes(body)

	assert.Equal(t, "be terse", parsed.Get("systemInstruction.parts.0.text").String())
	assert.Equal(t, "user", parsed.Get("contents.0.role").String())
	assert.Equal(t, "hello", parsed.Get("contents.0.parts.0.text").String())
	assert.Equal(t, "model", parsed.Get("contents.1.role").String())
	assert.Equal(t, "hi there", parsed.Get("contents.1.parts.0.text").String())
}

func TestOpenAIRequestToGeminiMapsGenerationConfig(t *testing.T) {
	temp := 0.7
	maxTokens := 256
	req := &chatmodel.ChatCompletionRequest{
		Model:       "gemini-2.0-flash",
		Messages:    []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        chatmodel.StopSequences{"STOP"},
	}

	body, err := OpenAIRequestToGemini(req)
	require.NoError(t, err)
	parsed := gjson.ParseBytes(body)

	assert.Equal(t, 0.7, parsed.Get("generationConfig.temperature").Float())
	assert.Equal(t, int64(256), parsed.Get("generationConfig.maxOutputTokens").Int())
	assert.Equal(t, "STOP", parsed.Get("generationConfig.stopSequences.0").String())
}

func TestGeminiResponseToOpenAIJoinsPartsAndMapsFinishReason(t *testing.T) {
	raw := []byte(`{
		"candidates": [{"content": {"parts": [{"text": "hello "}, {"text": "world"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 3, "candidatesTokenCount": 5, "totalTokenCount": 8}
	}`)

	resp := GeminiResponseToOpenAI("resp-1", "gemini-2.0-flash", raw)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello world", resp.Choices[0].Message.Content)
	assert.Equal(t, chatmodel.FinishStop, resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
}

func TestGeminiFinishReasonMapping(t *testing.T) {
	cases := map[string]chatmodel.FinishReason{
		"STOP":                      chatmodel.FinishStop,
		"MAX_TOKENS":                chatmodel.FinishLength,
		"SAFETY":                    chatmodel.FinishContentFilter,
		"RECITATION":                chatmodel.FinishContentFilter,
		"OTHER":                     chatmodel.FinishStop,
		"FINISH_REASON_UNSPECIFIED": "",
		"":                          "",
		"something_unrecognized":    "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, GeminiFinishReason(raw), "raw=%s", raw)
	}
}

func TestGeminiSSEEventToChunkEmitsRoleOnlyOnce(t *testing.T) {
	roleEmitted := false

	chunk1, ok := GeminiSSEEventToChunk("resp-1", "gemini-2.0-flash",
		[]byte(`{"candidates":[{"content":{"parts":[{"text":"hel"}]}}]}`), &roleEmitted)
	require.True(t, ok)
	require.NotNil(t, chunk1.Choices[0].Delta)
	assert.Equal(t, chatmodel.RoleAssistant, chunk1.Choices[0].Delta.Role)
	assert.Equal(t, "hel", chunk1.Choices[0].Delta.Content)

	chunk2, ok := GeminiSSEEventToChunk("resp-1", "gemini-2.0-flash",
		[]byte(`{"candidates":[{"content":{"parts":[{"text":"lo"}]}}]}`), &roleEmitted)
	require.True(t, ok)
	assert.Equal(t, chatmodel.Role(""), chunk2.Choices[0].Delta.Role)
	assert.Equal(t, "lo", chunk2.Choices[0].Delta.Content)
}

func TestGeminiSSEEventToChunkEmitsFinalChunkOnFinishReason(t *testing.T) {
	roleEmitted := true
	chunk, ok := GeminiSSEEventToChunk("resp-1", "gemini-2.0-flash",
		[]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"STOP"}]}`), &roleEmitted)
	require.True(t, ok)
	assert.Equal(t, "", chunk.Choices[0].Delta.Content)
	assert.Equal(t, chatmodel.FinishStop, chunk.Choices[0].FinishReason)
}

func TestGeminiSSEEventToChunkSkipsEmptyEvents(t *testing.T) {
	roleEmitted := true
	_, ok := GeminiSSEEventToChunk("resp-1", "gemini-2.0-flash",
		[]byte(`{"candidates":[{"content":{"parts":[]}}]}`), &roleEmitted)
	assert.False(t, ok, "an event with no text and no finish reason emits no chunk")
}
