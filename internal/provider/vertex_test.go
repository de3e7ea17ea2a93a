package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/dnaeon/go-vcr.v4/recorder"

	"github.com/llmgateway/llmgateway/internal/chatmodel"
	"github.com/llmgateway/llmgateway/internal/provider"
)

// newReplayingVertex builds a Vertex adapter whose HTTP client replays a
// recorded cassette instead of calling the real Gemini endpoint, so this
// test exercises the real request/response translation path against a
// fixed, version-controlled fixture.
func newReplayingVertex(t *testing.T, cassette string) *provider.Vertex {
	t.Helper()
	rec, err := recorder.New("testdata/" + cassette)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, rec.Stop()) })

	return provider.NewVertexAPIKey("test-api-key", "https://generativelanguage.googleapis.com", rec.GetDefaultClient())
}

func TestVertexChatCompletionReplaysRecordedFixture(t *testing.T) {
	v := newReplayingVertex(t, "vertex_generate_content")

	resp, err := v.ChatCompletion(context.Background(), &chatmodel.ChatCompletionRequest{
		Model:    "gemini-2.5-flash",
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "What is the capital of France?"}},
	})

	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	require.Equal(t, "Paris is the capital of France.", resp.Choices[0].Message.Content)
	require.Equal(t, chatmodel.FinishStop, resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestVertexNameIsVertex(t *testing.T) {
	v := provider.NewVertexAPIKey("k", "https://generativelanguage.googleapis.com", nil)
	require.Equal(t, "vertex", v.Name())
}
