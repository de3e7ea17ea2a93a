// Package chatmodel defines the OpenAI-compatible request/response shapes
// that every provider adapter and translator speaks. Handlers decode into
// these types, adapters translate them to/from a provider's native wire
// format, and handlers encode them back out — the rest of the gateway never
// touches a provider-specific struct directly.
package chatmodel

import "encoding/json"

// Role is the speaker of a single message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason is the normalized, lowercase reason a choice stopped
// generating. Every provider adapter maps its native reason into one of
// these before the translator hands a response back to the client.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
)

// Message is one turn in the conversation. Content is almost always plain
// text; the ContentParts form only shows up for multimodal input (image
// parts alongside text), which is why Content is a separate field instead
// of always requiring the array form — most callers send a bare string.
type Message struct {
	Role    Role           `json:"role"`
	Content string         `json:"content,omitempty"`
	Parts   []ContentPart  `json:"-"`
	Raw     json.RawMessage `json:"-"`
}

// ContentPart is one element of a multimodal message's content array.
type ContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ContentImage `json:"image_url,omitempty"`
}

// ContentImage carries an inline or remote image reference. The translator
// maps this into Gemini's inlineData part, in array order.
type ContentImage struct {
	URL string `json:"url"`
}

// UnmarshalJSON accepts both the plain-string and typed-array content
// shapes the OpenAI schema allows for a single message.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.Role = a.Role
	m.Raw = data

	if len(a.Content) == 0 {
		return nil
	}

	// Plain string content is the common case.
	var text string
	if err := json.Unmarshal(a.Content, &text); err == nil {
		m.Content = text
		return nil
	}

	// Otherwise it's an ordered array of typed parts.
	var parts []ContentPart
	if err := json.Unmarshal(a.Content, &parts); err != nil {
		return err
	}
	m.Parts = parts
	return nil
}

// MarshalJSON mirrors UnmarshalJSON: prefer the plain-string form, fall
// back to the parts array when parts were set and Content wasn't.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias struct {
		Role    Role   `json:"role"`
		Content string `json:"content,omitempty"`
	}
	if len(m.Parts) > 0 && m.Content == "" {
		type partsAlias struct {
			Role    Role          `json:"role"`
			Content []ContentPart `json:"content"`
		}
		return json.Marshal(partsAlias{Role: m.Role, Content: m.Parts})
	}
	return json.Marshal(alias{Role: m.Role, Content: m.Content})
}

// StopSequences accepts either a single string or a list of strings in the
// `stop` field, matching the OpenAI schema's union type.
type StopSequences []string

// UnmarshalJSON accepts a bare string or a JSON array of strings.
func (s *StopSequences) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one != "" {
			*s = StopSequences{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ChatCompletionRequest is the public input to POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model            string         `json:"model"`
	Messages         []Message      `json:"messages"`
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	N                *int           `json:"n,omitempty"`
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	Stream           bool           `json:"stream,omitempty"`
	Stop             StopSequences  `json:"stop,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	ResponseFormat   map[string]any `json:"response_format,omitempty"`
}

// Validate enforces the preconditions required before a
// request is ever dispatched to a provider.
func (r *ChatCompletionRequest) Validate() error {
	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	return nil
}

// Choice is one generated completion inside a unary response.
type Choice struct {
	Index        int          `json:"index"`
	Message      *Message     `json:"message,omitempty"`
	Delta        *Message     `json:"delta,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// Usage reports token accounting for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the unary (non-streaming) response shape.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// ChatCompletionChunk is one SSE frame in a streaming response.
type ChatCompletionChunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// DoneSentinel is the literal SSE payload that terminates every stream.
const DoneSentinel = "[DONE]"
