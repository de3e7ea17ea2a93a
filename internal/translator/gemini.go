// Package translator implements the pure, stateless schema translation
// functions between the OpenAI wire format and each upstream provider's
// native format. Functions here never perform I/O; adapters
// in internal/provider call them around the actual HTTP round trip.
//
// Translation bodies are built with github.com/tidwall/gjson and
// github.com/tidwall/sjson rather than fully-typed structs for the
// provider-facing shapes: request bodies are assembled field by field with
// sjson and upstream responses are read with gjson, so only the fields
// named in this package are written or read; anything else is dropped.
package translator

import (
	"strconv"
	"strings"

	"github.com/llmgateway/llmgateway/internal/chatmodel"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// geminiRoleFor maps an OpenAI role onto Gemini's "user"/"model" vocabulary.
func geminiRoleFor(role chatmodel.Role) string {
	if role == chatmodel.RoleAssistant {
		return "model"
	}
	return "user"
}

// OpenAIRequestToGemini builds a Gemini generateContent request body from
// an OpenAI ChatCompletionRequest. System messages are
// coalesced into systemInstruction (last one wins if there are several);
// unsupported fields are simply never written, which sjson treats as
// "dropped silently" — emitting a warning for that case is the caller's
// responsibility to log, since this function has no logger.
func OpenAIRequestToGemini(req *chatmodel.ChatCompletionRequest) ([]byte, error) {
	body := []byte("{}")
	var err error

	contentsIndex := 0
	var systemText string
	hasSystem := false

	for _, msg := range req.Messages {
		if msg.Role == chatmodel.RoleSystem {
			systemText = msg.Content
			hasSystem = true
			continue
		}

		path := sjsonPath("contents", contentsIndex)
		if body, err = sjson.SetBytes(body, path+".role", geminiRoleFor(msg.Role)); err != nil {
			return nil, err
		}
		if body, err = sjson.SetBytes(body, path+".parts", geminiPartsFor(msg)); err != nil {
			return nil, err
		}
		contentsIndex++
	}

	if hasSystem {
		if body, err = sjson.SetBytes(body, "systemInstruction.parts.0.text", systemText); err != nil {
			return nil, err
		}
	}

	if req.Temperature != nil {
		if body, err = sjson.SetBytes(body, "generationConfig.temperature", *req.Temperature); err != nil {
			return nil, err
		}
	}
	if req.TopP != nil {
		if body, err = sjson.SetBytes(body, "generationConfig.topP", *req.TopP); err != nil {
			return nil, err
		}
	}
	if req.MaxTokens != nil {
		if body, err = sjson.SetBytes(body, "generationConfig.maxOutputTokens", *req.MaxTokens); err != nil {
			return nil, err
		}
	}
	if len(req.Stop) > 0 {
		if body, err = sjson.SetBytes(body, "generationConfig.stopSequences", []string(req.Stop)); err != nil {
			return nil, err
		}
	}

	return body, nil
}

func sjsonPath(prefix string, index int) string {
	return prefix + "." + strconv.Itoa(index)
}

// geminiPartsFor renders one message's content as a Gemini parts array:
// a plain-text message becomes a single {"text": ...} part, and a
// multimodal message becomes one part per content block, in order,
// mapping image parts onto Gemini's inlineData shape.
func geminiPartsFor(msg chatmodel.Message) []map[string]any {
	if len(msg.Parts) == 0 {
		return []map[string]any{{"text": msg.Content}}
	}

	parts := make([]map[string]any, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case "text":
			parts = append(parts, map[string]any{"text": p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			mimeType, data := splitDataURL(p.ImageURL.URL)
			parts = append(parts, map[string]any{
				"inlineData": map[string]any{
					"mimeType": mimeType,
					"data":     data,
				},
			})
		}
	}
	return parts
}

// splitDataURL splits a "data:<mime>;base64,<data>" URL into its mime
// type and base64 payload. Non-data URLs are passed through as-is with a
// generic mime type — Gemini's inlineData requires base64 bytes, so a
// bare remote URL can't be translated further here.
func splitDataURL(url string) (mimeType, data string) {
	if !strings.HasPrefix(url, "data:") {
		return "application/octet-stream", url
	}
	rest := strings.TrimPrefix(url, "data:")
	parts := strings.SplitN(rest, ";base64,", 2)
	if len(parts) != 2 {
		return "application/octet-stream", rest
	}
	return parts[0], parts[1]
}

// geminiFinishReasons maps Gemini's finishReason vocabulary onto OpenAI's,
// normalized lowercase. FINISH_REASON_UNSPECIFIED and any
// unrecognized value map to "" (a null finish_reason on the wire).
var geminiFinishReasons = map[string]chatmodel.FinishReason{
	"STOP":       chatmodel.FinishStop,
	"MAX_TOKENS": chatmodel.FinishLength,
	"SAFETY":     chatmodel.FinishContentFilter,
	"RECITATION": chatmodel.FinishContentFilter,
	"OTHER":      chatmodel.FinishStop,
}

// GeminiFinishReason maps one Gemini finishReason string onto the OpenAI
// vocabulary. An unrecognized value (empty string included) maps to "",
// which callers render as a JSON null finish_reason.
func GeminiFinishReason(raw string) chatmodel.FinishReason {
	return geminiFinishReasons[raw]
}

// GeminiResponseToOpenAI translates one complete (non-streaming) Gemini
// generateContent response body into an OpenAI ChatCompletionResponse.
func GeminiResponseToOpenAI(id, model string, raw []byte) *chatmodel.ChatCompletionResponse {
	parsed := gjson.ParseBytes(raw)
	candidates := parsed.Get("candidates").Array()

	resp := &chatmodel.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Model:   model,
		Choices: make([]chatmodel.Choice, 0, len(candidates)),
	}

	for i, candidate := range candidates {
		var text strings.Builder
		for _, part := range candidate.Get("content.parts").Array() {
			text.WriteString(part.Get("text").String())
		}

		resp.Choices = append(resp.Choices, chatmodel.Choice{
			Index: i,
			Message: &chatmodel.Message{
				Role:    chatmodel.RoleAssistant,
				Content: text.String(),
			},
			FinishReason: GeminiFinishReason(candidate.Get("finishReason").String()),
		})
	}

	if usage := parsed.Get("usageMetadata"); usage.Exists() {
		resp.Usage = &chatmodel.Usage{
			PromptTokens:     int(usage.Get("promptTokenCount").Int()),
			CompletionTokens: int(usage.Get("candidatesTokenCount").Int()),
			TotalTokens:      int(usage.Get("totalTokenCount").Int()),
		}
	}

	return resp
}

// GeminiSSEEventToChunk translates one Gemini streamGenerateContent SSE
// event body into an OpenAI chat.completion.chunk.
// roleEmitted tracks whether the role has already been sent on an earlier
// chunk of this same choice — OpenAI only sends role on the first delta.
// ok is false when the event carries no text and no finish reason, in
// which case the caller should emit no chunk at all.
func GeminiSSEEventToChunk(id, model string, raw []byte, roleEmitted *bool) (chunk chatmodel.ChatCompletionChunk, ok bool) {
	parsed := gjson.ParseBytes(raw)
	candidate := parsed.Get("candidates.0")

	var text strings.Builder
	for _, part := range candidate.Get("content.parts").Array() {
		text.WriteString(part.Get("text").String())
	}

	finishRaw := candidate.Get("finishReason").String()

	if text.Len() == 0 && finishRaw == "" {
		return chatmodel.ChatCompletionChunk{}, false
	}

	delta := chatmodel.Message{}
	if !*roleEmitted {
		delta.Role = chatmodel.RoleAssistant
		*roleEmitted = true
	}
	if text.Len() > 0 {
		delta.Content = text.String()
	}

	choice := chatmodel.Choice{Index: 0, Delta: &delta}
	if finishRaw != "" {
		choice.FinishReason = GeminiFinishReason(finishRaw)
	}

	return chatmodel.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Model:   model,
		Choices: []chatmodel.Choice{choice},
	}, true
}
