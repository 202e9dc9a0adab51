package chatadapter

import (
	"crypto/rand"
	"encoding/base64"
)

const (
	finishReasonStop = "stop"
	doneSentinel     = "[DONE]"
)

// ChatCompletion is the buffered OpenAI response object.
type ChatCompletion struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   CompletionUsage        `json:"usage"`
}

type ChatCompletionChoice struct {
	Index        int                   `json:"index"`
	Message      ChatCompletionMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionUsage is always zero; the upstream does not report token counts.
type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one streamed OpenAI delta record.
type ChatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

type ChatCompletionChunkChoice struct {
	Index        int                      `json:"index"`
	Delta        ChatCompletionChunkDelta `json:"delta"`
	FinishReason *string                  `json:"finish_reason"`
}

type ChatCompletionChunkDelta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// NewCompletionID returns chatcmpl-<first 8 chars of conversationID>, or a
// random token when no conversation id is known.
func NewCompletionID(conversationID string) string {
	if conversationID != "" {
		return "chatcmpl-" + conversationID[:min(8, len(conversationID))]
	}
	b := make([]byte, 24) // 24 bytes yields 32 URL-safe base64 characters
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return "chatcmpl-" + base64.RawURLEncoding.EncodeToString(b)
}

func newChatCompletion(r Reply) *ChatCompletion {
	return &ChatCompletion{
		ID:      r.ID,
		Object:  "chat.completion",
		Created: r.Created.Unix(),
		Model:   r.Model,
		Choices: []ChatCompletionChoice{{
			Index:        0,
			Message:      ChatCompletionMessage{Role: "assistant", Content: r.Text},
			FinishReason: finishReasonStop,
		}},
	}
}

type openAIRenderer struct {
	id      string
	model   string
	created int64
}

var _ StreamRenderer = (*openAIRenderer)(nil)

func (r *openAIRenderer) chunk(delta ChatCompletionChunkDelta, finishReason *string) Event {
	return Event{Data: &ChatCompletionChunk{
		ID:      r.id,
		Object:  "chat.completion.chunk",
		Created: r.created,
		Model:   r.model,
		Choices: []ChatCompletionChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}}
}

func (r *openAIRenderer) Start() []Event {
	empty := ""
	return []Event{r.chunk(ChatCompletionChunkDelta{Role: "assistant", Content: &empty}, nil)}
}

func (r *openAIRenderer) Delta(fragment string) []Event {
	return []Event{r.chunk(ChatCompletionChunkDelta{Content: &fragment}, nil)}
}

func (r *openAIRenderer) End() []Event {
	stop := finishReasonStop
	return []Event{
		r.chunk(ChatCompletionChunkDelta{}, &stop),
		{Raw: doneSentinel},
	}
}

// Error emits {"error":{...}} under an error event tag. No [DONE] follows.
func (r *openAIRenderer) Error(err *APIError) []Event {
	return []Event{{Name: "error", Data: OpenAI.ErrorBody(err)}}
}

