package chatadapter

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/google/uuid"
)

// AnthropicMessage is the Messages API response object. Constant-typed fields
// marshal to their fixed values.
type AnthropicMessage struct {
	ID           string                `json:"id"`
	Type         constant.Message      `json:"type"`
	Role         constant.Assistant    `json:"role"`
	Content      []AnthropicTextBlock  `json:"content"`
	Model        string                `json:"model"`
	StopReason   *anthropic.StopReason `json:"stop_reason"`
	StopSequence *string               `json:"stop_sequence"`
	Usage        AnthropicUsage        `json:"usage"`
}

type AnthropicTextBlock struct {
	Type constant.Text `json:"type"`
	Text string        `json:"text"`
}

// AnthropicUsage is always zero; the upstream does not report token counts.
type AnthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type MessageStartEvent struct {
	Type    constant.MessageStart `json:"type"`
	Message AnthropicMessage      `json:"message"`
}

type ContentBlockStartEvent struct {
	Type         constant.ContentBlockStart `json:"type"`
	Index        int                        `json:"index"`
	ContentBlock AnthropicTextBlock         `json:"content_block"`
}

type ContentBlockDeltaEvent struct {
	Type  constant.ContentBlockDelta `json:"type"`
	Index int                        `json:"index"`
	Delta TextDelta                  `json:"delta"`
}

type TextDelta struct {
	Type constant.TextDelta `json:"type"`
	Text string             `json:"text"`
}

type ContentBlockStopEvent struct {
	Type  constant.ContentBlockStop `json:"type"`
	Index int                       `json:"index"`
}

type MessageDeltaEvent struct {
	Type  constant.MessageDelta `json:"type"`
	Delta MessageDelta          `json:"delta"`
	Usage MessageDeltaUsage     `json:"usage"`
}

type MessageDelta struct {
	StopReason   anthropic.StopReason `json:"stop_reason"`
	StopSequence *string              `json:"stop_sequence"`
}

type MessageDeltaUsage struct {
	OutputTokens int64 `json:"output_tokens"`
}

// MessageStopEvent closes the stream. Message repeats the whole reply for
// clients that read the final block instead of accumulating deltas.
type MessageStopEvent struct {
	Type    constant.MessageStop `json:"type"`
	Message AnthropicMessage     `json:"message"`
}

// NewMessageID returns msg_<32 hex chars>.
func NewMessageID() string {
	id := uuid.New()
	return "msg_" + strings.ReplaceAll(id.String(), "-", "")
}

func newAnthropicMessage(r Reply) *AnthropicMessage {
	stop := anthropic.StopReasonEndTurn
	return &AnthropicMessage{
		ID:         r.ID,
		Content:    []AnthropicTextBlock{{Text: r.Text}},
		Model:      r.Model,
		StopReason: &stop,
	}
}

type anthropicRenderer struct {
	id    string
	model string
	text  strings.Builder
}

var _ StreamRenderer = (*anthropicRenderer)(nil)

// eventName returns the fixed value of a constant type, which doubles as the
// SSE event tag.
func eventName[T interface {
	~string
	Default() T
}]() string {
	var t T
	return string(t.Default())
}

func (r *anthropicRenderer) message(content []AnthropicTextBlock, stop *anthropic.StopReason) AnthropicMessage {
	if content == nil {
		content = []AnthropicTextBlock{}
	}
	return AnthropicMessage{
		ID:         r.id,
		Content:    content,
		Model:      r.model,
		StopReason: stop,
	}
}

func (r *anthropicRenderer) Start() []Event {
	return []Event{
		{
			Name: eventName[constant.MessageStart](),
			Data: &MessageStartEvent{Message: r.message(nil, nil)},
		},
		{
			Name: eventName[constant.ContentBlockStart](),
			Data: &ContentBlockStartEvent{Index: 0},
		},
	}
}

func (r *anthropicRenderer) Delta(fragment string) []Event {
	r.text.WriteString(fragment)
	return []Event{{
		Name: eventName[constant.ContentBlockDelta](),
		Data: &ContentBlockDeltaEvent{Index: 0, Delta: TextDelta{Text: fragment}},
	}}
}

func (r *anthropicRenderer) End() []Event {
	stop := anthropic.StopReasonEndTurn
	return []Event{
		{
			Name: eventName[constant.ContentBlockStop](),
			Data: &ContentBlockStopEvent{Index: 0},
		},
		{
			Name: eventName[constant.MessageDelta](),
			Data: &MessageDeltaEvent{Delta: MessageDelta{StopReason: stop}},
		},
		{
			Name: eventName[constant.MessageStop](),
			Data: &MessageStopEvent{
				Message: r.message([]AnthropicTextBlock{{Text: r.text.String()}}, &stop),
			},
		},
	}
}

// Error emits a typed error event. No message_stop follows.
func (r *anthropicRenderer) Error(err *APIError) []Event {
	return []Event{{Name: eventName[constant.Error](), Data: Anthropic.ErrorBody(err)}}
}
