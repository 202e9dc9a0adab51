package chatadapter

import (
	"fmt"
	"time"
)

// Format selects the client-facing wire grammar of a response.
//
// Both grammars are rendered from the same fragment pipeline; the Format only
// decides which renderer turns fragments and lifecycle markers into records.
type Format int

const (
	// OpenAI renders chat.completion objects and chat.completion.chunk deltas
	// terminated by a [DONE] sentinel.
	OpenAI Format = iota
	// Anthropic renders Messages API objects and typed message_* events.
	Anthropic
)

func (f Format) String() string {
	switch f {
	case OpenAI:
		return "openai"
	case Anthropic:
		return "anthropic"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Reply is a fully assembled assistant message.
type Reply struct {
	// ID is the response identifier. When empty a format-specific one is generated.
	ID      string
	Model   string
	Text    string
	Created time.Time
}

// Event is one server-sent event record.
type Event struct {
	// Name is the SSE event tag. Empty means a bare data record.
	Name string
	// Data is encoded as JSON when Raw is empty.
	Data any
	// Raw is written verbatim as the data line, e.g. the [DONE] sentinel.
	Raw string
}

// StreamRenderer turns lifecycle markers and fragments of one response into
// SSE events. A renderer belongs to exactly one response stream and is not
// safe for concurrent use.
type StreamRenderer interface {
	// Start returns the events opening the stream.
	Start() []Event
	// Delta returns the events carrying one fragment.
	Delta(fragment string) []Event
	// End returns the events closing a successful stream.
	End() []Event
	// Error returns the events reporting a failure after the stream began.
	Error(err *APIError) []Event
}

// Response renders a buffered reply in the format's response shape.
func (f Format) Response(r Reply) any {
	if r.Created.IsZero() {
		r.Created = time.Now()
	}
	switch f {
	case Anthropic:
		if r.ID == "" {
			r.ID = NewMessageID()
		}
		return newAnthropicMessage(r)
	default:
		if r.ID == "" {
			r.ID = NewCompletionID("")
		}
		return newChatCompletion(r)
	}
}

// NewStreamRenderer creates a renderer for one streamed response.
func (f Format) NewStreamRenderer(id, model string) StreamRenderer {
	switch f {
	case Anthropic:
		if id == "" {
			id = NewMessageID()
		}
		return &anthropicRenderer{id: id, model: model}
	default:
		if id == "" {
			id = NewCompletionID("")
		}
		return &openAIRenderer{id: id, model: model, created: time.Now().Unix()}
	}
}

// ErrorBody renders err in the format's error envelope.
func (f Format) ErrorBody(err *APIError) any {
	switch f {
	case Anthropic:
		return &AnthropicErrorResponse{
			Type: "error",
			Err:  AnthropicError{Type: err.Type, Message: err.Message},
		}
	default:
		return &ChatCompletionErrorResponse{
			Err: &ChatCompletionError{Message: err.Message, Type: err.Type, Code: err.Code},
		}
	}
}
