package chatadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ChatRequest holds the fields of an inbound chat request the gateway uses.
// OpenAI and Anthropic requests share this shape; everything else in the body
// is ignored.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// Message is a client chat message. Content is kept raw because it is either
// a string or a list of typed parts.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DecodeRequest parses an inbound body. It fails with a ClientInputError when
// the body is not a JSON object or carries no messages.
func DecodeRequest(body []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &ClientInputError{Reason: "body is not a valid chat request", Err: err}
	}
	if len(req.Messages) == 0 {
		return nil, &ClientInputError{Reason: "messages must not be empty"}
	}
	return &req, nil
}

// NormalizePrompt flattens a message list into the single prompt the upstream
// accepts: the content of the last user message. List content contributes the
// text of its "text" parts joined by single spaces. Without a user message the
// prompt is empty.
func NormalizePrompt(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		return contentText(messages[i].Content)
	}
	return ""
}

func contentText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return ""
		}
		texts := make([]string, 0, len(items))
		for _, item := range items {
			var part contentPart
			if err := json.Unmarshal(item, &part); err != nil {
				// Non-object entries carry no text.
				continue
			}
			if part.Type == "text" {
				texts = append(texts, part.Text)
			}
		}
		return strings.Join(texts, " ")
	}
	return ""
}

// IsClientInputError reports whether err is a ClientInputError.
func IsClientInputError(err error) bool {
	var target *ClientInputError
	return errors.As(err, &target)
}
