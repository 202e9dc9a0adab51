package chatadapter

import (
	"fmt"
	"net/http"
)

// Error types shared by both client grammars.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeAuthentication = "authentication_error"
	TypeAPI            = "api_error"
)

// ClientInputError reports an inbound request that cannot be served: an
// undecodable body or an empty message list.
type ClientInputError struct {
	Reason string
	Err    error
}

func (e *ClientInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid request: %s: %v", e.Reason, e.Err)
	}
	return "invalid request: " + e.Reason
}

func (e *ClientInputError) Unwrap() error {
	return e.Err
}

// APIError is a failure classified for the request boundary. It carries the
// HTTP status and the error type/code rendered into the client's envelope.
type APIError struct {
	Status  int
	Type    string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewInvalidRequest returns the client-facing error for bad input.
func NewInvalidRequest(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Type: TypeInvalidRequest, Message: message}
}

// ChatCompletionError represents an OpenAI-formatted error for chat completion endpoints.
type ChatCompletionError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// Error implements the error interface, returning the error message.
func (e *ChatCompletionError) Error() string {
	return e.Message
}

// ChatCompletionErrorResponse wraps ChatCompletionError as {"error": {...}}.
// The OpenAI SDK recognizes this shape in SSE data and stops reading.
type ChatCompletionErrorResponse struct {
	Err *ChatCompletionError `json:"error"`
}

func (e *ChatCompletionErrorResponse) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Message
}

// AnthropicError is the error object of the Messages API.
type AnthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicErrorResponse is {"type":"error","error":{...}}, used both as a
// response body and as the payload of an SSE error event.
type AnthropicErrorResponse struct {
	Type string         `json:"type"`
	Err  AnthropicError `json:"error"`
}

func (e *AnthropicErrorResponse) Error() string {
	return e.Err.Message
}
