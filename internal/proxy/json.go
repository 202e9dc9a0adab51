package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/leanb525/aq2api/internal/chatadapter"
	"github.com/leanb525/aq2api/internal/codewhisperer"
	"github.com/leanb525/aq2api/internal/tokensource"
)

// Error codes rendered alongside the error type.
const (
	codeCredentialsNotConfigured = "credentials_not_configured"
	codeTokenRefreshFailed       = "token_refresh_failed"
	codeServiceUnavailable       = "service_unavailable"
	codeInternalError            = "internal_error"
)

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeAPIError writes apiErr in the error envelope of format.
func writeAPIError(ctx context.Context, w http.ResponseWriter, format chatadapter.Format, apiErr *chatadapter.APIError) {
	writeJSON(ctx, w, format.ErrorBody(apiErr), apiErr.Status)
}

// classifyError maps an error reaching the request boundary to the status
// and error type shown to the client.
//
// A transport error is checked first: when the refresh forced by a rejected
// token fails, the refresh error travels inside it and the call still counts
// as an upstream failure.
func classifyError(err error) *chatadapter.APIError {
	var (
		apiErr       *chatadapter.APIError
		inputErr     *chatadapter.ClientInputError
		transportErr *codewhisperer.TransportError
		configErr    *tokensource.ConfigurationError
		refreshErr   *tokensource.RefreshError
		maxBytesErr  *http.MaxBytesError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &maxBytesErr):
		return &chatadapter.APIError{
			Status:  http.StatusRequestEntityTooLarge,
			Type:    chatadapter.TypeInvalidRequest,
			Message: http.StatusText(http.StatusRequestEntityTooLarge),
		}
	case errors.As(err, &inputErr):
		return chatadapter.NewInvalidRequest(inputErr.Error())
	case errors.As(err, &transportErr):
		return &chatadapter.APIError{
			Status:  http.StatusServiceUnavailable,
			Type:    chatadapter.TypeAPI,
			Code:    codeServiceUnavailable,
			Message: transportErr.Error(),
		}
	case errors.As(err, &configErr):
		return &chatadapter.APIError{
			Status:  http.StatusServiceUnavailable,
			Type:    chatadapter.TypeAPI,
			Code:    codeCredentialsNotConfigured,
			Message: configErr.Error(),
		}
	case errors.As(err, &refreshErr):
		return &chatadapter.APIError{
			Status:  http.StatusBadGateway,
			Type:    chatadapter.TypeAuthentication,
			Code:    codeTokenRefreshFailed,
			Message: refreshErr.Error(),
		}
	default:
		return &chatadapter.APIError{
			Status:  http.StatusInternalServerError,
			Type:    chatadapter.TypeAPI,
			Code:    codeInternalError,
			Message: http.StatusText(http.StatusInternalServerError),
		}
	}
}
