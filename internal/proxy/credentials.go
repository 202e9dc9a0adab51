package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/leanb525/aq2api/internal/chatadapter"
	"github.com/leanb525/aq2api/internal/credentials"
	"github.com/leanb525/aq2api/internal/tokensource"
)

// TokenService is the process-wide credential and token state.
type TokenService interface {
	AccessToken(ctx context.Context) (string, error)
	Reset()
	SetCredentials(ctx context.Context, creds *credentials.Credentials) error
	Status() tokensource.Status
	ProfileARN() string
	Cached() *oauth2.Token
}

// Compile-time check that the token service satisfies TokenService
var _ TokenService = (*tokensource.Service)(nil)

type credentialsStatus struct {
	HasCredentials bool       `json:"has_credentials"`
	HasAccessToken bool       `json:"has_access_token"`
	HasProfileARN  bool       `json:"has_profile_arn"`
	TokenExpiry    *time.Time `json:"token_expiry"`
}

// setCredentialsHandler replaces the stored credentials. Field names may be
// snake_case or camelCase. Secret values are never echoed back.
func setCredentialsHandler(tokens TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeAPIError(ctx, w, chatadapter.OpenAI, classifyError(err))
			return
		}

		var creds credentials.Credentials
		if err := json.Unmarshal(body, &creds); err != nil {
			writeAPIError(ctx, w, chatadapter.OpenAI, chatadapter.NewInvalidRequest("body must be a JSON object"))
			return
		}

		if err := tokens.SetCredentials(ctx, &creds); err != nil {
			var missing *credentials.MissingFieldsError
			if errors.As(err, &missing) {
				writeAPIError(ctx, w, chatadapter.OpenAI, chatadapter.NewInvalidRequest(missing.Error()))
				return
			}
			slog.ErrorContext(ctx, "failed to store credentials", "error", err)
			writeAPIError(ctx, w, chatadapter.OpenAI, classifyError(err))
			return
		}

		writeJSON(ctx, w, map[string]any{
			"message":         "credentials updated",
			"has_profile_arn": creds.ProfileARN != "",
		}, http.StatusOK)
	}
}

// credentialsStatusHandler reports which credentials are present.
func credentialsStatusHandler(tokens TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := tokens.Status()
		writeJSON(r.Context(), w, credentialsStatus{
			HasCredentials: st.HasCredentials,
			HasAccessToken: st.HasAccessToken,
			HasProfileARN:  st.HasProfileARN,
			TokenExpiry:    expiryOrNil(st.Expiry),
		}, http.StatusOK)
	}
}

// tokenPreviewLength is how much of a token the debug endpoint reveals.
const tokenPreviewLength = 30

// testTokenHandler discards the cached token and obtains a fresh one.
// Debug aid; disabled through configuration.
func testTokenHandler(tokens TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		slog.InfoContext(ctx, "forcing token refresh from debug endpoint")
		tokens.Reset()

		token, err := tokens.AccessToken(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "debug token refresh failed", "error", err)
			apiErr := classifyError(err)
			writeJSON(ctx, w, map[string]any{
				"success":    false,
				"error":      err.Error(),
				"error_type": apiErr.Code,
			}, apiErr.Status)
			return
		}

		preview := token
		if len(preview) > tokenPreviewLength {
			preview = preview[:tokenPreviewLength] + "..."
		}

		var expiry *time.Time
		if cached := tokens.Cached(); cached != nil {
			expiry = expiryOrNil(cached.Expiry)
		}

		writeJSON(ctx, w, map[string]any{
			"success":       true,
			"token_preview": preview,
			"token_length":  len(token),
			"token_expiry":  expiry,
		}, http.StatusOK)
	}
}

func expiryOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
