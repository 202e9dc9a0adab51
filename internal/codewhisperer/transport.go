package codewhisperer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
)

// TokenSource supplies bearer tokens. Refresh must replace the cached token
// even when it is still considered valid.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (*oauth2.Token, error)
}

// AuthTransport attaches the bearer token to each request and, when the
// upstream answers 403, refreshes the token once and resends the request.
// The second answer is returned as is, whatever its status.
type AuthTransport struct {
	Tokens TokenSource
	Base   http.RoundTripper
	// Observe, when set, is called once per attempt with the upstream status,
	// or zero when no response arrived.
	Observe func(status int)
}

// Compile-time check that AuthTransport implements http.RoundTripper
var _ http.RoundTripper = (*AuthTransport)(nil)

// RoundTrip implements http.RoundTripper. Requests with a body must be
// replayable through GetBody.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, err := t.Tokens.AccessToken(ctx)
	if err != nil {
		return nil, &tokenError{err: err}
	}

	resp, err := t.send(req, token)
	if err != nil || resp.StatusCode != http.StatusForbidden {
		return resp, err
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	slog.WarnContext(ctx, "upstream rejected token, refreshing and retrying once")
	refreshed, err := t.Tokens.Refresh(ctx)
	if err != nil {
		return nil, &TransportError{Status: http.StatusForbidden, Err: fmt.Errorf("token refresh after authorization failure: %w", err)}
	}

	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		req = req.Clone(ctx)
		req.Body = body
	}
	return t.send(req, refreshed.AccessToken)
}

func (t *AuthTransport) send(req *http.Request, token string) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.base().RoundTrip(r)
	if t.Observe != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Observe(status)
	}
	return resp, err
}

func (t *AuthTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// tokenError carries a token source failure through http.Client, which would
// otherwise only expose it as a *url.Error.
type tokenError struct {
	err error
}

func (e *tokenError) Error() string { return e.err.Error() }

func (e *tokenError) Unwrap() error { return e.err }
