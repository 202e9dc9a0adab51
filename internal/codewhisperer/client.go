package codewhisperer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultEndpoint is the vendor chat service.
const DefaultEndpoint = "https://codewhisperer.us-east-1.amazonaws.com"

const generatePath = "/generateAssistantResponse"

// TransportError reports a failed chat call, including a rejection that
// persisted after the single token refresh. Status is zero when no response
// arrived.
type TransportError struct {
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream request failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("upstream request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Request is one chat turn.
type Request struct {
	Prompt         string
	ConversationID string
	ModelID        string
	// ProfileARN is sent only when set.
	ProfileARN string
}

// Client sends chat requests through an AuthTransport.
type Client struct {
	endpoint        string
	httpClient      *http.Client
	timeout         time.Duration
	operatingSystem string
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides DefaultEndpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithTimeout bounds each call. Buffered calls must complete within it;
// streaming calls must deliver headers within it and never stay silent
// longer than it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithOperatingSystem sets the operating system reported in the envelope.
func WithOperatingSystem(os string) Option {
	return func(c *Client) { c.operatingSystem = os }
}

// New creates a Client. The transport chain must handle authentication,
// normally through an AuthTransport.
func New(transport http.RoundTripper, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}

	c := &Client{
		endpoint: DefaultEndpoint,
		// Timeout = 0; deadlines are applied per call so streams are not cut.
		httpClient:      &http.Client{Transport: transport},
		timeout:         60 * time.Second,
		operatingSystem: "linux",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate sends req and returns the complete event-stream body.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	slog.DebugContext(ctx, "upstream response received", "bytes", len(body))
	return string(body), nil
}

// Stream sends req and returns the response body for incremental reading.
// The caller must close it; closing stops the upstream transfer.
func (c *Client) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)

	var timedOut atomic.Bool
	timer := time.AfterFunc(c.timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	resp, err := c.do(ctx, req)
	if err != nil {
		timer.Stop()
		cancel()
		if timedOut.Load() {
			return nil, &TransportError{Err: fmt.Errorf("no response within %s: %w", c.timeout, context.DeadlineExceeded)}
		}
		return nil, err
	}

	timer.Stop()
	return &idleBody{
		rc:       resp.Body,
		timer:    timer,
		timeout:  c.timeout,
		timedOut: &timedOut,
		cancel:   cancel,
	}, nil
}

// do sends req and returns a response with a 2xx status.
func (c *Client) do(ctx context.Context, req Request) (*http.Response, error) {
	payload, err := json.Marshal(newEnvelope(req, c.operatingSystem))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	// bytes.Reader bodies get a GetBody, so the auth transport can resend.
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+generatePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-amzn-codewhisperer-optout", "false")

	slog.DebugContext(ctx, "sending upstream request",
		"conversation_id", req.ConversationID,
		"model_id", req.ModelID,
		"prompt_length", len(req.Prompt),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		var tokenErr *tokenError
		if errors.As(err, &tokenErr) {
			return nil, tokenErr.err
		}
		var transportErr *TransportError
		if errors.As(err, &transportErr) {
			return nil, transportErr
		}
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.WarnContext(ctx, "upstream request rejected", "status", resp.StatusCode, "body", string(snippet))
		return nil, &TransportError{Status: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(snippet)))}
	}
	return resp, nil
}

// idleBody cancels the call when a read waits longer than timeout. Time
// spent between reads is not counted.
type idleBody struct {
	rc       io.ReadCloser
	timer    *time.Timer
	timeout  time.Duration
	timedOut *atomic.Bool
	cancel   context.CancelFunc
}

func (b *idleBody) Read(p []byte) (int, error) {
	b.timer.Reset(b.timeout)
	n, err := b.rc.Read(p)
	b.timer.Stop()

	switch {
	case err == nil, err == io.EOF:
		return n, err
	case b.timedOut.Load():
		return n, &TransportError{Err: fmt.Errorf("upstream idle for %s: %w", b.timeout, context.DeadlineExceeded)}
	default:
		return n, &TransportError{Err: fmt.Errorf("reading response: %w", err)}
	}
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	b.cancel()
	return b.rc.Close()
}
