package proxy

import (
	"cmp"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/leanb525/aq2api/internal/chatadapter"
	"github.com/leanb525/aq2api/internal/codewhisperer"
	"github.com/leanb525/aq2api/internal/eventstream"
	"github.com/leanb525/aq2api/internal/observability"
	"github.com/leanb525/aq2api/internal/observability/middleware"
)

// Upstream sends a prompt to the vendor chat endpoint.
type Upstream interface {
	// Generate returns the complete event-stream body.
	Generate(ctx context.Context, req codewhisperer.Request) (string, error)
	// Stream returns the body for incremental reading.
	Stream(ctx context.Context, req codewhisperer.Request) (io.ReadCloser, error)
}

// ChatHandler serves one chat endpoint. OpenAI and Anthropic requests share
// the pipeline; Format selects the response grammar.
type ChatHandler struct {
	Format       chatadapter.Format
	Upstream     Upstream
	Tokens       TokenService
	Detection    Detection
	Stream       eventstream.Options
	DefaultModel string
	Metrics      *observability.Metrics
}

// Compile-time check to ensure ChatHandler implements http.Handler
var _ http.Handler = (*ChatHandler)(nil)

// ServeHTTP implements http.Handler interface for streaming or non-streaming requests.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.WarnContext(ctx, "failed to read request body", "error", err)
		h.fail(ctx, w, false, classifyError(err))
		return
	}

	req, err := chatadapter.DecodeRequest(body)
	if err != nil {
		slog.WarnContext(ctx, "rejected chat request", "error", err)
		h.fail(ctx, w, false, classifyError(err))
		return
	}

	streaming, hint := detectStreaming(r, body, h.Format, h.Detection)

	prompt := chatadapter.NormalizePrompt(req.Messages)
	if prompt == "" {
		h.fail(ctx, w, streaming, chatadapter.NewInvalidRequest("no user message with text content"))
		return
	}

	model := cmp.Or(req.Model, h.DefaultModel, chatadapter.DefaultModel)
	upstreamReq := codewhisperer.Request{
		Prompt:         prompt,
		ConversationID: uuid.NewString(),
		ModelID:        chatadapter.ResolveModel(req.Model, h.DefaultModel),
		ProfileARN:     h.Tokens.ProfileARN(),
	}

	middleware.SetLogAttrs(ctx,
		slog.String("format", h.Format.String()),
		slog.Bool("stream", streaming),
		slog.String("model", model),
	)
	slog.DebugContext(ctx, "chat request accepted",
		"stream_hint", hint,
		"messages", len(req.Messages),
		"conversation_id", upstreamReq.ConversationID,
		"model_id", upstreamReq.ModelID,
	)

	if streaming {
		h.streamResponse(ctx, w, upstreamReq, model)
	} else {
		h.writeResponse(ctx, w, upstreamReq, model)
	}
}

func (h *ChatHandler) fail(ctx context.Context, w http.ResponseWriter, streaming bool, apiErr *chatadapter.APIError) {
	h.Metrics.ObserveRequest(h.Format.String(), streaming, apiErr.Status)
	writeAPIError(ctx, w, h.Format, apiErr)
}

// responseID keeps the OpenAI id tied to the upstream conversation.
func (h *ChatHandler) responseID(conversationID string) string {
	if h.Format == chatadapter.OpenAI {
		return chatadapter.NewCompletionID(conversationID)
	}
	return chatadapter.NewMessageID()
}

// writeResponse handles non-streaming chat requests.
func (h *ChatHandler) writeResponse(ctx context.Context, w http.ResponseWriter, req codewhisperer.Request, model string) {
	raw, err := h.Upstream.Generate(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "upstream request failed", "error", err)
		h.fail(ctx, w, false, classifyError(err))
		return
	}

	text, stats := eventstream.ParseBody([]byte(raw), h.Stream)
	h.Metrics.ObserveReassembly(stats.Malformed, stats.Truncations)
	slog.DebugContext(ctx, "upstream body parsed",
		"fragments", stats.Fragments,
		"malformed", stats.Malformed,
		"reply_length", len(text),
	)

	reply := chatadapter.Reply{ID: h.responseID(req.ConversationID), Model: model, Text: text}
	h.Metrics.ObserveRequest(h.Format.String(), false, http.StatusOK)
	writeJSON(ctx, w, h.Format.Response(reply), http.StatusOK)
}

// streamResponse relays fragments as SSE events while they arrive.
func (h *ChatHandler) streamResponse(ctx context.Context, w http.ResponseWriter, req codewhisperer.Request, model string) {
	body, err := h.Upstream.Stream(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "upstream streaming request failed", "error", err)
		h.fail(ctx, w, true, classifyError(err))
		return
	}
	// Closing the body stops the upstream transfer when the client leaves.
	defer func() { _ = body.Close() }()

	sse, err := NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		h.Metrics.ObserveRequest(h.Format.String(), true, http.StatusInternalServerError)
		return
	}
	h.Metrics.ObserveRequest(h.Format.String(), true, http.StatusOK)
	defer h.Metrics.StreamStarted()()

	renderer := h.Format.NewStreamRenderer(h.responseID(req.ConversationID), model)
	if err := sse.WriteAll(renderer.Start()); err != nil {
		slog.DebugContext(ctx, "client disconnected before first event", "error", err)
		return
	}

	stream := eventstream.NewStream(body, h.Stream)
	defer func() {
		stats := stream.Stats()
		h.Metrics.ObserveReassembly(stats.Malformed, stats.Truncations)
		slog.DebugContext(ctx, "stream finished",
			"fragments", stats.Fragments,
			"malformed", stats.Malformed,
			"truncations", stats.Truncations,
		)
	}()

	for fragment, err := range stream.Fragments(ctx) {
		if err != nil {
			// Check for client disconnect before reporting upstream failures
			if ctx.Err() != nil {
				slog.DebugContext(ctx, "client disconnected during stream")
				return
			}
			slog.ErrorContext(ctx, "stream error", "error", err)
			// OpenAI SDK recognizes {"error": {...}} format and stops reading immediately
			if writeErr := sse.WriteAll(renderer.Error(classifyError(err))); writeErr != nil {
				slog.ErrorContext(ctx, "failed to write error event", "error", writeErr)
			}
			return
		}

		if err := sse.WriteAll(renderer.Delta(fragment)); err != nil {
			slog.DebugContext(ctx, "failed to write chunk", "error", err)
			return
		}
	}

	if err := sse.WriteAll(renderer.End()); err != nil {
		slog.ErrorContext(ctx, "failed to write stream termination", "error", err)
	}
}
