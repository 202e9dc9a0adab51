package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/trace"

	"github.com/leanb525/aq2api/internal/observability/middleware"
)

func TestNewStdoutHandler(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
	}{
		{format: "json"},
		{format: "TEXT"},
		{format: ""},
		{format: "yaml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			h, err := newStdoutHandler(&bytes.Buffer{}, slog.LevelInfo, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
		})
	}
}

func TestContextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newContextHandler(slog.NewJSONHandler(&buf, nil)))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.InfoContext(ctx, "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", record["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", record["span_id"])
	assert.NotContains(t, record, "request_id")
}

func TestContextHandler_RequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newContextHandler(slog.NewJSONHandler(&buf, nil)))

	var ctx context.Context
	h := middleware.RequestIDGeneration(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.HeaderRequestID, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	logger.InfoContext(ctx, "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "req-42", record["request_id"])
}

func TestFanoutHandler(t *testing.T) {
	var info, debug bytes.Buffer
	h := newFanoutHandler(
		slog.NewJSONHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	logger := slog.New(h).With("component", "test")

	logger.Debug("only debug")
	logger.Info("both")

	assert.NotContains(t, info.String(), "only debug")
	assert.Contains(t, info.String(), `"component":"test"`)
	assert.Contains(t, debug.String(), "only debug")
	assert.Contains(t, debug.String(), "both")
}

func TestInstrument(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	shutdown, err := Instrument(context.Background(), Config{Level: slog.LevelWarn, Format: "json", Output: &buf})
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	slog.Info("dropped")
	slog.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestInstrument_RejectsUnknownProtocol(t *testing.T) {
	_, err := Instrument(context.Background(), Config{
		Format: "text",
		OTLP:   OTLPConfig{Endpoint: "http://localhost:4318", Protocol: "carrier-pigeon"},
		Output: &bytes.Buffer{},
	})
	assert.ErrorContains(t, err, "unsupported OTLP protocol")
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, minsev.SeverityDebug, severity(slog.LevelDebug))
	assert.Equal(t, minsev.SeverityInfo, severity(slog.LevelInfo))
	assert.Equal(t, minsev.SeverityWarn, severity(slog.LevelWarn+1))
	assert.Equal(t, minsev.SeverityError, severity(slog.LevelError))
}
