package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies log records exported over OTLP.
const instrumentationName = "github.com/leanb525/aq2api"

// OTLP export protocols.
const (
	ProtocolHTTP   = "http"
	ProtocolGRPC   = "grpc"
	ProtocolStdout = "stdout"
)

// OTLPConfig enables log export. An empty Endpoint disables it unless
// Protocol is stdout.
type OTLPConfig struct {
	Endpoint string `koanf:"endpoint"`
	Protocol string `koanf:"protocol" validate:"omitempty,oneof=http grpc stdout"`
}

func (c OTLPConfig) enabled() bool {
	return c.Endpoint != "" || c.Protocol == ProtocolStdout
}

// Config describes the logging pipeline.
type Config struct {
	Level  slog.Level
	Format string
	OTLP   OTLPConfig
	// Output defaults to os.Stdout.
	Output io.Writer
}

// Instrument installs the default slog logger. Records go to the console in
// Format and, when configured, to an OTLP log exporter. Both outputs are
// enriched with request_id, trace_id and span_id. W3C trace context is
// installed as the global propagator.
//
// The returned function flushes and stops the exporter.
func Instrument(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	handler, err := newStdoutHandler(out, cfg.Level, cfg.Format)
	if err != nil {
		return nil, err
	}

	shutdown := func(context.Context) error { return nil }
	if cfg.OTLP.enabled() {
		provider, err := newLoggerProvider(ctx, cfg.OTLP, cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("setting up OTLP log export: %w", err)
		}
		otelHandler := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))
		handler = newFanoutHandler(handler, otelHandler)
		shutdown = provider.Shutdown
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	slog.SetDefault(slog.New(newContextHandler(handler)))

	return shutdown, nil
}

// newStdoutHandler creates a handler for human-readable logs.
func newStdoutHandler(w io.Writer, level slog.Level, logFormat string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected: json, text)", logFormat)
	}

	return handler, nil
}

// newLoggerProvider builds a batching OTLP pipeline that drops records below
// level before they reach the exporter.
func newLoggerProvider(ctx context.Context, cfg OTLPConfig, level slog.Level) (*sdklog.LoggerProvider, error) {
	var (
		exporter sdklog.Exporter
		err      error
	)
	switch strings.ToLower(cfg.Protocol) {
	case ProtocolHTTP, "":
		exporter, err = otlploghttp.New(ctx, otlploghttp.WithEndpointURL(cfg.Endpoint))
	case ProtocolGRPC:
		exporter, err = otlploggrpc.New(ctx, otlploggrpc.WithEndpointURL(cfg.Endpoint))
	case ProtocolStdout:
		exporter, err = stdoutlog.New()
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q (expected: http, grpc, stdout)", cfg.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s exporter: %w", cfg.Protocol, err)
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severity(level))
	return sdklog.NewLoggerProvider(sdklog.WithProcessor(processor)), nil
}

// severity maps a slog level onto the OpenTelemetry severity scale.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level < slog.LevelInfo:
		return minsev.SeverityDebug
	case level < slog.LevelWarn:
		return minsev.SeverityInfo
	case level < slog.LevelError:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

// fanoutHandler passes every record to all handlers that accept its level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func newFanoutHandler(handlers ...slog.Handler) *fanoutHandler {
	return &fanoutHandler{handlers: handlers}
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: handlers}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: handlers}
}
