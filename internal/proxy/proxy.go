package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leanb525/aq2api/internal/chatadapter"
	"github.com/leanb525/aq2api/internal/eventstream"
	"github.com/leanb525/aq2api/internal/observability"
	"github.com/leanb525/aq2api/internal/observability/middleware"
)

// DefaultMaxRequestBytes bounds inbound request bodies.
const DefaultMaxRequestBytes = 10 << 20

// Proxy is the HTTP gateway in front of the vendor chat API.
type Proxy struct {
	handler http.Handler
	server  *http.Server
	addr    net.Addr
}

// Compile-time check that Proxy can be mounted directly
var _ http.Handler = (*Proxy)(nil)

type options struct {
	maxRequestBytes int64
	stream          eventstream.Options
	detection       Detection
	defaultModel    string
	tokenEndpoint   bool
	metrics         *observability.Metrics
	logger          *slog.Logger
	version         string
}

// Option configures a Proxy.
type Option func(*options)

// WithMaxRequestBytes limits inbound bodies.
func WithMaxRequestBytes(n int64) Option {
	return func(o *options) { o.maxRequestBytes = n }
}

// WithStreamOptions configures upstream stream reassembly.
func WithStreamOptions(opts eventstream.Options) Option {
	return func(o *options) { o.stream = opts }
}

// WithDetection configures streaming-intent detection.
func WithDetection(d Detection) Option {
	return func(o *options) { o.detection = d }
}

// WithDefaultModel sets the upstream model used for unknown model names.
func WithDefaultModel(model string) Option {
	return func(o *options) { o.defaultModel = model }
}

// WithTokenEndpoint enables or disables GET /test/token.
func WithTokenEndpoint(enabled bool) Option {
	return func(o *options) { o.tokenEndpoint = enabled }
}

// WithMetrics records metrics and serves them on /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the access log logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithVersion sets the version reported by the index endpoint.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// New creates a Proxy serving the chat, credential, model and health
// endpoints.
func New(tokens TokenService, upstream Upstream, health ReadinessChecker, opts ...Option) (*Proxy, error) {
	if tokens == nil || upstream == nil || health == nil {
		return nil, errors.New("proxy: token service, upstream and readiness checker are required")
	}

	o := options{
		maxRequestBytes: DefaultMaxRequestBytes,
		stream: eventstream.Options{
			MaxBufferSize: eventstream.DefaultMaxBufferSize,
			ChunkSize:     eventstream.DefaultChunkSize,
		},
		detection:     DefaultDetection(),
		defaultModel:  chatadapter.DefaultModel,
		tokenEndpoint: true,
		logger:        slog.Default(),
		version:       "dev",
	}
	for _, opt := range opts {
		opt(&o)
	}

	chat := func(format chatadapter.Format) *ChatHandler {
		return &ChatHandler{
			Format:       format,
			Upstream:     upstream,
			Tokens:       tokens,
			Detection:    o.detection,
			Stream:       o.stream,
			DefaultModel: o.defaultModel,
			Metrics:      o.metrics,
		}
	}

	r := chi.NewRouter()
	r.Get("/", indexHandler(o.version, o.defaultModel))
	r.Get("/health", healthHandler(tokens))
	r.Get("/livez", livenessHandler())
	r.Get("/readyz", readinessHandler(health))
	r.Get("/v1/models", modelsHandler())
	r.Get("/credentials", credentialsStatusHandler(tokens))

	r.Group(func(r chi.Router) {
		r.Use(RequestSizeLimit(o.maxRequestBytes))
		r.Method(http.MethodPost, "/v1/chat/completions", chat(chatadapter.OpenAI))
		r.Method(http.MethodPost, "/v1/messages", chat(chatadapter.Anthropic))
		r.Post("/credentials", setCredentialsHandler(tokens))
	})

	if o.tokenEndpoint {
		r.Get("/test/token", testTokenHandler(tokens))
	}
	if o.metrics != nil {
		r.Handle("/metrics", o.metrics.Handler())
	}

	handler := applyMiddlewares(r,
		middleware.RequestIDGeneration,
		middleware.Logging(o.logger),
		middleware.TraceContextExtraction,
		middleware.RequestIDPropagation,
		Recovery,
	)

	return &Proxy{
		handler: handler,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			// No WriteTimeout: streamed replies can outlive any fixed bound.
			IdleTimeout: 120 * time.Second,
		},
	}, nil
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Start listens on addr and serves in the background. Listen failures are
// returned directly; later serve failures arrive on the returned channel.
func (p *Proxy) Start(ctx context.Context, addr string) (<-chan error, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	p.addr = ln.Addr()
	p.server.BaseContext = func(net.Listener) context.Context {
		return context.WithoutCancel(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		slog.InfoContext(ctx, "proxy listening", "addr", p.addr.String())
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh, nil
}

// Addr returns the listening address once Start succeeded.
func (p *Proxy) Addr() net.Addr {
	return p.addr
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if err := p.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("proxy shutdown: %w", err)
	}
	return nil
}
