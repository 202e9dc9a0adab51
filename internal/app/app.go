package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leanb525/aq2api/internal/codewhisperer"
	"github.com/leanb525/aq2api/internal/credentials/clidb"
	"github.com/leanb525/aq2api/internal/observability"
	"github.com/leanb525/aq2api/internal/proxy"
	"github.com/leanb525/aq2api/internal/tokensource"
)

// shutdownTimeout bounds graceful shutdown. Streams still open afterwards
// are cut.
const shutdownTimeout = 10 * time.Second

// App orchestrates the lifecycle of the proxy server and related services.
type App struct {
	cfg     *Config
	tokens  *tokensource.Service
	proxy   *proxy.Proxy
	health  *Health
	metrics *observability.Metrics
}

// New wires the credential store, token service, upstream client and proxy
// from cfg.
func New(cfg *Config, version string) (*App, error) {
	metrics := observability.NewMetrics()

	store, err := cfg.Auth.NewCredentialStore()
	if err != nil {
		return nil, err
	}

	oidc, err := cfg.Auth.NewOIDCClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC client: %w", err)
	}

	serviceOpts := []tokensource.Option{
		tokensource.WithRefreshMargin(cfg.Auth.RefreshMargin),
		tokensource.WithRefreshTimeout(cfg.Auth.RefreshTimeout),
		tokensource.WithRefreshObserver(metrics.ObserveRefresh),
	}
	if cfg.Auth.LocalSource {
		serviceOpts = append(serviceOpts, tokensource.WithLocalSource(clidb.NewReader(cfg.Auth.CLIDBPaths...)))
	}
	tokens := tokensource.NewService(store, oidc, serviceOpts...)

	// The upstream shares the TLS policy but not the overall client timeout;
	// stream deadlines are enforced by the client itself.
	upstreamHTTP, err := tokensource.NewHTTPClient(cfg.Auth.TLS, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to configure upstream TLS: %w", err)
	}
	upstream, err := codewhisperer.New(
		&codewhisperer.AuthTransport{
			Tokens:  tokens,
			Base:    upstreamHTTP.Transport,
			Observe: metrics.ObserveUpstream,
		},
		codewhisperer.WithEndpoint(cfg.Upstream.Endpoint),
		codewhisperer.WithTimeout(cfg.Upstream.Timeout),
		codewhisperer.WithOperatingSystem(cfg.Upstream.OperatingSystem),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	health := NewHealth()
	proxyServer, err := proxy.New(tokens, upstream, health,
		proxy.WithMaxRequestBytes(cfg.Server.MaxRequestBytes),
		proxy.WithStreamOptions(cfg.StreamOptions()),
		proxy.WithDetection(cfg.Stream.Detection),
		proxy.WithDefaultModel(cfg.Upstream.DefaultModel),
		proxy.WithTokenEndpoint(cfg.Debug.EnableTokenEndpoint),
		proxy.WithMetrics(metrics),
		proxy.WithVersion(version),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:     cfg,
		tokens:  tokens,
		proxy:   proxyServer,
		health:  health,
		metrics: metrics,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	if err := a.tokens.Load(gCtx); err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	if st := a.tokens.Status(); !st.HasCredentials && !st.HasAccessToken && !a.cfg.Auth.LocalSource {
		slog.WarnContext(gCtx, "no credentials configured; POST /credentials or run 'aq2api auth login'")
	}

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting proxy server", "listen", a.cfg.Server.Listen)
	proxyErrCh, err := a.proxy.Start(gCtx, a.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)
	a.health.SetReady(true)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	runtimeErr := g.Wait()

	a.health.SetReady(false)
	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// Addr returns the listening address after Start bound it.
func (a *App) Addr() string {
	if addr := a.proxy.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Ready reports whether the proxy accepts traffic.
func (a *App) Ready() bool {
	return a.health.IsReady()
}

// Health is the readiness flag behind /readyz. Safe for concurrent use.
type Health struct {
	ready atomic.Bool
}

var _ proxy.ReadinessChecker = (*Health)(nil)

// NewHealth creates a Health that is not ready.
func NewHealth() *Health {
	return &Health{}
}

func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *Health) IsReady() bool {
	return h.ready.Load()
}
