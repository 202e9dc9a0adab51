package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/leanb525/aq2api/internal/app"
	"github.com/leanb525/aq2api/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string, version, commit string) error {
	return newRootCommand(version, commit).Run(ctx, args)
}

func newRootCommand(version, commit string) *cli.Command {
	return &cli.Command{
		Name:    "aq2api",
		Usage:   "OpenAI and Anthropic compatible gateway for Amazon Q",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a TOML config file (default: " + app.DefaultConfigFile + " if present)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
			},
			&cli.StringFlag{
				Name:  "storage",
				Usage: "credential storage (file|keyring|env)",
			},
		},
		Commands: []*cli.Command{
			serveCommand(version),
			authCommand(),
		},
	}
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":              "log.level",
	"log-format":             "log.format",
	"storage":                "auth.storage",
	"listen":                 "server.listen",
	"default-model":          "upstream.default_model",
	"otlp-endpoint":          "log.otlp.endpoint",
	"otlp-protocol":          "log.otlp.protocol",
	"disable-token-endpoint": "debug.enable_token_endpoint",
}

// loadConfig reads the layered configuration with explicitly set flags on top.
func loadConfig(cmd *cli.Command, environ func() []string) (*app.Config, error) {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if !cmd.IsSet(flag) {
			continue
		}
		switch flag {
		case "disable-token-endpoint":
			overrides[key] = !cmd.Bool(flag)
		default:
			overrides[key] = cmd.String(flag)
		}
	}
	return app.LoadConfig(cmd.String("config"), overrides, environ)
}

func serveCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Starts the gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "listen address",
			},
			&cli.StringFlag{
				Name:  "default-model",
				Usage: "upstream model for unknown model names",
			},
			&cli.StringFlag{
				Name:  "otlp-endpoint",
				Usage: "OTLP log export endpoint URL",
			},
			&cli.StringFlag{
				Name:  "otlp-protocol",
				Usage: "OTLP protocol (http|grpc|stdout)",
			},
			&cli.BoolFlag{
				Name:  "disable-token-endpoint",
				Usage: "disable GET /test/token",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serveAction(ctx, cmd, version)
		},
	}
}

func serveAction(ctx context.Context, cmd *cli.Command, version string) error {
	cfg, err := loadConfig(cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}

	// Set up observability before creating app
	shutdownLogs, err := observability.Instrument(ctx, observability.Config{
		Level:  level,
		Format: cfg.Log.Format,
		OTLP:   cfg.Log.OTLP,
	})
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() {
		if err := shutdownLogs(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs: %v\n", err)
		}
	}()

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting", "version", version, "storage", cfg.Auth.Storage)

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
