package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/leanb525/aq2api/internal/chatadapter"
	"github.com/leanb525/aq2api/internal/codewhisperer"
	"github.com/leanb525/aq2api/internal/credentials"
	"github.com/leanb525/aq2api/internal/credentials/clidb"
	"github.com/leanb525/aq2api/internal/eventstream"
	"github.com/leanb525/aq2api/internal/observability"
	"github.com/leanb525/aq2api/internal/proxy"
	"github.com/leanb525/aq2api/internal/tokensource"
)

const (
	// EnvPrefix prefixes configuration environment variables. Nested keys
	// use a double underscore, e.g. AQ2API_SERVER__LISTEN.
	EnvPrefix = "AQ2API_"

	// DefaultConfigFile is read when present and no path is given.
	DefaultConfigFile = "aq2api.toml"
)

// StorageType selects where credentials are persisted.
type StorageType string

const (
	StorageFile    StorageType = "file"
	StorageKeyring StorageType = "keyring"
	StorageEnv     StorageType = "env"
)

// keyringUser is the account name of the keyring entry.
const keyringUser = "credentials"

// Config is the complete gateway configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Auth     AuthConfig     `koanf:"auth"`
	Stream   StreamConfig   `koanf:"stream"`
	Log      LogConfig      `koanf:"log"`
	Debug    DebugConfig    `koanf:"debug"`
}

type ServerConfig struct {
	Listen          string `koanf:"listen" validate:"required"`
	MaxRequestBytes int64  `koanf:"max_request_bytes" validate:"gt=0"`
}

type UpstreamConfig struct {
	Endpoint        string        `koanf:"endpoint" validate:"required,url"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	DefaultModel    string        `koanf:"default_model" validate:"required"`
	OperatingSystem string        `koanf:"operating_system" validate:"required"`
}

type AuthConfig struct {
	Storage              StorageType            `koanf:"storage" validate:"oneof=file keyring env"`
	File                 string                 `koanf:"file" validate:"required_if=Storage file"`
	KeyringService       string                 `koanf:"keyring_service" validate:"required_if=Storage keyring"`
	OIDCEndpoint         string                 `koanf:"oidc_endpoint" validate:"required,url"`
	RefreshMargin        time.Duration          `koanf:"refresh_margin" validate:"gte=0"`
	RefreshTimeout       time.Duration          `koanf:"refresh_timeout" validate:"gt=0"`
	TokenRequestEncoding string                 `koanf:"token_request_encoding" validate:"oneof=json form"`
	CLIDBPaths           []string               `koanf:"cli_db_paths"`
	LocalSource          bool                   `koanf:"local_source"`
	TLS                  tokensource.TLSOptions `koanf:"tls"`
}

type StreamConfig struct {
	ChunkSize      int             `koanf:"chunk_size" validate:"gt=0"`
	BufferMaxSize  int             `koanf:"buffer_max_size" validate:"gte=0"`
	FragmentMarker string          `koanf:"fragment_marker" validate:"required"`
	Detection      proxy.Detection `koanf:"detection"`
}

type LogConfig struct {
	Level  string                   `koanf:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string                   `koanf:"format" validate:"oneof=text json"`
	OTLP   observability.OTLPConfig `koanf:"otlp"`
}

type DebugConfig struct {
	EnableTokenEndpoint bool `koanf:"enable_token_endpoint"`
}

// defaults is the lowest configuration layer.
func defaults() map[string]any {
	return map[string]any{
		"server.listen":                      "127.0.0.1:8000",
		"server.max_request_bytes":           proxy.DefaultMaxRequestBytes,
		"upstream.endpoint":                  codewhisperer.DefaultEndpoint,
		"upstream.timeout":                   "60s",
		"upstream.default_model":             chatadapter.DefaultModel,
		"upstream.operating_system":          "linux",
		"auth.storage":                       string(StorageFile),
		"auth.file":                          "amazonq_credentials.json",
		"auth.keyring_service":               "aq2api",
		"auth.oidc_endpoint":                 "https://oidc.us-east-1.amazonaws.com",
		"auth.refresh_margin":                "300s",
		"auth.refresh_timeout":               "30s",
		"auth.token_request_encoding":        string(tokensource.EncodingJSON),
		"auth.cli_db_paths":                  clidb.DefaultPaths(),
		"auth.local_source":                  true,
		"stream.chunk_size":                  eventstream.DefaultChunkSize,
		"stream.buffer_max_size":             eventstream.DefaultMaxBufferSize,
		"stream.fragment_marker":             eventstream.DefaultMarker,
		"stream.detection.anthropic_default": true,
		"stream.detection.client_patterns":   proxy.DefaultClientPatterns,
		"log.level":                          "info",
		"log.format":                         "text",
		"log.otlp.protocol":                  observability.ProtocolHTTP,
		"debug.enable_token_endpoint":        true,
	}
}

// listKeys are split on commas when they come from the environment.
var listKeys = map[string]bool{
	"auth.cli_db_paths":                true,
	"stream.detection.client_patterns": true,
}

// LoadConfig layers defaults, the TOML file at path, AQ2API_* environment
// variables and flag overrides, in increasing precedence. An empty path reads
// DefaultConfigFile when it exists.
func LoadConfig(path string, overrides map[string]any, environ func() []string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
		EnvironFunc:   environ,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// transformEnv maps AQ2API_AUTH__TLS__CA_BUNDLE to auth.tls.ca_bundle.
func transformEnv(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if listKeys[key] {
		return key, strings.Split(value, ",")
	}
	return key, value
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level: %w", err)
	}
	return level, nil
}

// StreamOptions returns the reassembly options.
func (c *Config) StreamOptions() eventstream.Options {
	return eventstream.Options{
		Marker:        c.Stream.FragmentMarker,
		MaxBufferSize: c.Stream.BufferMaxSize,
		ChunkSize:     c.Stream.ChunkSize,
	}
}

// NewCredentialStore creates the configured credential store.
func (c *AuthConfig) NewCredentialStore() (credentials.Store, error) {
	switch c.Storage {
	case StorageFile:
		return &credentials.FileStore{Path: c.File}, nil
	case StorageKeyring:
		return &credentials.KeyringStore{Service: c.KeyringService, User: keyringUser}, nil
	case StorageEnv:
		return &credentials.EnvStore{}, nil
	default:
		return nil, fmt.Errorf("unknown credential storage %q", c.Storage)
	}
}

// NewOIDCClient creates the OIDC client with the configured TLS policy.
func (c *AuthConfig) NewOIDCClient() (*tokensource.OIDCClient, error) {
	httpClient, err := tokensource.NewHTTPClient(c.TLS, c.RefreshTimeout)
	if err != nil {
		return nil, fmt.Errorf("configuring TLS: %w", err)
	}
	return tokensource.NewOIDCClient(
		tokensource.NewEndpoint(c.OIDCEndpoint),
		tokensource.WithHTTPClient(httpClient),
		tokensource.WithEncoding(tokensource.Encoding(c.TokenRequestEncoding)),
	), nil
}
