package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leanb525/aq2api/internal/credentials"
	"github.com/leanb525/aq2api/internal/eventstream"
)

func noEnv() []string { return nil }

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("", nil, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Listen)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxRequestBytes)
	assert.Equal(t, 60*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "claude-sonnet-4.5", cfg.Upstream.DefaultModel)
	assert.Equal(t, StorageFile, cfg.Auth.Storage)
	assert.Equal(t, 5*time.Minute, cfg.Auth.RefreshMargin)
	assert.Equal(t, "json", cfg.Auth.TokenRequestEncoding)
	assert.True(t, cfg.Auth.LocalSource)
	assert.Nil(t, cfg.Auth.TLS.Verify)
	assert.True(t, cfg.Stream.Detection.AnthropicDefault)
	assert.Contains(t, cfg.Stream.Detection.ClientPatterns, "claude-code")
	assert.True(t, cfg.Debug.EnableTokenEndpoint)

	assert.Equal(t, eventstream.Options{
		Marker:        eventstream.DefaultMarker,
		MaxBufferSize: eventstream.DefaultMaxBufferSize,
		ChunkSize:     eventstream.DefaultChunkSize,
	}, cfg.StreamOptions())
}

func TestLoadConfig_Layering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
listen = "0.0.0.0:9000"

[upstream]
timeout = "90s"

[auth]
storage = "keyring"
token_request_encoding = "form"

[auth.tls]
verify = false

[stream.detection]
anthropic_default = false

[log]
level = "debug"
`), 0o600))

	environ := func() []string {
		return []string{
			"AQ2API_SERVER__LISTEN=127.0.0.1:9100",
			"AQ2API_STREAM__DETECTION__CLIENT_PATTERNS=foo,bar",
			"UNRELATED=1",
		}
	}
	overrides := map[string]any{"log.level": "warn"}

	cfg, err := LoadConfig(path, overrides, environ)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Listen, "env beats file")
	assert.Equal(t, 90*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, StorageKeyring, cfg.Auth.Storage)
	assert.Equal(t, "form", cfg.Auth.TokenRequestEncoding)
	require.NotNil(t, cfg.Auth.TLS.Verify)
	assert.False(t, *cfg.Auth.TLS.Verify)
	assert.False(t, cfg.Stream.Detection.AnthropicDefault)
	assert.Equal(t, []string{"foo", "bar"}, cfg.Stream.Detection.ClientPatterns)
	assert.Equal(t, "warn", cfg.Log.Level, "flags beat file")
}

func TestLoadConfig_DefaultFileInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(DefaultConfigFile, []byte("[server]\nlisten = \"127.0.0.1:7000\"\n"), 0o600))

	cfg, err := LoadConfig("", nil, noEnv)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Listen)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{name: "storage", overrides: map[string]any{"auth.storage": "s3"}},
		{name: "encoding", overrides: map[string]any{"auth.token_request_encoding": "xml"}},
		{name: "log format", overrides: map[string]any{"log.format": "yaml"}},
		{name: "otlp protocol", overrides: map[string]any{"log.otlp.protocol": "udp"}},
		{name: "chunk size", overrides: map[string]any{"stream.chunk_size": 0}},
		{name: "upstream endpoint", overrides: map[string]any{"upstream.endpoint": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig("", tt.overrides, noEnv)
			assert.ErrorContains(t, err, "invalid config")
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"), nil, noEnv)
		assert.Error(t, err)
	})
}

func TestLogLevel(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "warn"}}
	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, "WARN", level.String())
}

func TestNewCredentialStore(t *testing.T) {
	tests := []struct {
		storage StorageType
		want    credentials.Store
	}{
		{StorageFile, &credentials.FileStore{Path: "creds.json"}},
		{StorageKeyring, &credentials.KeyringStore{Service: "aq2api", User: keyringUser}},
		{StorageEnv, &credentials.EnvStore{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.storage), func(t *testing.T) {
			auth := AuthConfig{Storage: tt.storage, File: "creds.json", KeyringService: "aq2api"}
			store, err := auth.NewCredentialStore()
			require.NoError(t, err)
			assert.Equal(t, tt.want, store)
		})
	}

	_, err := (&AuthConfig{Storage: "s3"}).NewCredentialStore()
	assert.Error(t, err)
}
