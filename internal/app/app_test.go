package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	t.Chdir(t.TempDir())

	credsFile := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(credsFile, []byte(`{"refreshToken":"rt","clientId":"cid","clientSecret":"cs"}`), 0o600))

	cfg, err := LoadConfig("", map[string]any{
		"server.listen":     "127.0.0.1:0",
		"auth.file":         credsFile,
		"auth.local_source": false,
	}, noEnv)
	require.NoError(t, err)
	return cfg
}

func TestApp_Lifecycle(t *testing.T) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	application, err := New(testConfig(t), "test")
	require.NoError(t, err)
	assert.False(t, application.Ready())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Start(ctx) }()

	require.Eventually(t, application.Ready, 5*time.Second, 10*time.Millisecond)
	base := "http://" + application.Addr()

	resp, err := http.Get(base + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/credentials")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	_ = resp.Body.Close()
	assert.Equal(t, true, status["has_credentials"])
	assert.Equal(t, false, status["has_access_token"])

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after context cancellation")
	}
	assert.False(t, application.Ready())
}

func TestApp_StartFailsOnBusyAddress(t *testing.T) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	first, err := New(testConfig(t), "test")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = first.Start(ctx) }()
	require.Eventually(t, first.Ready, 5*time.Second, 10*time.Millisecond)

	cfg := testConfig(t)
	cfg.Server.Listen = first.Addr()
	second, err := New(cfg, "test")
	require.NoError(t, err)

	err = second.Start(context.Background())
	assert.ErrorContains(t, err, "proxy startup failed")
}
