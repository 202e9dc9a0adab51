package tokensource

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/leanb525/aq2api/internal/credentials"
)

func TestOIDCClient_RefreshFormEncoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		assert.Equal(t, "cs", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt-2","token_type":"bearer","expires_in":120}`))
	}))
	defer srv.Close()

	client := NewOIDCClient(NewEndpoint(srv.URL), WithEncoding(EncodingForm))
	tok, err := client.Refresh(context.Background(), &credentials.Credentials{RefreshToken: "rt", ClientID: "cid", ClientSecret: "cs"})
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt-2", tok.RefreshToken)
	assert.Equal(t, int64(120), tok.ExpiresIn)
}

func TestOIDCClient_RefreshRejectsEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"expiresIn":3600}`))
	}))
	defer srv.Close()

	_, err := NewOIDCClient(NewEndpoint(srv.URL)).Refresh(context.Background(), &credentials.Credentials{})
	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, http.StatusOK, refreshErr.Status)
}

func TestOIDCClient_RefreshUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOIDCClient(NewEndpoint(srv.URL)).Refresh(context.Background(), &credentials.Credentials{})
	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, http.StatusInternalServerError, refreshErr.Status)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestOIDCClient_DeviceFlow(t *testing.T) {
	defaultPollInterval, slowDownStep = 5*time.Millisecond, 5*time.Millisecond
	t.Cleanup(func() { defaultPollInterval, slowDownStep = 5*time.Second, 5*time.Second })

	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/client/register":
			assert.Equal(t, "aq2api", body["clientName"])
			assert.Equal(t, "public", body["clientType"])
			_, _ = w.Write([]byte(`{"clientId":"reg-id","clientSecret":"reg-secret","clientSecretExpiresAt":1900000000}`))
		case "/device_authorization":
			assert.Equal(t, "reg-id", body["clientId"])
			assert.Equal(t, DefaultStartURL, body["startUrl"])
			_, _ = w.Write([]byte(`{
				"deviceCode":"dev-code","userCode":"ABCD-EFGH",
				"verificationUri":"https://device.sso/","verificationUriComplete":"https://device.sso/?user_code=ABCD-EFGH",
				"expiresIn":600,"interval":0
			}`))
		case "/token":
			assert.Equal(t, grantTypeDeviceCode, body["grantType"])
			assert.Equal(t, "dev-code", body["deviceCode"])
			switch polls.Add(1) {
			case 1:
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"authorization_pending"}`))
			case 2:
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"slow_down"}`))
			default:
				_, _ = w.Write([]byte(`{"accessToken":"at","refreshToken":"rt","expiresIn":28800}`))
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	client := NewOIDCClient(NewEndpoint(srv.URL))

	reg, err := client.RegisterClient(ctx, "aq2api")
	require.NoError(t, err)
	assert.Equal(t, "reg-id", reg.ClientID)
	assert.Equal(t, time.Unix(1900000000, 0), reg.ExpiresAt)

	da, err := client.StartDeviceAuthorization(ctx, reg, DefaultStartURL)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-EFGH", da.UserCode)
	assert.False(t, da.Expiry.IsZero())

	tok, err := client.PollDeviceToken(ctx, reg, da)
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.Equal(t, int32(3), polls.Load())
}

func TestOIDCClient_PollStopsOnDenial(t *testing.T) {
	defaultPollInterval = time.Millisecond
	t.Cleanup(func() { defaultPollInterval = 5 * time.Second })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"access_denied","error_description":"user declined"}`))
	}))
	defer srv.Close()

	_, err := NewOIDCClient(NewEndpoint(srv.URL)).PollDeviceToken(context.Background(), &Registration{}, &oauth2.DeviceAuthResponse{DeviceCode: "dev-code"})
	var oidcErr *OIDCError
	require.ErrorAs(t, err, &oidcErr)
	assert.Equal(t, "access_denied", oidcErr.Code)
}

func TestOIDCClient_PollHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewOIDCClient(NewEndpoint("http://127.0.0.1:0")).PollDeviceToken(ctx, &Registration{}, &oauth2.DeviceAuthResponse{DeviceCode: "dev-code"})
	assert.ErrorIs(t, err, context.Canceled)
}

func writeCertPEM(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestNewHTTPClient_TLSPrecedence(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	bundle := writeCertPEM(t, srv)

	yes, no := true, false
	tests := []struct {
		name    string
		opts    TLSOptions
		wantErr bool
	}{
		{name: "default verifies", opts: TLSOptions{}, wantErr: true},
		{name: "ca bundle trusts server", opts: TLSOptions{CABundle: bundle}},
		{name: "insecure skips verification", opts: TLSOptions{InsecureSkipVerify: true}},
		{name: "verify false skips verification", opts: TLSOptions{Verify: &no}},
		{name: "verify true verifies", opts: TLSOptions{Verify: &yes}, wantErr: true},
		{name: "ca bundle wins over verify false", opts: TLSOptions{CABundle: bundle, Verify: &no}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewHTTPClient(tt.opts, 5*time.Second)
			require.NoError(t, err)

			resp, err := client.Get(srv.URL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			_ = resp.Body.Close()
		})
	}
}

func TestTLSOptions_CABundleTakesPrecedence(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cfg, err := TLSOptions{CABundle: writeCertPEM(t, srv), InsecureSkipVerify: true}.Config()
	require.NoError(t, err)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.NotNil(t, cfg.RootCAs)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}

func TestTLSOptions_InvalidBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

	_, err := TLSOptions{CABundle: path}.Config()
	assert.ErrorContains(t, err, "no PEM certificates")

	_, err = TLSOptions{CABundle: filepath.Join(t.TempDir(), "missing.pem")}.Config()
	assert.ErrorContains(t, err, "reading CA bundle")
}
