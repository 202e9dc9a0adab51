package tokensource

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/leanb525/aq2api/internal/credentials"
)

// Endpoint is the vendor's OIDC service.
var Endpoint = oauth2.Endpoint{
	AuthURL:       "https://oidc.us-east-1.amazonaws.com/authorize",
	DeviceAuthURL: "https://oidc.us-east-1.amazonaws.com/device_authorization",
	TokenURL:      "https://oidc.us-east-1.amazonaws.com/token",
}

// NewEndpoint derives the OIDC endpoint URLs from a base URL.
func NewEndpoint(baseURL string) oauth2.Endpoint {
	base := strings.TrimRight(baseURL, "/")
	return oauth2.Endpoint{
		AuthURL:       base + "/authorize",
		DeviceAuthURL: base + "/device_authorization",
		TokenURL:      base + "/token",
	}
}

// Scopes requested when registering a client for the chat API.
var Scopes = []string{
	"codewhisperer:completions",
	"codewhisperer:analysis",
	"codewhisperer:conversations",
}

// DefaultStartURL is the sign-in portal for personal (Builder ID) accounts.
const DefaultStartURL = "https://view.awsapps.com/start"

const (
	grantTypeRefreshToken = "refresh_token"
	grantTypeDeviceCode   = "urn:ietf:params:oauth:grant-type:device_code"

	// defaultExpiresIn applies when the token endpoint omits expiresIn.
	defaultExpiresIn = 3600
)

// Device flow polling, per RFC 8628 section 3.5.
var (
	defaultPollInterval = 5 * time.Second
	slowDownStep        = 5 * time.Second
)

// Encoding selects the body encoding of refresh requests.
type Encoding string

const (
	// EncodingJSON sends camelCase JSON, as the vendor endpoint expects.
	EncodingJSON Encoding = "json"
	// EncodingForm sends snake_case form values, as standard OAuth2 servers expect.
	EncodingForm Encoding = "form"
)

// OIDCClient talks to the OIDC endpoint. The vendor deviates from standard
// OAuth2 in its JSON bodies with camelCase names and its client registration
// endpoint, so requests are built by hand instead of using oauth2.Config.
type OIDCClient struct {
	endpoint oauth2.Endpoint
	client   *http.Client
	encoding Encoding
}

// OIDCOption configures an OIDCClient.
type OIDCOption func(*OIDCClient)

// WithHTTPClient sets the client used for OIDC calls.
func WithHTTPClient(c *http.Client) OIDCOption {
	return func(o *OIDCClient) { o.client = c }
}

// WithEncoding sets the refresh request encoding.
func WithEncoding(e Encoding) OIDCOption {
	return func(o *OIDCClient) { o.encoding = e }
}

// NewOIDCClient creates a client for endpoint.
func NewOIDCClient(endpoint oauth2.Endpoint, opts ...OIDCOption) *OIDCClient {
	c := &OIDCClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		encoding: EncodingJSON,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tokenResponse accepts both the vendor's camelCase and standard snake_case.
type tokenResponse struct {
	AccessToken       string `json:"accessToken"`
	AccessTokenSnake  string `json:"access_token"`
	RefreshToken      string `json:"refreshToken"`
	RefreshTokenSnake string `json:"refresh_token"`
	TokenType         string `json:"tokenType"`
	TokenTypeSnake    string `json:"token_type"`
	ExpiresIn         int64  `json:"expiresIn"`
	ExpiresInSnake    int64  `json:"expires_in"`
}

func (r *tokenResponse) token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  cmp.Or(r.AccessToken, r.AccessTokenSnake),
		RefreshToken: cmp.Or(r.RefreshToken, r.RefreshTokenSnake),
		TokenType:    cmp.Or(r.TokenType, r.TokenTypeSnake, "Bearer"),
		ExpiresIn:    r.ExpiresIn,
	}
	if tok.ExpiresIn == 0 {
		tok.ExpiresIn = r.ExpiresInSnake
	}
	if tok.ExpiresIn <= 0 {
		tok.ExpiresIn = defaultExpiresIn
	}
	return tok
}

// Refresh exchanges the refresh token in creds for a new access token. The
// returned token carries ExpiresIn; Expiry is left for the caller to compute.
// Failures are returned as *RefreshError.
func (c *OIDCClient) Refresh(ctx context.Context, creds *credentials.Credentials) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, &RefreshError{Err: err}
	}

	var (
		body        []byte
		contentType string
	)
	switch c.encoding {
	case EncodingForm:
		body = []byte(url.Values{
			"grant_type":    {grantTypeRefreshToken},
			"refresh_token": {creds.RefreshToken},
			"client_id":     {creds.ClientID},
			"client_secret": {creds.ClientSecret},
		}.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		var err error
		body, err = json.Marshal(refreshRequest{
			GrantType:    grantTypeRefreshToken,
			RefreshToken: creds.RefreshToken,
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
		})
		if err != nil {
			return nil, &RefreshError{Err: fmt.Errorf("marshaling refresh request: %w", err)}
		}
		contentType = "application/json"
	}

	var resp tokenResponse
	status, err := c.post(ctx, c.endpoint.TokenURL, contentType, body, &resp)
	if err != nil {
		return nil, &RefreshError{Status: status, Err: err}
	}

	tok := resp.token()
	if tok.AccessToken == "" {
		return nil, &RefreshError{Status: status, Err: errors.New("response carries no access token")}
	}
	return tok, nil
}

// refreshRequest is the vendor's JSON refresh body.
type refreshRequest struct {
	GrantType    string `json:"grantType"`
	RefreshToken string `json:"refreshToken"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// Registration is a dynamically registered public OIDC client.
type Registration struct {
	ClientID     string
	ClientSecret string
	ExpiresAt    time.Time
}

// RegisterClient registers a public client allowed to use the device flow.
func (c *OIDCClient) RegisterClient(ctx context.Context, name string) (*Registration, error) {
	body, err := json.Marshal(struct {
		ClientName string   `json:"clientName"`
		ClientType string   `json:"clientType"`
		Scopes     []string `json:"scopes"`
		GrantTypes []string `json:"grantTypes"`
	}{
		ClientName: name,
		ClientType: "public",
		Scopes:     Scopes,
		GrantTypes: []string{grantTypeDeviceCode, grantTypeRefreshToken},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling registration request: %w", err)
	}

	var resp struct {
		ClientID              string `json:"clientId"`
		ClientSecret          string `json:"clientSecret"`
		ClientSecretExpiresAt int64  `json:"clientSecretExpiresAt"`
	}
	registerURL := strings.TrimSuffix(c.endpoint.TokenURL, "/token") + "/client/register"
	if _, err := c.post(ctx, registerURL, "application/json", body, &resp); err != nil {
		return nil, fmt.Errorf("registering client: %w", err)
	}

	reg := &Registration{ClientID: resp.ClientID, ClientSecret: resp.ClientSecret}
	if resp.ClientSecretExpiresAt > 0 {
		reg.ExpiresAt = time.Unix(resp.ClientSecretExpiresAt, 0)
	}
	return reg, nil
}

// StartDeviceAuthorization begins the device flow for reg.
func (c *OIDCClient) StartDeviceAuthorization(ctx context.Context, reg *Registration, startURL string) (*oauth2.DeviceAuthResponse, error) {
	body, err := json.Marshal(struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
		StartURL     string `json:"startUrl"`
	}{reg.ClientID, reg.ClientSecret, startURL})
	if err != nil {
		return nil, fmt.Errorf("marshaling device authorization request: %w", err)
	}

	var resp struct {
		DeviceCode              string `json:"deviceCode"`
		UserCode                string `json:"userCode"`
		VerificationURI         string `json:"verificationUri"`
		VerificationURIComplete string `json:"verificationUriComplete"`
		ExpiresIn               int64  `json:"expiresIn"`
		Interval                int64  `json:"interval"`
	}
	now := time.Now()
	if _, err := c.post(ctx, c.endpoint.DeviceAuthURL, "application/json", body, &resp); err != nil {
		return nil, fmt.Errorf("starting device authorization: %w", err)
	}

	da := &oauth2.DeviceAuthResponse{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		Interval:                resp.Interval,
	}
	if resp.ExpiresIn > 0 {
		da.Expiry = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return da, nil
}

// PollDeviceToken polls the token endpoint until the user approves the device
// authorization, it expires, or ctx is done. authorization_pending keeps
// polling; slow_down widens the interval by five seconds.
func (c *OIDCClient) PollDeviceToken(ctx context.Context, reg *Registration, da *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	interval := time.Duration(da.Interval) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}

	if !da.Expiry.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, da.Expiry)
		defer cancel()
	}

	body, err := json.Marshal(struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
		GrantType    string `json:"grantType"`
		DeviceCode   string `json:"deviceCode"`
	}{reg.ClientID, reg.ClientSecret, grantTypeDeviceCode, da.DeviceCode})
	if err != nil {
		return nil, fmt.Errorf("marshaling device token request: %w", err)
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for device authorization: %w", ctx.Err())
		case <-timer.C:
		}

		var resp tokenResponse
		_, err := c.post(ctx, c.endpoint.TokenURL, "application/json", body, &resp)

		var oidcErr *OIDCError
		switch {
		case err == nil:
			return resp.token(), nil
		case errors.As(err, &oidcErr) && oidcErr.Code == "authorization_pending":
		case errors.As(err, &oidcErr) && oidcErr.Code == "slow_down":
			interval += slowDownStep
		default:
			return nil, fmt.Errorf("polling device token: %w", err)
		}
		timer.Reset(interval)
	}
}

// post sends body and decodes a 2xx JSON answer into out. Non-2xx answers are
// returned as *OIDCError when the body has one. The status is zero when no
// response arrived.
func (c *OIDCClient) post(ctx context.Context, endpoint, contentType string, body []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var oidcErr OIDCError
		if json.Unmarshal(data, &oidcErr) == nil && oidcErr.Code != "" {
			return resp.StatusCode, &oidcErr
		}
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, nil
}
