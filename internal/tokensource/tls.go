package tokensource

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// TLSOptions controls certificate verification for OIDC calls.
//
// Precedence: CABundle, then InsecureSkipVerify, then Verify, then verify
// against the system roots.
type TLSOptions struct {
	// CABundle is a PEM file whose certificates replace the system roots.
	CABundle string `koanf:"ca_bundle"`
	// InsecureSkipVerify disables verification. Debug only.
	InsecureSkipVerify bool `koanf:"insecure_skip_verify"`
	// Verify, when set, explicitly enables or disables verification.
	Verify *bool `koanf:"verify"`
}

// Config builds the tls.Config for opts. A nil config means Go's defaults.
func (o TLSOptions) Config() (*tls.Config, error) {
	switch {
	case o.CABundle != "":
		pem, err := os.ReadFile(o.CABundle)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("CA bundle contains no PEM certificates")
		}
		return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
	case o.InsecureSkipVerify:
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // explicit debug setting
	case o.Verify != nil && !*o.Verify:
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // explicit debug setting
	default:
		return nil, nil
	}
}

// NewHTTPClient returns a client with the TLS policy of opts and an overall
// request timeout.
func NewHTTPClient(opts TLSOptions, timeout time.Duration) (*http.Client, error) {
	tlsConfig, err := opts.Config()
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
