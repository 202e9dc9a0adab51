package tokensource

import (
	"fmt"
	"strings"
)

// ConfigurationError reports that an API refresh is impossible because
// required credential fields are missing. It is fatal to the request that hit
// it, not to the process.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "credentials not configured: missing " + strings.Join(e.Missing, ", ")
}

// RefreshError reports a failed call to the token endpoint. Status is the
// HTTP status when the endpoint answered, zero otherwise.
type RefreshError struct {
	Status int
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("token refresh failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// OIDCError is the error body of the OIDC endpoints.
type OIDCError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *OIDCError) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}
