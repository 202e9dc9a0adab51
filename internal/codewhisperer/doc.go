// Package codewhisperer is the client for the vendor chat endpoint.
//
// Requests carry a bearer token taken from a TokenSource. An authorization
// failure (403) on the first attempt forces one token refresh and exactly one
// resend; any further failure is reported as a *TransportError.
package codewhisperer
