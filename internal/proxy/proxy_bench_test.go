package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leanb525/aq2api/internal/codewhisperer"
)

// mockVendorTransport returns a canned event-stream body without network calls.
type mockVendorTransport struct {
	responseBody string
}

func (m *mockVendorTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(m.responseBody)),
		Header:     http.Header{"Content-Type": []string{"application/vnd.amazon.eventstream"}},
		Request:    req,
	}, nil
}

// eventStreamBody builds a body of n content fragments, each wrapped in
// binary framing noise the way the vendor sends them.
func eventStreamBody(n int) string {
	var sb strings.Builder
	for i := range n {
		sb.WriteString("\x00\x00\x00\x9b\x00\x00\x00\x52:event-type\x07\x00\x16assistantResponseEvent")
		fmt.Fprintf(&sb, `{"content":"token %d with \"quotes\" and {braces} "}`, i)
		sb.WriteString("\x8f\x1a\x03\x7c")
	}
	return sb.String()
}

const benchRequest = `{"model":"claude-sonnet-4.5","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"Explain event streams."}]}`

// setupProxyWithMockTransport creates a Proxy with full middleware stack and
// the real vendor client over a mocked transport.
// Suppresses logging to isolate benchmark measurements from I/O overhead.
func setupProxyWithMockTransport(b *testing.B, transport http.RoundTripper) *httptest.Server {
	b.Helper()

	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	client, err := codewhisperer.New(transport)
	if err != nil {
		b.Fatalf("Failed to create client: %v", err)
	}

	proxy, err := New(&fakeTokens{token: "test-token"}, client, readiness(true))
	if err != nil {
		b.Fatalf("Failed to create proxy: %v", err)
	}

	server := httptest.NewServer(proxy)
	b.Cleanup(server.Close)
	return server
}

func benchPost(b *testing.B, url, body string) *http.Response {
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		b.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		b.Fatalf("Unexpected status code: %d", resp.StatusCode)
	}
	return resp
}

// withStream sets the stream flag on the benchmark request body.
func withStream(stream bool) string {
	return strings.Replace(benchRequest, `{"model"`, fmt.Sprintf(`{"stream":%t,"model"`, stream), 1)
}

// BenchmarkProxyStreaming measures end-to-end streaming latency through the
// OpenAI endpoint for several reply sizes.
// Includes routing, middleware, reassembly and SSE encoding.
// Excludes network latency (mocked transport) and token refresh.
func BenchmarkProxyStreaming(b *testing.B) {
	for _, fragments := range []int{1, 50, 500} {
		b.Run(fmt.Sprintf("fragments_%d", fragments), func(b *testing.B) {
			server := setupProxyWithMockTransport(b, &mockVendorTransport{responseBody: eventStreamBody(fragments)})
			body := withStream(true)

			b.ReportAllocs()
			b.ResetTimer()

			for b.Loop() {
				resp := benchPost(b, server.URL+"/v1/chat/completions", body)
				if _, err := io.Copy(io.Discard, resp.Body); err != nil {
					b.Fatalf("Stream read error: %v", err)
				}
				_ = resp.Body.Close()
			}
		})
	}
}

// BenchmarkProxyNonStreaming measures buffered response latency.
// Provides baseline comparison against streaming benchmarks to isolate SSE overhead.
func BenchmarkProxyNonStreaming(b *testing.B) {
	for _, fragments := range []int{1, 50, 500} {
		b.Run(fmt.Sprintf("fragments_%d", fragments), func(b *testing.B) {
			server := setupProxyWithMockTransport(b, &mockVendorTransport{responseBody: eventStreamBody(fragments)})
			body := withStream(false)

			b.ReportAllocs()
			b.ResetTimer()

			for b.Loop() {
				resp := benchPost(b, server.URL+"/v1/chat/completions", body)
				if _, err := io.Copy(io.Discard, resp.Body); err != nil {
					b.Fatalf("Failed to read response: %v", err)
				}
				_ = resp.Body.Close()
			}
		})
	}
}

// BenchmarkProxyStreaming_TTFB measures Time-To-First-Byte for streaming responses.
func BenchmarkProxyStreaming_TTFB(b *testing.B) {
	server := setupProxyWithMockTransport(b, &mockVendorTransport{responseBody: eventStreamBody(50)})
	body := withStream(true)

	b.ReportAllocs()
	b.ResetTimer()

	var totalTTFB time.Duration
	var iterations int
	buf := make([]byte, 1)

	for b.Loop() {
		start := time.Now()
		resp := benchPost(b, server.URL+"/v1/chat/completions", body)

		// Read first byte to measure TTFB
		if _, err := resp.Body.Read(buf); err != nil {
			b.Fatalf("Failed to read first byte: %v", err)
		}

		totalTTFB += time.Since(start)
		iterations++

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	avgTTFB := totalTTFB / time.Duration(iterations)
	b.ReportMetric(float64(avgTTFB.Microseconds()), "µs/ttfb")
}

// BenchmarkProxyConcurrentThroughput_Streaming measures concurrent streaming
// throughput on the Messages endpoint.
func BenchmarkProxyConcurrentThroughput_Streaming(b *testing.B) {
	server := setupProxyWithMockTransport(b, &mockVendorTransport{responseBody: eventStreamBody(50)})
	body := withStream(true)

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp := benchPost(b, server.URL+"/v1/messages", body)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	})
}
