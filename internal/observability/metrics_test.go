package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.ObserveRequest("openai", true, 200)
	m.ObserveRequest("openai", true, 200)
	m.ObserveRequest("anthropic", false, 503)
	m.ObserveUpstream(403)
	m.ObserveUpstream(200)
	m.ObserveRefresh("local", errors.New("no database"))
	m.ObserveRefresh("oidc", nil)
	m.ObserveReassembly(2, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("openai", "stream", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("anthropic", "buffered", "503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamCalls.WithLabelValues("403")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRefreshes.WithLabelValues("local", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRefreshes.WithLabelValues("oidc", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.malformedFragments))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bufferTruncations))
}

func TestMetrics_ActiveStreams(t *testing.T) {
	m := NewMetrics()

	done1 := m.StreamStarted()
	done2 := m.StreamStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activeStreams))

	done1()
	done2()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeStreams))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveRequest("openai", false, 200)
		m.ObserveUpstream(200)
		m.ObserveRefresh("oidc", nil)
		m.ObserveReassembly(1, 1)
		m.StreamStarted()()
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveUpstream(200)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `aq2api_upstream_calls_total{status="200"} 1`)
	assert.True(t, strings.Contains(string(body), "go_goroutines"))

	count, err := testutil.GatherAndCount(m.Registry(), "aq2api_upstream_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
