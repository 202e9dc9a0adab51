package proxy

import (
	"net/http"
	"strings"

	"github.com/oapi-codegen/runtime"
	"github.com/tidwall/gjson"

	"github.com/leanb525/aq2api/internal/chatadapter"
)

// DefaultClientPatterns identify clients that always expect streaming
// responses, matched case-insensitively against User-Agent and X-Client-Name.
var DefaultClientPatterns = []string{
	"claude-cli",
	"claude-code",
	"cursor",
	"cline",
	"continue",
	"aider",
	"openwebui",
	"lobechat",
}

// Detection configures how streaming intent is inferred.
type Detection struct {
	// AnthropicDefault makes Messages API requests stream unless told otherwise.
	AnthropicDefault bool `koanf:"anthropic_default"`
	// ClientPatterns are substrings of client identification headers.
	ClientPatterns []string `koanf:"client_patterns"`
}

// DefaultDetection returns the detection policy used when none is configured.
func DefaultDetection() Detection {
	return Detection{AnthropicDefault: true, ClientPatterns: DefaultClientPatterns}
}

// Sources of a streaming decision, reported for logging.
const (
	hintBody     = "body"
	hintQuery    = "query"
	hintMode     = "response_mode"
	hintProtocol = "protocol"
	hintAccept   = "accept"
	hintClient   = "client"
	hintDefault  = "default"
)

// detectStreaming decides whether the response should stream. Each step only
// runs when every earlier step gave no definite answer:
//
//  1. a "stream" body field (boolean, string or number)
//  2. a "stream" query parameter
//  3. "streaming", "response_mode" or "responseMode" body fields
//  4. the protocol default, then an Accept: text/event-stream header
//  5. a known streaming client in User-Agent or X-Client-Name
//  6. false
func detectStreaming(r *http.Request, body []byte, format chatadapter.Format, d Detection) (bool, string) {
	if v, ok := hintValue(gjson.GetBytes(body, "stream")); ok {
		return v, hintBody
	}

	var query *bool
	if err := runtime.BindQueryParameter("form", true, false, "stream", r.URL.Query(), &query); err == nil && query != nil {
		return *query, hintQuery
	}

	for _, field := range []string{"streaming", "response_mode", "responseMode"} {
		if v, ok := hintValue(gjson.GetBytes(body, field)); ok {
			return v, hintMode
		}
	}

	if format == chatadapter.Anthropic && d.AnthropicDefault {
		return true, hintProtocol
	}
	if strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream") {
		return true, hintAccept
	}

	clients := strings.ToLower(r.Header.Get("User-Agent") + " " + r.Header.Get("X-Client-Name"))
	for _, pattern := range d.ClientPatterns {
		if pattern != "" && strings.Contains(clients, strings.ToLower(pattern)) {
			return true, hintClient
		}
	}

	return false, hintDefault
}

// hintValue interprets a JSON value as a streaming hint. Strings name either
// a boolean or a response mode; numbers are true when non-zero.
func hintValue(v gjson.Result) (value, ok bool) {
	switch v.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.Number:
		return v.Num != 0, true
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(v.Str)) {
		case "true", "1", "yes", "on", "stream", "streaming", "sse":
			return true, true
		case "false", "0", "no", "off", "blocking", "buffered", "json":
			return false, true
		}
	}
	return false, false
}
