package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
)

// quietPaths are probed or scraped often; they are logged only on failure.
var quietPaths = map[string]bool{
	"/livez":   true,
	"/readyz":  true,
	"/health":  true,
	"/metrics": true,
}

// Logging writes one access log line per request with method, path, status
// and duration. Probe and scrape requests are skipped unless they fail.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		Skip: func(r *http.Request, status int) bool {
			return quietPaths[r.URL.Path] && status < http.StatusInternalServerError
		},

		// Client identification feeds streaming detection. Authorization and
		// bodies carry credentials and prompts and are never logged.
		LogRequestHeaders:  []string{"Content-Type", "User-Agent", "X-Client-Name", "Accept"},
		LogResponseHeaders: []string{},
		LogRequestBody:     nil,
		LogResponseBody:    nil,

		RecoverPanics: false,
	})
}

// SetLogAttrs adds attributes to the access log line of the current request.
// It does nothing outside a request handled by Logging.
func SetLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	httplog.SetAttrs(ctx, attrs...)
}
