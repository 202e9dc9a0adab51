package proxy

import (
	"net/http"
	"time"
)

// ReadinessChecker reports whether the application can serve traffic.
type ReadinessChecker interface {
	IsReady() bool
}

// livenessHandler handles liveness probe requests.
// Always returns 200 OK to indicate the process is alive.
func livenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}
}

// readinessHandler handles readiness probe requests.
// Returns 200 OK if the application is ready to serve traffic, 503 otherwise.
func readinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		if checker.IsReady() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}
}

// healthHandler reports process health and whether refresh credentials exist.
func healthHandler(tokens TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		writeJSON(r.Context(), w, map[string]any{
			"status":          "ok",
			"timestamp":       time.Now().UTC().Format(time.RFC3339),
			"has_credentials": tokens.Status().HasCredentials,
		}, http.StatusOK)
	}
}

// indexHandler describes the available endpoints.
func indexHandler(version, defaultModel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, map[string]any{
			"message": "Amazon Q to OpenAI/Anthropic API gateway",
			"version": version,
			"endpoints": map[string]string{
				"openai_chat":        "/v1/chat/completions",
				"anthropic_messages": "/v1/messages",
				"models":             "/v1/models",
				"credentials":        "/credentials",
				"health":             "/health",
			},
			"default_model": defaultModel,
		}, http.StatusOK)
	}
}
