package proxy

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/leanb525/aq2api/internal/chatadapter"
)

// Recovery recovers from panics in HTTP handlers and answers with an
// OpenAI-shaped 500 when nothing has been written yet.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.ErrorContext(r.Context(), "handler panic", "panic", rec, "stack", string(debug.Stack()))
			writeAPIError(r.Context(), w, chatadapter.OpenAI, &chatadapter.APIError{
				Status:  http.StatusInternalServerError,
				Type:    chatadapter.TypeAPI,
				Code:    codeInternalError,
				Message: http.StatusText(http.StatusInternalServerError),
			})
		}()

		next.ServeHTTP(w, r)
	})
}

// RequestSizeLimit enforces maximum request body size.
// Handlers that read the body will receive *http.MaxBytesError when the limit is exceeded.
func RequestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// applyMiddlewares applies middlewares to a handler in the order they appear.
// The first middleware in the slice is the outermost (executes first).
func applyMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
