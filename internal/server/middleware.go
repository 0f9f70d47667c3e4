package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"pulsecast/internal/observability/logging"
)

// requestIDMiddleware assigns every request an identifier, honouring one
// supplied by the gateway, and reflects it back to the client.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		if streamID := streamIDFromPath(r.URL.Path); streamID != "" {
			ctx = logging.ContextWithStreamID(ctx, streamID)
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func streamIDFromPath(path string) string {
	rest, found := strings.CutPrefix(path, "/api/streams/")
	if !found {
		return ""
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest)
}

// securityHeaders applies the hardening headers appropriate for a JSON API.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "DENY")
		header.Set("Referrer-Policy", "no-referrer")
		header.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware converts panics into a generic internal error so
// unexpected failures never leak internals to clients.
func recoverMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logging.WithContext(r.Context(), logger).Error("handler panic",
					"path", r.URL.Path, "panic", recovered)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error", "kind": "internal"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
