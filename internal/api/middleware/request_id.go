// Package middleware provides HTTP middleware for the FleetPulse API.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// maxInboundIDLen caps request IDs accepted from clients. Anything
// longer, or containing characters unsafe to echo into logs and response
// headers, is replaced with a generated ID.
const maxInboundIDLen = 64

// requestIDKey is the context key for the request ID.
type requestIDKey struct{}

// RequestID attaches a request ID to the request context and echoes it
// in the X-Request-Id response header. A well-formed inbound ID is kept
// so callers can correlate across services; otherwise a fresh fp_ ID is
// generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if !validRequestID(requestID) {
			requestID = "fp_" + uuid.New().String()
		}

		w.Header().Set("X-Request-Id", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxInboundIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
