// Package auth guards the report review endpoints with API keys.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/pendergraft/reportchain/internal/storage"
)

type contextKey string

const apiKeyContextKey contextKey = "apiKey"

// GetAPIKeyFromContext retrieves the API key info from context.
func GetAPIKeyFromContext(ctx context.Context) *storage.APIKey {
	if key, ok := ctx.Value(apiKeyContextKey).(*storage.APIKey); ok {
		return key
	}
	return nil
}

// Actor names the caller for audit logs: the API key name, or "anonymous"
// when authentication is disabled.
func Actor(ctx context.Context) string {
	if key := GetAPIKeyFromContext(ctx); key != nil {
		return key.Name
	}
	return "anonymous"
}

// WithAPIKey returns a context carrying key.
func WithAPIKey(ctx context.Context, key *storage.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, key)
}

// keyFromRequest reads X-API-Key, falling back to a bearer token.
func keyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Middleware returns an HTTP middleware that validates API keys.
func Middleware(store storage.APIKeyStore, writeError func(w http.ResponseWriter, status int, code, message string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := keyFromRequest(r)
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "API key required")
				return
			}

			key, err := store.ValidateAPIKey(r.Context(), apiKey)
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
				return
			}
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Could not validate API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAPIKey(r.Context(), key)))
		})
	}
}
