// Package security provides request hardening middleware.
package security

import (
	"encoding/json"
	"mime"
	"net/http"
)

// MaxBodySizeMiddleware limits the request body to maxSizeKB kilobytes.
// Handlers see *http.MaxBytesError once the limit is crossed.
func MaxBodySizeMiddleware(maxSizeKB int) func(http.Handler) http.Handler {
	maxBytes := int64(maxSizeKB) * 1024

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireJSON rejects request bodies declared as anything other than JSON.
// Requests without a Content-Type header pass through.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		ct := r.Header.Get("Content-Type")
		if ct == "" {
			next.ServeHTTP(w, r)
			return
		}
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnsupportedMediaType)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{
					"code":    "UNSUPPORTED_MEDIA_TYPE",
					"message": "Request body must be application/json",
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
