package security

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/pendergraft/reportchain/internal/middleware/realip"
)

// probePrefixes are paths only vulnerability scanners ask for. None of them
// can collide with /api/v1, the legacy report paths or the health checks.
var probePrefixes = []string{
	"/.env",
	"/.git/",
	"/.htaccess",
	"/.htpasswd",
	"/admin/",
	"/cgi-bin/",
	"/config.",
	"/phpinfo",
	"/phpmyadmin",
	"/server-status",
	"/shell",
	"/web-inf/",
	"/wp-",
	"/xmlrpc.php",
}

// traversalMarkers are checked in the path and again after one round of
// unescaping.
var traversalMarkers = []string{
	"../",
	"..%2f",
	"..%5c",
	"%2e%2e/",
	"%00",
}

// ProbeFilter answers scanner probes and path traversal attempts with a
// generic 400 before they reach routing, rate limiting or request logs.
func ProbeFilter(enabled bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reason := probeReason(r.URL); reason != "" {
				logger.DebugContext(r.Context(), "blocked probe",
					"path", r.URL.Path,
					"reason", reason,
					"remote_ip", realip.GetClientIP(r),
				)
				writeBlocked(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func probeReason(u *url.URL) string {
	path := strings.ToLower(u.Path)
	for _, p := range probePrefixes {
		if strings.HasPrefix(path, p) {
			return "scanner"
		}
	}

	raw := u.EscapedPath()
	candidates := []string{path, strings.ToLower(raw)}
	if decoded, err := url.PathUnescape(raw); err == nil {
		candidates = append(candidates, strings.ToLower(decoded))
	}
	for _, c := range candidates {
		for _, m := range traversalMarkers {
			if strings.Contains(c, m) {
				return "traversal"
			}
		}
	}
	return ""
}

func writeBlocked(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    "BAD_REQUEST",
			"message": "Invalid request",
		},
	})
}
