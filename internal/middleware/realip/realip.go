// Package realip resolves the client address of a request, honouring
// X-Forwarded-For only when the peer is a trusted proxy.
package realip

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey struct{}

// Config holds the configuration for the real IP middleware
type Config struct {
	// TrustProxy enables X-Forwarded-For header parsing
	TrustProxy bool
	// TrustedProxies is a list of CIDR ranges or bare addresses
	TrustedProxies []string
}

// Resolver extracts client addresses from requests.
type Resolver struct {
	trustProxy bool
	trusted    []netip.Prefix
}

// New parses the trusted proxy list.
func New(cfg Config) (*Resolver, error) {
	r := &Resolver{trustProxy: cfg.TrustProxy}
	if !cfg.TrustProxy {
		return r, nil
	}
	for _, entry := range cfg.TrustedProxies {
		p, err := ParsePrefix(entry)
		if err != nil {
			return nil, err
		}
		r.trusted = append(r.trusted, p)
	}
	return r, nil
}

// ParsePrefix accepts "10.0.0.0/8" as well as a single address, which is
// widened to a host prefix.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid trusted proxy %q", s)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Middleware stores the resolved client IP in the request context.
func (res *Resolver) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), contextKey{}, res.ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Middleware builds a Resolver and returns its middleware. Entries that
// fail to parse are ignored; use New to surface them.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	res := &Resolver{trustProxy: cfg.TrustProxy}
	if cfg.TrustProxy {
		for _, entry := range cfg.TrustedProxies {
			if p, err := ParsePrefix(entry); err == nil {
				res.trusted = append(res.trusted, p)
			}
		}
	}
	return res.Middleware()
}

// ClientIP walks X-Forwarded-For from the right and returns the first hop
// that is not a trusted proxy.
func (res *Resolver) ClientIP(r *http.Request) string {
	remote := hostOnly(r.RemoteAddr)
	if !res.trustProxy || !res.isTrusted(remote) {
		return remote
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return remote
	}

	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !res.isTrusted(hop) {
			return hop
		}
	}
	return strings.TrimSpace(hops[0])
}

func (res *Resolver) isTrusted(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range res.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// GetClientIP returns the address stored by the middleware, falling back
// to the peer address.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(contextKey{}).(string); ok && ip != "" {
		return ip
	}
	return hostOnly(r.RemoteAddr)
}
