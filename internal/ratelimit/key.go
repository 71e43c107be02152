package ratelimit

import (
	"net/http"
	"strings"

	"github.com/GandRedZ/RedZ/internal/auth"
)

// KeyFor builds the window key for a request. Authenticated callers
// are keyed by subject so the limit follows the identity across
// addresses; anonymous callers are keyed by client IP. The method and
// path scope the window to one endpoint.
func KeyFor(r *http.Request, p *auth.Principal) string {
	var id string
	if p != nil && p.Subject != "" {
		id = "sub:" + p.Subject
	} else {
		id = "ip:" + GetClientIP(r)
	}
	return "rl:" + id + ":" + r.Method + ":" + r.URL.Path
}

// GetClientIP extracts the client IP from the request.
func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}

	// Remove brackets from IPv6 addresses
	ip = strings.TrimPrefix(ip, "[")
	ip = strings.TrimSuffix(ip, "]")

	return ip
}
