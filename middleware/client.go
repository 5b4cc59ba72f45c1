package middleware

import (
	"net"
	"net/http"
	"strings"

	healthauth "github.com/ppulimamidy/PersonalHealthAssistant-sub005"
)

// ClientContext records the caller's IP address and User-Agent in the
// request context. With trustForwarded set, the first X-Forwarded-For hop
// wins over RemoteAddr; only enable it behind a proxy that rewrites the
// header.
func ClientContext(trustForwarded bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if ip := clientIP(r, trustForwarded); ip != "" {
				ctx = healthauth.WithClientIP(ctx, ip)
			}
			if ua := r.UserAgent(); ua != "" {
				ctx = healthauth.WithUserAgent(ctx, ua)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}
