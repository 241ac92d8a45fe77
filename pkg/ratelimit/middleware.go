package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Allower is what Middleware needs from a Limiter.
type Allower interface {
	Allow(ctx context.Context, id string) (Result, error)
}

// Middleware rejects requests over the caller's quota with 429 and sets the
// X-RateLimit-* headers on every response it lets through.
func Middleware(l Allower) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), callerID(r))
			if err != nil {
				slog.Warn("Rate limit check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
			if !res.Allowed {
				retry := res.RetryAfter(time.Now())
				h.Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// callerID is the client host. Behind a proxy, RemoteAddr is expected to
// have been rewritten from X-Forwarded-For already.
func callerID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
