// Package ratelimit gates the inbox endpoints with a per-domain sliding
// window. The counter key is derived from the activity's actor host, then
// from the Signature header's keyId host, and finally from the client IP.
package ratelimit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/atolldev/atoll/internal/cache"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

var keyIdPattern = regexp.MustCompile(`keyId="([^"]+)"`)

// BlockChecker is the blocklist gate consulted before any counting happens.
type BlockChecker interface {
	IsBlocked(ctx context.Context, domain string) bool
}

type Limiter struct {
	counters cache.Counters
	guard    BlockChecker
	// Max is the number of requests allowed per key within one window.
	Max    int64
	Window time.Duration
}

func NewLimiter(counters cache.Counters, guard BlockChecker, max int64, window time.Duration) *Limiter {
	return &Limiter{
		counters: counters,
		guard:    guard,
		Max:      max,
		Window:   window,
	}
}

// Middleware wraps an inbox handler with the blocklist gate and the counter.
// The request body is buffered so the wrapped handler can re-read it.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			body = nil
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		domain := extractDomain(body, r.Header.Get("Signature"))
		if domain != "" && l.guard.IsBlocked(r.Context(), domain) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Instance is blocked."})
			return
		}

		key := "rate_limit:" + domain
		if domain == "" {
			key = "rate_limit:ip:" + clientIP(r)
		}

		count, reset := l.counters.Increment(key, l.Window)
		resetSeconds := int64(reset.Round(time.Second) / time.Second)
		if resetSeconds < 1 {
			resetSeconds = 1
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(l.Max, 10))
		remaining := l.Max - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetSeconds, 10))

		// The limit applies to the pre-increment count, so request Max+1 is
		// the first one rejected.
		if count-1 >= l.Max {
			log.Debug().Str("key", key).Int64("count", count).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", strconv.FormatInt(resetSeconds, 10))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Rate limit exceeded. Please slow down."})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractDomain picks the counter namespace: the activity actor's host when
// the body parses, else the host inside the Signature header's keyId.
// Empty means fall back to the client IP.
func extractDomain(body []byte, signature string) string {
	var activity struct {
		Actor string `json:"actor"`
	}
	if err := json.Unmarshal(body, &activity); err == nil && activity.Actor != "" {
		if u, err := url.Parse(activity.Actor); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}

	if m := keyIdPattern.FindStringSubmatch(signature); m != nil {
		if u, err := url.Parse(m[1]); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
