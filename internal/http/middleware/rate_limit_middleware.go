package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/session-guard/internal/clock"
	"github.com/sandeepkv93/session-guard/internal/http/response"
	"github.com/sandeepkv93/session-guard/internal/observability"
)

// Counter is a fixed-window counter. service.InMemoryAttemptCounter and
// service.RedisAttemptCounter both satisfy it.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type RateLimiter struct {
	counter Counter
	limit   int
	window  time.Duration
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
	clock   clock.Clock
}

func NewRateLimiter(counter Counter, limit int, window time.Duration, mode FailureMode, scope string) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if scope == "" {
		scope = "api"
	}
	return &RateLimiter{
		counter: counter,
		limit:   limit,
		window:  window,
		mode:    mode,
		scope:   scope,
		keyFunc: clientIPKey,
		clock:   clock.System(),
	}
}

// WithClock sets the time source for the reset headers. It should be the
// clock the counter's windows are measured against.
func (rl *RateLimiter) WithClock(clk clock.Clock) *RateLimiter {
	if clk != nil {
		rl.clock = clk
	}
	return rl
}

func (rl *RateLimiter) WithKeyFunc(keyFunc func(r *http.Request) string) *RateLimiter {
	if keyFunc != nil {
		rl.keyFunc = keyFunc
	}
	return rl
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			n, err := rl.counter.Increment(r.Context(), "ratelimit:"+rl.scope+":"+key, rl.window)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error", string(rl.mode))
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				rl.deny(w, r)
				return
			}
			remaining := rl.limit - int(n)
			if remaining < 0 {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny", string(rl.mode))
				rl.deny(w, r)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.limit, remaining, rl.clock.Now().Add(rl.window))
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow", string(rl.mode))
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) deny(w http.ResponseWriter, r *http.Request) {
	writeRateLimitHeaders(w.Header(), rl.limit, 0, rl.clock.Now().Add(rl.window))
	w.Header().Set("Retry-After", retryAfterHeader(rl.window))
	response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

// ClientIP is the address recorded with sessions and security events.
func ClientIP(r *http.Request) string {
	return clientIPKey(r)
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}

func writeRateLimitHeaders(h http.Header, limit int, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", max(limit, 0)))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", max(remaining, 0)))
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}
