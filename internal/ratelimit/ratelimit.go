package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/cache"
)

// Config tunes the per-(ip, path) request counter.
type Config struct {
	// Limit is the number of requests allowed per window.
	Limit int64
	// Window is the counting window length.
	Window time.Duration
}

func DefaultConfig() Config {
	return Config{Limit: 60, Window: time.Minute}
}

// Limiter counts requests per (client ip, path) scope on the shared cache
// backend. Increment and window start are one atomic backend operation, so
// a crash can never strand a counter without an expiry.
type Limiter struct {
	store  *cache.KeyStore
	cfg    Config
	logger *zap.SugaredLogger
}

func NewLimiter(store *cache.KeyStore, cfg Config, logger *zap.SugaredLogger) *Limiter {
	if cfg.Limit <= 0 {
		cfg = DefaultConfig()
	}
	return &Limiter{store: store, cfg: cfg, logger: logger}
}

// Increment bumps the counter for the scope and returns the new count. On
// the first increment in a window the expiry is set to the window length.
// A backend failure counts as zero so a cache outage never locks users out.
func (l *Limiter) Increment(ctx context.Context, ip, path string) int64 {
	count, err := l.store.IncrWindow(ctx, cache.RateLimitKey(ip, path), l.cfg.Window)
	if err != nil {
		l.logger.Warnw("rate limit increment failed", "ip", ip, "path", path, "err", err)
		return 0
	}
	return count
}

// Check reports whether the scope is still under limit without incrementing.
// An absent counter reads as zero.
func (l *Limiter) Check(ctx context.Context, ip, path string, limit int64) bool {
	raw, ok := l.store.GetString(ctx, cache.RateLimitKey(ip, path))
	if !ok {
		return true
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true
	}
	return count < limit
}

// Middleware rejects requests over the configured limit with 429.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			count := l.Increment(r.Context(), ip, r.URL.Path)
			if count > l.cfg.Limit {
				l.logger.Debugw("rate limited", "ip", ip, "path", r.URL.Path, "count", count)
				w.Header().Set("Retry-After", strconv.Itoa(int(l.cfg.Window.Seconds())))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the caller address, preferring X-Forwarded-For when a
// proxy sits in front.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
