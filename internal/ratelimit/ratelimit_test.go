package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/cache"
)

func newLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	backend := cache.NewMemoryBackend()
	t.Cleanup(func() { _ = backend.Close() })
	store := cache.NewKeyStore(backend, zap.NewNop().Sugar())
	return NewLimiter(store, cfg, zap.NewNop().Sugar())
}

func TestIncrementCounts(t *testing.T) {
	ctx := context.Background()
	l := newLimiter(t, Config{Limit: 60, Window: time.Minute})

	var count int64
	for i := 0; i < 5; i++ {
		count = l.Increment(ctx, "10.0.0.1", "/api/v1/base/access_token")
	}
	assert.Equal(t, int64(5), count)
}

func TestCheckDoesNotIncrement(t *testing.T) {
	ctx := context.Background()
	l := newLimiter(t, Config{Limit: 60, Window: time.Minute})

	for i := 0; i < 4; i++ {
		l.Increment(ctx, "10.0.0.1", "/p")
	}

	// over a limit of 3 after the 4th increment
	assert.False(t, l.Check(ctx, "10.0.0.1", "/p", 3))
	// Check reads without bumping the counter
	assert.False(t, l.Check(ctx, "10.0.0.1", "/p", 3))
	assert.True(t, l.Check(ctx, "10.0.0.1", "/p", 5))
}

func TestCheckAbsentScopeIsZero(t *testing.T) {
	l := newLimiter(t, Config{Limit: 60, Window: time.Minute})
	assert.True(t, l.Check(context.Background(), "10.0.0.9", "/never", 1))
}

func TestScopesAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := newLimiter(t, Config{Limit: 60, Window: time.Minute})

	for i := 0; i < 10; i++ {
		l.Increment(ctx, "10.0.0.1", "/a")
	}
	assert.Equal(t, int64(1), l.Increment(ctx, "10.0.0.1", "/b"))
	assert.Equal(t, int64(1), l.Increment(ctx, "10.0.0.2", "/a"))
}

func TestWindowExpiryResetsCount(t *testing.T) {
	ctx := context.Background()
	l := newLimiter(t, Config{Limit: 60, Window: 10 * time.Millisecond})

	l.Increment(ctx, "10.0.0.1", "/a")
	l.Increment(ctx, "10.0.0.1", "/a")
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, int64(1), l.Increment(ctx, "10.0.0.1", "/a"))
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	l := newLimiter(t, Config{Limit: 2, Window: time.Minute})
	handler := l.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(req))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "127.0.0.1", ClientIP(req))
}
