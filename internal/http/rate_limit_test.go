package httpx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newMemoryRateLimiter(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("ip:1.2.3.4", 3, time.Minute).allowed)
	}
	blocked := rl.Allow("ip:1.2.3.4", 3, time.Minute)
	assert.False(t, blocked.allowed)
	assert.Equal(t, 3, blocked.count)
	assert.True(t, rl.Allow("ip:5.6.7.8", 3, time.Minute).allowed)

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("ip:1.2.3.4", 3, time.Minute).allowed)

	rl.cleanup(now.Add(2 * time.Minute))
	assert.Empty(t, rl.entries)
}

func TestRedisRateLimiterWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rl := newRedisRateLimiter(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	first := rl.Allow("user:42", 2, time.Minute)
	assert.True(t, first.allowed)
	assert.Equal(t, 1, first.count)
	assert.True(t, rl.Allow("user:42", 2, time.Minute).allowed)
	assert.False(t, rl.Allow("user:42", 2, time.Minute).allowed)
	assert.True(t, mr.Exists("onedeploy:ratelimit:user:42"))

	mr.FastForward(time.Minute + time.Second)
	assert.True(t, rl.Allow("user:42", 2, time.Minute).allowed)
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	rl := newRedisRateLimiter(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mr.Close()

	assert.True(t, rl.Allow("user:42", 1, time.Minute).allowed)
	assert.True(t, rl.Allow("user:42", 1, time.Minute).allowed)
}

func TestWithRateLimitReturns429(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Limiter = newMemoryRateLimiter(time.Now)
	})
	handler := h.router.withRateLimit("/test", 1, time.Minute, rateLimitKeyIP, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	first := httptest.NewRecorder()
	handler(first, req)
	require.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := httptest.NewRecorder()
	handler(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
	assert.Equal(t, "ip:203.0.113.9", rateLimitKeyIP(req))
	assert.Equal(t, "ip", rateMetricKey("ip:203.0.113.9"))
}
