package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitPerClient(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	h := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	hit := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, hit("10.0.0.1:5000"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.1:5001"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1:5002"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.2:5000"))

	fixed = fixed.Add(time.Second)
	assert.Equal(t, http.StatusOK, hit("10.0.0.1:5003"))
}

func TestRateLimitDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 50; i++ {
		assert.True(t, rl.Allow("client"))
	}
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(5, 5)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return start }
	rl.Allow("old")

	rl.now = func() time.Time { return start.Add(visitorIdleTTL + time.Second) }
	rl.Allow("new")
	rl.Sweep()

	assert.Equal(t, 1, rl.size())
}
