package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestKeyedLimiter_Allow(t *testing.T) {
	kl := NewKeyedLimiter(1, 2)

	ok, remaining := kl.Allow("alice")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	ok, _ = kl.Allow("alice")
	assert.True(t, ok)
	ok, _ = kl.Allow("alice")
	assert.False(t, ok)

	// separate bucket per key
	ok, _ = kl.Allow("bob")
	assert.True(t, ok)
}

func TestKeyedLimiter_Disabled(t *testing.T) {
	kl := NewKeyedLimiter(0, 0)
	for i := 0; i < 100; i++ {
		ok, _ := kl.Allow("alice")
		assert.True(t, ok)
	}
}

func TestKeyedLimiter_BoundedKeys(t *testing.T) {
	kl := NewKeyedLimiter(1, 1)
	kl.maxKeys = 3
	for _, k := range []string{"a", "b", "c", "d"} {
		kl.Allow(k)
	}
	assert.LessOrEqual(t, len(kl.limiters), 3)
}

func TestMiddleware(t *testing.T) {
	t.Run("sets headers", func(t *testing.T) {
		handler := NewKeyedLimiter(10, 20).Middleware(nil)(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "20", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "19", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("rejects over limit", func(t *testing.T) {
		handler := NewKeyedLimiter(1, 1).Middleware(func(*http.Request) string { return "k" })(okHandler())

		w1 := httptest.NewRecorder()
		handler.ServeHTTP(w1, httptest.NewRequest(http.MethodPost, "/api/v1/plan", nil))
		assert.Equal(t, http.StatusOK, w1.Code)

		w2 := httptest.NewRecorder()
		handler.ServeHTTP(w2, httptest.NewRequest(http.MethodPost, "/api/v1/plan", nil))
		assert.Equal(t, http.StatusTooManyRequests, w2.Code)
		assert.Equal(t, "1", w2.Header().Get("Retry-After"))
		assert.JSONEq(t, `{"error":"rate limit exceeded","retry_after":1}`, w2.Body.String())
	})
}

func TestRemoteIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "10.0.0.7", RemoteIP(req))
	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", RemoteIP(req))
}
