package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/stemsi/exstem-integrity/internal/response"
)

func TestRateLimiter_AllowAndRefill(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(ctx, 2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("user:7"))
	assert.True(t, rl.Allow("user:7"))
	assert.False(t, rl.Allow("user:7"))
	assert.True(t, rl.Allow("user:8"), "buckets are per key")

	now = now.Add(30 * time.Second)
	assert.False(t, rl.Allow("user:7"), "no partial refill")

	now = now.Add(31 * time.Second)
	assert.True(t, rl.Allow("user:7"))
}

func TestRateLimiter_CleanupEvictsStaleVisitors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(ctx, 1, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Allow("ip:1.2.3.4")
	now = now.Add(10 * time.Minute)
	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.visitors)
}

func TestRateLimiter_MiddlewareKeysByUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 1, time.Minute)
	r := gin.New()
	r.PUT("/draft", RequireStudentJWT(tokens), rl.Middleware(), okHandler)

	put := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/draft", nil)
		req.Header.Set("Authorization", "Bearer student")
		return serve(r, req)
	}

	assert.Equal(t, http.StatusOK, put().Code)
	w := put()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, response.ErrRateLimitExceeded, errorCode(t, w))
}
