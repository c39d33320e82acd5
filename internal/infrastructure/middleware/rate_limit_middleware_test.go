package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"midilink/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func limitedRouter(limiter gin.HandlerFunc, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()), limiter)
	router.GET("/api/v1/stats", handler)
	return router
}

func okHandler(c *gin.Context) { c.Status(http.StatusOK) }

func limitedConfig(rps float64, burst, maxConcurrent int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = rps
	cfg.RateLimiting.HTTP.Burst = burst
	cfg.RateLimiting.HTTP.MaxConcurrent = maxConcurrent
	return cfg
}

func TestHTTPRateLimit_DisabledAllowsEverything(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := limitedRouter(NewHTTPRateLimitMiddleware(cfg), okHandler)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)).Code)
	}
}

func TestHTTPRateLimit_RejectsOverBurst(t *testing.T) {
	router := limitedRouter(NewHTTPRateLimitMiddleware(limitedConfig(0.001, 1, 0)), okHandler)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestHTTPRateLimit_PerClient(t *testing.T) {
	router := limitedRouter(NewHTTPRateLimitMiddleware(limitedConfig(0.001, 1, 0)), okHandler)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
		req.Header.Set("X-Forwarded-For", ip+", 192.168.1.1")
		assert.Equal(t, http.StatusOK, serve(router, req).Code, ip)
	}
}

func TestHTTPRateLimit_MaxConcurrent(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	blocking := func(c *gin.Context) {
		close(entered)
		<-release
		c.Status(http.StatusOK)
	}
	router := limitedRouter(NewHTTPRateLimitMiddleware(limitedConfig(1000, 1000, 1)), blocking)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	}()
	<-entered

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "SERVICE_UNAVAILABLE")

	close(release)
	wg.Wait()
}

func TestClientLimiters_EvictsIdleClients(t *testing.T) {
	now := time.Unix(1000, 0)
	limiters := newClientLimiters(rate.Limit(1), 1, time.Minute)
	limiters.now = func() time.Time { return now }

	assert.True(t, limiters.allow("10.0.0.1"))
	assert.False(t, limiters.allow("10.0.0.1"))
	now = now.Add(30 * time.Second)
	assert.True(t, limiters.allow("10.0.0.2"))
	assert.Equal(t, 2, limiters.size())

	now = now.Add(45 * time.Second)
	assert.True(t, limiters.allow("10.0.0.2"))
	assert.Equal(t, 1, limiters.size(), "10.0.0.1 idle for 75s")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	assert.Equal(t, "127.0.0.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "127.0.0.1", clientIP(req))
}
