package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/codehive/backend/internal/infrastructure/config"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(handlers...)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
	return router
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	router := newRouter(CORS(nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://editor.example.com")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	router := newRouter(CORS([]string{"https://editor.example.com"}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitBlocksBurstOverflow(t *testing.T) {
	router := newRouter(RateLimit(config.RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             2,
	}))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestRateLimitIsPerClient(t *testing.T) {
	router := newRouter(RateLimit(config.RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             1,
	}))

	for i, addr := range []string{"10.0.0.1:1234", "10.0.0.2:1234", "10.0.0.3:1234"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = addr
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "client %d", i)
	}
}
