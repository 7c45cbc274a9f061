package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/ratelimit"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
	"github.com/jwalitptl/notify-api/pkg/logger"
)

type stubAPIKeyRepo struct {
	callers map[string]*model.Caller
}

func (r *stubAPIKeyRepo) LookupByKey(_ context.Context, key string) (*model.Caller, error) {
	caller, ok := r.callers[key]
	if !ok {
		return nil, apperrors.Unauthorized(nil)
	}
	return caller, nil
}

func authRouter(repo *stubAPIKeyRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewAuthMiddleware(repo).Authenticate())
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"app_id": c.GetString(ContextAppID)})
	})
	return r
}

func TestAuthenticate(t *testing.T) {
	repo := &stubAPIKeyRepo{callers: map[string]*model.Caller{
		"good-key":     {AppID: "app-1", IsActive: true},
		"inactive-key": {AppID: "app-2", IsActive: false},
	}}
	r := authRouter(repo)

	cases := []struct {
		name   string
		key    string
		status int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"unknown key", "bogus", http.StatusUnauthorized},
		{"deactivated app", "inactive-key", http.StatusForbidden},
		{"valid key", "good-key", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tc.key != "" {
				req.Header.Set(HeaderAPIKey, tc.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func limitedRouter(t *testing.T, policy ratelimit.Policy) *gin.Engine {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	limiter := ratelimit.New(rdb, ratelimit.Config{}, logger.Nop(), nil)
	rl := NewRateLimiter(limiter, nil)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(rl.Limit(policy, KeyFromAPIKey))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestLimit_EnforcesQuota(t *testing.T) {
	policy := ratelimit.Policy{Name: "test", Limit: 2, Window: time.Minute}
	r := limitedRouter(t, policy)

	get := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(HeaderAPIKey, key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := get("app-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	w = get("app-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = get("app-1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded, retry after")

	// Another identity has its own window.
	w = get("app-2")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLimit_SkipsWithoutIdentity(t *testing.T) {
	policy := ratelimit.Policy{Name: "test", Limit: 1, Window: time.Minute}
	r := limitedRouter(t, policy)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
