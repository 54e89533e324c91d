package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AlexKimmel/RoleGate/internal/auth"
	"github.com/AlexKimmel/RoleGate/internal/ratelimit"
	"github.com/AlexKimmel/RoleGate/internal/ratelimit/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T, lim ratelimit.Limiter) http.Handler {
	t.Helper()
	store := auth.NewStatic("X-API-Key", map[string]auth.Principal{
		"user-key":  {ID: "u1", Role: "user"},
		"ghost-key": {ID: "g1", Role: "ghost"},
	})
	skip := map[string]struct{}{"/health": {}}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Chain(ok, BodyLimit(1024), store.Middleware(skip), RateLimit(lim, skip))
}

func do(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_BurstThen429(t *testing.T) {
	now := time.Unix(1733591692, 0)
	lim, err := memory.New(map[string]ratelimit.BucketConfig{
		"user": {Capacity: 2, RefillRatePerSecond: 0.5},
	}, memory.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	h := newHandler(t, lim)

	rec := do(h, "/v1/resource", "user-key")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1733591694", rec.Header().Get("X-RateLimit-Reset"))

	rec = do(h, "/v1/resource", "user-key")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = do(h, "/v1/resource", "user-key")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestRateLimit_UnknownRole(t *testing.T) {
	lim, err := memory.New(map[string]ratelimit.BucketConfig{
		"user": {Capacity: 2, RefillRatePerSecond: 0.5},
	})
	require.NoError(t, err)

	rec := do(newHandler(t, lim), "/v1/resource", "ghost-key")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unknown_role", body.Error.Code)
	assert.Equal(t, `no rate limit policy for role "ghost"`, body.Error.Message)
	assert.Equal(t, 0, lim.Len())
}

func TestRateLimit_SkipsOpsPaths(t *testing.T) {
	lim, err := memory.New(map[string]ratelimit.BucketConfig{
		"user": {Capacity: 1, RefillRatePerSecond: 0.5},
	})
	require.NoError(t, err)
	h := newHandler(t, lim)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(h, "/health", "").Code)
	}
	assert.Equal(t, 0, lim.Len())
}

type failingLimiter struct{}

func (failingLimiter) RegisterRole(string, ratelimit.BucketConfig) error { return nil }
func (failingLimiter) Allow(context.Context, string, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("boom")
}
func (failingLimiter) RemoveIdentity(string) {}
func (failingLimiter) Close() error          { return nil }

func TestRateLimit_LimiterError(t *testing.T) {
	rec := do(newHandler(t, failingLimiter{}), "/v1/resource", "user-key")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limiter_error")
}

func TestRateLimit_NoPrincipal(t *testing.T) {
	lim, err := memory.New(nil)
	require.NoError(t, err)

	h := RateLimit(lim, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := do(h, "/v1/resource", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("a"), mark("b"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}
