package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("k3y")(ok)

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{"health is open", func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/health", nil) }, http.StatusOK},
		{"missing", func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/view", nil) }, http.StatusUnauthorized},
		{"bearer", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api/view", nil)
			r.Header.Set("Authorization", "bearer k3y")
			return r
		}, http.StatusOK},
		{"header key wrong", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/api/actions/borrow", nil)
			r.Header.Set("X-API-Key", "nope")
			return r
		}, http.StatusUnauthorized},
		{"ws query token", func() *http.Request { return httptest.NewRequest(http.MethodGet, "/ws?token=k3y", nil) }, http.StatusOK},
		{"query token only on ws", func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/view?token=k3y", nil) }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, serve(h, tt.req()).Code)
		})
	}

	assert.Equal(t, http.StatusOK, serve(Auth("")(ok), httptest.NewRequest(http.MethodGet, "/api/view", nil)).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/view", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := serve(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/view", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestRateLimit(t *testing.T) {
	l := &stubLimiter{}
	req := httptest.NewRequest(http.MethodPost, "/api/actions/borrow", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.9, 10.0.0.1")
	rec := serve(RateLimit(l, "actions")(ok), req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"actions:10.0.0.9"}, l.keys)

	// Backend errors fail open.
	l = &stubLimiter{err: errors.New("redis down")}
	assert.Equal(t, http.StatusOK, serve(RateLimit(l, "actions")(ok), req).Code)
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, levelFor("/api/health", 200))
	assert.Equal(t, slog.LevelInfo, levelFor("/api/view", 200))
	assert.Equal(t, slog.LevelWarn, levelFor("/api/view", 409))
	assert.Equal(t, slog.LevelError, levelFor("/api/health", 502))
}
