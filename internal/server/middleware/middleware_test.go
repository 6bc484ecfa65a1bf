package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/server/middleware"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

type countingLimiter struct {
	keys []string
	err  error
	deny bool
}

func (c *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	c.keys = append(c.keys, key)
	return !c.deny, c.err
}

func TestRateLimit(t *testing.T) {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name    string
		limiter *countingLimiter
		want    int
	}{
		{"allowed", &countingLimiter{}, http.StatusOK},
		{"denied", &countingLimiter{deny: true}, http.StatusTooManyRequests},
		{"limiter down fails open", &countingLimiter{deny: true, err: errors.New("redis down")}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := middleware.RateLimit(tt.limiter, 10, time.Second, discard)(ok)
			req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if len(tt.limiter.keys) != 1 || tt.limiter.keys[0] != "api:203.0.113.7" {
				t.Errorf("keys = %v", tt.limiter.keys)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	h := middleware.CORS([]string{"https://ops.example.com"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/queue", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://ops.example.com" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin echoed")
	}
}

func TestAuthWebSocketQueryKey(t *testing.T) {
	h := middleware.Auth("k")(ok)
	req := httptest.NewRequest(http.MethodGet, "/ws?api_key=k", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("ws query key = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/queue?api_key=k", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("query key outside /ws = %d", rec.Code)
	}
}
