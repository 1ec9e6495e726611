package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"reports": {RequestsPerMinute: 60, Burst: 1},
	}, nil)

	handler := limiter.Middleware("reports")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After of 1s, got %q", res.Header().Get("Retry-After"))
	}
}

func TestRateLimiterSeparatesGroups(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"reports":     {RequestsPerMinute: 60, Burst: 1},
		"submissions": {RequestsPerMinute: 60, Burst: 1},
	}, nil)

	reports := limiter.Middleware("reports")(okHandler())
	submissions := limiter.Middleware("submissions")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	res := httptest.NewRecorder()
	reports.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected reports request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	submissions.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/reports/x/submissions", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected first submissions request to succeed, got %d", res.Code)
	}
}

func TestRateLimiterChargesMethodTokens(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"submissions": {
			RequestsPerMinute: 60,
			Burst:             3,
			Tokens:            map[string]int{"POST": 3},
		},
	}, nil)
	fixed := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return fixed }

	handler := limiter.Middleware("submissions")(okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/reports/x/submissions", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected first upload to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/reports/x/submissions", nil))
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected upload to exhaust the burst, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") != "1" {
		t.Fatalf("unexpected Retry-After %q", res.Header().Get("Retry-After"))
	}
}

func TestRateLimiterKeysOnWalletBeforeIP(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"submissions": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	handler := limiter.Middleware("submissions")(okHandler())

	for _, wallet := range []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()} {
		req := httptest.NewRequest(http.MethodGet, "/v1/reports/x/submissions", nil)
		req = req.WithContext(context.WithValue(req.Context(), ContextKeyWallet, wallet))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected wallet %s to have its own budget, got %d", wallet, res.Code)
		}
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"reports": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("reports")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	now = now.Add(visitorIdleTimeout + time.Second)
	other := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	other.Header.Set("X-Real-IP", "10.0.0.2")
	handler.ServeHTTP(httptest.NewRecorder(), other)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.visitors["reports|10.0.0.1"]; ok {
		t.Fatalf("expected idle visitor to be swept")
	}
	if len(limiter.visitors) != 1 {
		t.Fatalf("expected one live visitor, got %d", len(limiter.visitors))
	}
}

func TestClientIDPrefersForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := clientID(req); got != "192.0.2.1" {
		t.Fatalf("remote addr: got %s", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientID(req); got != "203.0.113.7" {
		t.Fatalf("forwarded for: got %s", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.2")
	if got := clientID(req); got != "198.51.100.2" {
		t.Fatalf("real ip: got %s", got)
	}
}
