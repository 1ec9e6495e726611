package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"solfind/observability"
)

const visitorIdleTimeout = 5 * time.Minute

// RateLimit is the budget for one route group. Tokens charges some methods
// more than one token per request; uploads are the usual case.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
	DefaultTokens     int
	Tokens            map[string]int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles each client per route group. A client is the
// authenticated wallet when there is one and the remote IP otherwise.
type RateLimiter struct {
	logger    *slog.Logger
	limits    map[string]RateLimit
	mu        sync.Mutex
	visitors  map[string]*rateEntry
	lastSweep time.Time
	clockNow  func() time.Time
}

func NewRateLimiter(limits map[string]RateLimit, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		logger:   logger,
		limits:   limits,
		visitors: make(map[string]*rateEntry),
		clockNow: time.Now,
	}
}

func (r *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			limit, ok := r.limits[key]
			if !ok {
				next.ServeHTTP(w, req)
				return
			}
			identifier := key + "|" + clientID(req)
			now := r.clockNow()
			limiter := r.obtainLimiter(identifier, limit, now)
			cost := limit.cost(req.Method)
			if !limiter.AllowN(now, cost) {
				observability.Gateway().RecordThrottle("rate_limit")
				r.logger.Debug("request throttled", slog.String("group", key), slog.String("method", req.Method), slog.String("path", req.URL.Path))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limit, cost)))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests. Slow down and try again.")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (l RateLimit) cost(method string) int {
	if n, ok := l.Tokens[strings.ToUpper(method)]; ok && n > 0 {
		return n
	}
	if l.DefaultTokens > 0 {
		return l.DefaultTokens
	}
	return 1
}

func (l RateLimit) perSecond() float64 {
	perSecond := l.RequestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	return perSecond
}

func retryAfterSeconds(l RateLimit, cost int) int {
	secs := int(float64(cost)/l.perSecond() + 0.999)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (r *RateLimiter) obtainLimiter(id string, cfg RateLimit, now time.Time) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(now)
	entry, ok := r.visitors[id]
	if ok {
		entry.lastSeen = now
		return entry.limiter
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.perSecond()), burst)
	r.visitors[id] = &rateEntry{limiter: limiter, lastSeen: now}
	return limiter
}

func (r *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < visitorIdleTimeout {
		return
	}
	r.lastSweep = now
	for id, entry := range r.visitors {
		if now.Sub(entry.lastSeen) >= visitorIdleTimeout {
			delete(r.visitors, id)
		}
	}
}

func clientID(r *http.Request) string {
	if wallet, ok := WalletFromContext(r.Context()); ok {
		return "wallet:" + wallet.String()
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if parsed := net.ParseIP(ip); parsed != nil {
			return parsed.String()
		}
		if comma := strings.IndexByte(ip, ','); comma > 0 {
			trimmed := strings.TrimSpace(ip[:comma])
			if parsed := net.ParseIP(trimmed); parsed != nil {
				return parsed.String()
			}
		}
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
