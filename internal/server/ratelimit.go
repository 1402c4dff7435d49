package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"jobpilot/internal/errors"
)

const limiterIdleTTL = 10 * time.Minute

type client struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter keeps one token bucket per caller (API key or client IP).
// Buckets idle for limiterIdleTTL are evicted.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*client
	rate     rate.Limit
	burst    int
	rejected atomic.Int64
	done     chan struct{}
	once     sync.Once
	logger   *errors.Logger
}

// NewRateLimiter allows requestsPerMin per key with a token bucket of
// burstCapacity.
func NewRateLimiter(requestsPerMin, burstCapacity int, logger *errors.Logger) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*client),
		rate:    rate.Limit(float64(requestsPerMin) / 60.0),
		burst:   burstCapacity,
		done:    make(chan struct{}),
		logger:  logger,
	}
	go rl.evictLoop(limiterIdleTTL)
	return rl
}

// Reserve takes a token for key. When none is available it returns false
// and how long the caller should wait; the token is not consumed then.
func (rl *RateLimiter) Reserve(key string) (bool, time.Duration) {
	now := time.Now()

	rl.mu.Lock()
	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[key] = c
	}
	c.seen = now
	rl.mu.Unlock()

	res := c.limiter.ReserveN(now, 1)
	if !res.OK() {
		rl.rejected.Add(1)
		return false, time.Minute
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		rl.rejected.Add(1)
		return false, delay
	}
	return true, 0
}

// Allow reports whether key may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.Reserve(key)
	return ok
}

// GetStats is shown on /stats.
func (rl *RateLimiter) GetStats() map[string]any {
	rl.mu.Lock()
	active := len(rl.clients)
	rl.mu.Unlock()

	return map[string]any{
		"enabled":         true,
		"active_clients":  active,
		"rate_per_minute": float64(rl.rate) * 60.0,
		"burst_capacity":  rl.burst,
		"rejected_total":  rl.rejected.Load(),
	}
}

func (rl *RateLimiter) evictLoop(ttl time.Duration) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			rl.evict(now.Add(-ttl))
		case <-rl.done:
			return
		}
	}
}

func (rl *RateLimiter) evict(before time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, c := range rl.clients {
		if c.seen.Before(before) {
			delete(rl.clients, key)
		}
	}
	rl.logger.Debug("Rate limiter eviction", "active_clients", len(rl.clients))
}

// Close stops the eviction goroutine.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.done) })
}

// rateLimitMiddleware rejects requests over the per-key budget with 429 and
// a Retry-After hint in whole seconds.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.RateLimit == nil || !s.RateLimit.Enabled || s.RateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rateLimitKey(r, s.RateLimit.ByAPIKey, s.RateLimit.ByIP)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		ok, wait := s.RateLimiter.Reserve(key)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		s.Logger.Info("Rate limit exceeded",
			"endpoint", r.URL.Path,
			"client_ip", getClientIP(r),
			"retry_after", wait.String())
		s.om.GetMetrics().RecordPipelineMetric(r.Context(), "rate_limit_hit", 1, s.om,
			attribute.String("service", s.Service.Name()),
			attribute.String("endpoint", r.URL.Path))

		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "Rate limit exceeded", Detail: "Too many requests"})
	})
}

func rateLimitKey(r *http.Request, byAPIKey, byIP bool) string {
	if byAPIKey {
		if key := apiKeyFromRequest(r); key != "" {
			return "key:" + key
		}
	}
	if byIP {
		return "ip:" + getClientIP(r)
	}
	return ""
}

// getClientIP prefers the first valid X-Forwarded-For entry, then
// X-Real-IP, then the connection address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for ip := range strings.SplitSeq(xff, ",") {
			ip = strings.TrimSpace(ip)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
