package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cql2omop/cql2omop/internal/platform/auth"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// Cost weighs a request in tokens. Nil charges one token per request.
	Cost func(c echo.Context) float64
	// IdleTTL drops callers not seen for this long. Zero keeps them forever.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig allows a short burst of translations per caller.
// Every translation makes several completion calls, so the steady rate is low.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 0.5,
		BurstSize:         5,
		IdleTTL:           10 * time.Minute,
	}
}

// TranslationCost charges a full pipeline run one token per completion stage
// (generate, validate, correct) and any other request one token.
func TranslationCost(c echo.Context) float64 {
	if strings.HasSuffix(c.Request().URL.Path, "/translate") {
		return 3
	}
	return 1
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// limiter keeps one token bucket per caller key.
type limiter struct {
	rate    float64
	burst   float64
	idle    time.Duration
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

func newLimiter(cfg RateLimitConfig, now func() time.Time) *limiter {
	return &limiter{
		rate:    cfg.RequestsPerSecond,
		burst:   float64(cfg.BurstSize),
		idle:    cfg.IdleTTL,
		now:     now,
		buckets: make(map[string]*bucket),
		swept:   now(),
	}
}

// take charges cost tokens to key. It returns the tokens left and, when the
// request is refused, how long until enough tokens have accumulated. A cost
// above the burst size is charged as the burst size.
func (l *limiter) take(key string, cost float64) (ok bool, remaining float64, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, found := l.buckets[key]
	if !found {
		b = &bucket{tokens: l.burst, seen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.seen).Seconds()*l.rate)
	b.seen = now
	l.sweep(now)

	cost = math.Min(cost, l.burst)
	if b.tokens >= cost {
		b.tokens -= cost
		return true, b.tokens, 0
	}
	return false, b.tokens, time.Duration((cost - b.tokens) / l.rate * float64(time.Second))
}

func (l *limiter) sweep(now time.Time) {
	if l.idle <= 0 || now.Sub(l.swept) < l.idle {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= l.idle {
			delete(l.buckets, key)
		}
	}
	l.swept = now
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit limits requests per authenticated subject, or per client IP for
// anonymous callers. It must run after the auth middleware.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		cost := cfg.Cost
		cfg = DefaultRateLimitConfig()
		cfg.Cost = cost
	}
	return rateLimit(newLimiter(cfg, time.Now), cfg)
}

func rateLimit(l *limiter, cfg RateLimitConfig) echo.MiddlewareFunc {
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if sub := auth.SubjectFromContext(c.Request().Context()); sub != "" {
				key = "sub:" + sub
			}
			cost := 1.0
			if cfg.Cost != nil {
				cost = cfg.Cost(c)
			}

			ok, remaining, wait := l.take(key, cost)
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(int(remaining)))
			if !ok {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
