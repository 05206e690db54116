package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cql2omop/cql2omop/internal/platform/auth"
)

func rateLimited(cfg RateLimitConfig) echo.HandlerFunc {
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func callAs(t *testing.T, h echo.HandlerFunc, subject string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/translate", nil)
	if subject != "" {
		req = req.WithContext(context.WithValue(req.Context(), auth.SubjectKey, subject))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_WithinBurst(t *testing.T) {
	h := rateLimited(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec, err := callAs(t, h, "")
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	h := rateLimited(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if _, err := callAs(t, h, "analyst"); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec, err := callAs(t, h, "analyst")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	retry, convErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if convErr != nil || retry < 1 {
		t.Errorf("expected positive Retry-After, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Limit") != "0.5" {
		t.Errorf("expected fractional limit header, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected no tokens left, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_SeparateSubjects(t *testing.T) {
	h := rateLimited(RateLimitConfig{RequestsPerSecond: 0.1, BurstSize: 1})

	if _, err := callAs(t, h, "alice"); err != nil {
		t.Fatalf("alice: unexpected error: %v", err)
	}
	if _, err := callAs(t, h, "bob"); err != nil {
		t.Fatalf("bob should have his own bucket: %v", err)
	}
	if _, err := callAs(t, h, "alice"); err == nil {
		t.Error("expected alice to be limited")
	}
}

func TestRateLimit_InvalidConfigUsesDefaults(t *testing.T) {
	h := rateLimited(RateLimitConfig{})
	want := DefaultRateLimitConfig()

	for i := 0; i < want.BurstSize; i++ {
		if _, err := callAs(t, h, ""); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}
	if _, err := callAs(t, h, ""); err == nil {
		t.Error("expected the default burst to be enforced")
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func callPath(t *testing.T, h echo.HandlerFunc, path string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.SubjectKey, "analyst"))
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_TranslationCost(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cfg := RateLimitConfig{RequestsPerSecond: 1, BurstSize: 5, Cost: TranslationCost}
	h := rateLimit(newLimiter(cfg, clock.now), cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec, err := callPath(t, h, "/api/v1/translate")
	if err != nil {
		t.Fatalf("first translation: unexpected error: %v", err)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Errorf("expected 2 tokens left after a translation, got %q", got)
	}

	rec, err = callPath(t, h, "/api/v1/translate")
	if err == nil {
		t.Fatal("expected the second translation to be limited")
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}

	if _, err := callPath(t, h, "/api/v1/valuesets/scan"); err != nil {
		t.Errorf("expected a cheap request to pass, got %v", err)
	}

	clock.advance(2 * time.Second)
	if _, err := callPath(t, h, "/api/v1/translate"); err != nil {
		t.Errorf("expected translation after refill, got %v", err)
	}
}

func TestLimiter_Refill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 2, BurstSize: 1}, clock.now)

	if ok, _, _ := l.take("k", 1); !ok {
		t.Fatal("expected first token")
	}
	ok, _, wait := l.take("k", 1)
	if ok || wait != 500*time.Millisecond {
		t.Fatalf("expected refusal with 500ms wait, got ok=%v wait=%v", ok, wait)
	}
	clock.advance(500 * time.Millisecond)
	if ok, _, _ := l.take("k", 1); !ok {
		t.Error("expected bucket to refill")
	}
	clock.advance(time.Hour)
	if _, remaining, _ := l.take("k", 1); remaining != 0 {
		t.Errorf("expected refill capped at burst, got %v left", remaining)
	}
}

func TestLimiter_CostAboveBurstIsCapped(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}, clock.now)
	if ok, _, _ := l.take("k", 3); !ok {
		t.Error("expected a request costlier than the burst to be admissible")
	}
}

func TestLimiter_SweepsIdleCallers(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute}, clock.now)

	l.take("ip:10.0.0.1", 1)
	l.take("ip:10.0.0.2", 1)
	clock.advance(30 * time.Second)
	l.take("ip:10.0.0.2", 1)
	if l.size() != 2 {
		t.Fatalf("expected 2 callers, got %d", l.size())
	}

	clock.advance(45 * time.Second)
	l.take("ip:10.0.0.3", 1)
	if l.size() != 2 {
		t.Errorf("expected the idle caller to be dropped, got %d callers", l.size())
	}
}
