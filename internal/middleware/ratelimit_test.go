package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/uilm/uilm-service/internal/tenant"
)

func newTestLimiter(t *testing.T, rpm, burst int) *MemoryLimiter {
	t.Helper()
	l := NewMemoryLimiter(RateLimitConfig{
		RequestsPerMinute: rpm,
		BurstSize:         burst,
		CleanupInterval:   time.Hour,
	})
	t.Cleanup(l.Stop)
	return l
}

func TestEventRateLimitConfig(t *testing.T) {
	cfg := EventRateLimitConfig()
	if cfg.RequestsPerMinute != 30 || cfg.BurstSize != 5 {
		t.Errorf("EventRateLimitConfig() = %+v", cfg)
	}
}

func TestMemoryLimiter_AllowsUpToBurst(t *testing.T) {
	l := newTestLimiter(t, 1, 3)
	ctx := context.Background()

	for i := range 3 {
		d, err := l.Allow(ctx, "tenant:p1")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied inside burst", i)
		}
	}

	d, _ := l.Allow(ctx, "tenant:p1")
	if d.Allowed {
		t.Fatal("request beyond burst was allowed")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", d.RetryAfter)
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l := newTestLimiter(t, 1, 1)
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "a"); !d.Allowed {
		t.Fatal("first request for a denied")
	}
	if d, _ := l.Allow(ctx, "a"); d.Allowed {
		t.Fatal("second request for a allowed")
	}
	if d, _ := l.Allow(ctx, "b"); !d.Allowed {
		t.Error("first request for b denied")
	}
}

func TestMemoryLimiter_StopIsIdempotent(t *testing.T) {
	l := NewMemoryLimiter(RateLimitConfig{RequestsPerMinute: 10})
	l.Stop()
	l.Stop()
}

type stubLimiter struct {
	decision Decision
	err      error
	keys     []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (Decision, error) {
	s.keys = append(s.keys, key)
	return s.decision, s.err
}

func rateLimitedRouter(l Limiter, t *tenant.Tenant) *gin.Engine {
	r := gin.New()
	if t != nil {
		r.Use(func(c *gin.Context) { SetTenant(c, *t); c.Next() })
	}
	r.Use(RateLimitMiddleware(l))
	r.POST("/events", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	return r
}

func TestRateLimitMiddleware_Allowed(t *testing.T) {
	stub := &stubLimiter{decision: Decision{Allowed: true, Limit: 30, Remaining: 29}}
	tn := tenant.New("proj-1", "alice")
	r := rateLimitedRouter(stub, &tn)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "30" || w.Header().Get("X-RateLimit-Remaining") != "29" {
		t.Errorf("rate limit headers = %q/%q", w.Header().Get("X-RateLimit-Limit"), w.Header().Get("X-RateLimit-Remaining"))
	}
	if len(stub.keys) != 1 || stub.keys[0] != "tenant:proj-1" {
		t.Errorf("limiter keys = %v, want [tenant:proj-1]", stub.keys)
	}
}

func TestRateLimitMiddleware_Denied(t *testing.T) {
	stub := &stubLimiter{decision: Decision{Limit: 30, RetryAfter: 1500 * time.Millisecond}}
	r := rateLimitedRouter(stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/events", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	if len(stub.keys) != 1 || stub.keys[0] != "ip:10.1.2.3" {
		t.Errorf("limiter keys = %v, want [ip:10.1.2.3]", stub.keys)
	}
}

func TestRateLimitMiddleware_LimiterErrorFailsOpen(t *testing.T) {
	stub := &stubLimiter{err: errors.New("redis down")}
	r := rateLimitedRouter(stub, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events", nil))

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
}
