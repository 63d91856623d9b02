package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestLimiter_Allow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)}
	rl := newLimiter(Config{RequestsPerMinute: 3}, clock.Now)
	defer rl.Stop()

	for i := 1; i <= 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d refused, want allowed", i)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("request 4 allowed, want refused")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("other client refused")
	}
	if rl.Rejected() != 1 {
		t.Errorf("Rejected() = %d, want 1", rl.Rejected())
	}

	clock.Advance(20 * time.Second)
	if got := rl.RetryAfter("1.2.3.4"); got != 40*time.Second {
		t.Errorf("RetryAfter() = %v, want 40s", got)
	}
	// Requests inside the window do not extend it.
	if rl.Allow("1.2.3.4") {
		t.Error("request inside window allowed")
	}

	clock.Advance(40 * time.Second)
	if !rl.Allow("1.2.3.4") {
		t.Error("request in a new window refused")
	}
}

func TestLimiter_CleanupStaleEntries(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)}
	rl := newLimiter(Config{RequestsPerMinute: 10, CleanupInterval: time.Hour}, clock.Now)
	defer rl.Stop()

	rl.Allow("old")
	clock.Advance(11 * time.Minute)
	rl.Allow("fresh")

	if removed := rl.cleanupStaleEntries(); removed != 1 {
		t.Errorf("cleanupStaleEntries() = %d, want 1", removed)
	}
	if rl.ActiveClients() != 1 {
		t.Errorf("ActiveClients() = %d, want 1", rl.ActiveClients())
	}
}

func TestLimiter_Middleware(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)}
	rl := newLimiter(Config{RequestsPerMinute: 1}, clock.Now)
	defer rl.Stop()
	rl.Stop() // idempotent

	h := rl.Middleware(func(*http.Request) string { return "9.9.9.9" }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Errorf("second request status = %d, Retry-After = %q", rr.Code, rr.Header().Get("Retry-After"))
	}
}
