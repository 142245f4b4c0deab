package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/software3/software3/internal/config"
)

func reqFromIP(ip string) *http.Request {
	r := httptest.NewRequest("GET", "/api/stats", nil)
	r.RemoteAddr = ip + ":12345"
	return r
}

func newTestLimiter(rps float64, burst, maxClients int) (*clientLimiter, *time.Time) {
	l := newClientLimiter(config.RateLimitConfig{
		RequestsPerSecond: rps,
		Burst:             burst,
		MaxClients:        maxClients,
		IdleTimeout:       "1m",
	}, zerolog.Nop())
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestClientLimiterEvictsLeastRecent(t *testing.T) {
	l, _ := newTestLimiter(100, 100, 3)
	wrapped := l.middleware(okHandler())

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"} {
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, reqFromIP(ip))
		if w.Code != http.StatusOK {
			t.Fatalf("IP %s: expected 200, got %d", ip, w.Code)
		}
	}
	if n := l.len(); n != 3 {
		t.Errorf("tracked clients = %d, want 3", n)
	}
	if _, ok := l.clients["1.1.1.1"]; ok {
		t.Error("least recent client was kept")
	}
}

func TestClientLimiterExhaustedBurst(t *testing.T) {
	l, _ := newTestLimiter(1, 1, 2)
	wrapped := l.middleware(okHandler())

	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, reqFromIP("1.1.1.1"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	wrapped.ServeHTTP(w, reqFromIP("1.1.1.1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}

	// push 1.1.1.1 out; it comes back with a fresh bucket
	for _, ip := range []string{"2.2.2.2", "3.3.3.3"} {
		wrapped.ServeHTTP(httptest.NewRecorder(), reqFromIP(ip))
	}
	w = httptest.NewRecorder()
	wrapped.ServeHTTP(w, reqFromIP("1.1.1.1"))
	if w.Code != http.StatusOK {
		t.Errorf("evicted IP returning: expected 200, got %d", w.Code)
	}
}

func TestClientLimiterRefills(t *testing.T) {
	l, now := newTestLimiter(1, 1, 10)

	if !l.allow("1.1.1.1") {
		t.Fatal("first request refused")
	}
	if l.allow("1.1.1.1") {
		t.Fatal("second request allowed before refill")
	}
	*now = now.Add(time.Second)
	if !l.allow("1.1.1.1") {
		t.Error("request refused after refill")
	}
}

func TestClientLimiterSweep(t *testing.T) {
	l, now := newTestLimiter(10, 10, 10)

	l.allow("1.1.1.1")
	*now = now.Add(45 * time.Second)
	l.allow("2.2.2.2")
	*now = now.Add(30 * time.Second)

	if n := l.sweep(); n != 1 {
		t.Errorf("sweep() dropped %d, want 1", n)
	}
	if _, ok := l.clients["2.2.2.2"]; !ok {
		t.Error("recent client was dropped")
	}
}

func TestClientLimiterConcurrentAccess(t *testing.T) {
	l := newClientLimiter(config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000, MaxClients: 100}, zerolog.Nop())
	wrapped := l.middleware(okHandler())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ip := fmt.Sprintf("10.0.%d.%d", id/256, id%256)
			for j := 0; j < 10; j++ {
				w := httptest.NewRecorder()
				wrapped.ServeHTTP(w, reqFromIP(ip))
				if w.Code != http.StatusOK {
					t.Errorf("IP %s: got %d under concurrent load", ip, w.Code)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestClientLimiterRunStopsOnCancel(t *testing.T) {
	l := newClientLimiter(config.RateLimitConfig{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep loop did not exit within 2s")
	}
}
