package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimit_AllowsThenBlocks(t *testing.T) {
	h := RateLimit(60, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "1.2.3.4:1234"

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != 200 {
			t.Fatalf("want 200 got %d", rr.Code)
		}
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != 429 {
		t.Fatalf("want 429 got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}

	// a different client has its own bucket
	other := httptest.NewRequest("GET", "/", nil)
	other.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, other)
	if rr2.Code != 200 {
		t.Fatalf("want 200 for other client got %d", rr2.Code)
	}
}

func TestLimiter_RefillAndEviction(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newLimiter(1, 1, time.Minute)
	l.now = func() time.Time { return now }

	if ok, _ := l.allow("a"); !ok {
		t.Fatal("first request should pass")
	}
	ok, wait := l.allow("a")
	if ok || wait != time.Second {
		t.Fatalf("want denied with 1s wait, got %v %v", ok, wait)
	}

	now = now.Add(time.Second)
	if ok, _ := l.allow("a"); !ok {
		t.Fatal("should pass after refill")
	}

	now = now.Add(2 * time.Minute)
	l.allow("b")
	if _, present := l.m["a"]; present {
		t.Fatal("idle bucket should be evicted")
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(0, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 100; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		if rr.Code != 200 {
			t.Fatalf("disabled limiter blocked request %d", i)
		}
	}
}
