package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/neptunmap/neptun/internal/ratelimit"
)

func TestRedisRateLimitRPM(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	mgr, err := ratelimit.NewManager("redis://" + s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	mw := RedisRateLimit(mgr, 3)(h)

	req := httptest.NewRequest("GET", "/v1/tracks", nil)
	req.RemoteAddr = "10.0.0.1:5000"

	var codes []int
	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		last = rec
	}
	if codes[0] != 200 || codes[2] != 200 || codes[3] != 429 || codes[4] != 429 {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if last.Header().Get("Retry-After") == "" || last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("missing limit headers on 429: %v", last.Header())
	}

	other := httptest.NewRequest("GET", "/v1/tracks", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, other)
	if rec.Code != 200 {
		t.Errorf("other IP should not share the window, got %d", rec.Code)
	}

	s.FastForward(time.Minute)
	s.FlushAll()
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200 after window reset, got %d", rec.Code)
	}
}

func TestRedisRateLimitDisabled(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(204) })
	mw := RedisRateLimit(nil, 1)(h)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if rec.Code != 204 {
			t.Fatalf("expected passthrough, got %d", rec.Code)
		}
	}
}

func TestRedisRateLimitFailsOpen(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := ratelimit.NewManager("redis://" + s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()
	s.Close()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	rec := httptest.NewRecorder()
	RedisRateLimit(mgr, 1)(h).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != 200 {
		t.Errorf("expected fail-open 200, got %d", rec.Code)
	}
}
