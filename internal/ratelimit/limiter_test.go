package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func keyGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z0-9]{8,32}`)
}

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		burst := rapid.IntRange(1, 50).Draw(t, "burst")
		rl := NewRateLimiter(Config{RPS: 0.001, Burst: burst, CleanupInterval: time.Hour})
		defer rl.Stop()

		key := keyGenerator().Draw(t, "key")
		for i := 0; i < burst; i++ {
			if !rl.Allow(key) {
				t.Fatalf("request %d of burst %d denied", i+1, burst)
			}
		}
		if rl.Allow(key) {
			t.Fatalf("request past burst %d allowed", burst)
		}
	})
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rl := NewRateLimiter(Config{RPS: 0.001, Burst: 1, CleanupInterval: time.Hour})
		defer rl.Stop()

		a := keyGenerator().Draw(t, "a")
		b := keyGenerator().Filter(func(s string) bool { return s != a }).Draw(t, "b")
		if !rl.Allow(a) || rl.Allow(a) {
			t.Fatal("first key should get exactly one request")
		}
		if !rl.Allow(b) {
			t.Fatal("second key was limited by the first")
		}
		if rl.Len() != 2 {
			t.Fatalf("Len = %d, want 2", rl.Len())
		}
	})
}

func TestRateLimiter_SameLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(DefaultConfig)
	defer rl.Stop()
	if rl.GetLimiter("k") != rl.GetLimiter("k") {
		t.Fatal("GetLimiter returned different limiters for one key")
	}
}

func TestRateLimiter_CleanupDropsIdle(t *testing.T) {
	rl := NewRateLimiter(Config{RPS: 1, Burst: 1, CleanupInterval: 10 * time.Millisecond})
	defer rl.Stop()
	rl.GetLimiter("idle")
	time.Sleep(30 * time.Millisecond)
	rl.Cleanup()
	if rl.Len() != 0 {
		t.Fatalf("Len after cleanup = %d, want 0", rl.Len())
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	const burst = 100
	rl := NewRateLimiter(Config{RPS: 0.001, Burst: burst, CleanupInterval: time.Hour})
	defer rl.Stop()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 4 * burst {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("shared") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := allowed.Load(); got != burst {
		t.Fatalf("allowed %d concurrent requests, want %d", got, burst)
	}
}

func TestMiddleware(t *testing.T) {
	rl := NewRateLimiter(Config{RPS: 0.001, Burst: 2, CleanupInterval: time.Hour})
	defer rl.Stop()

	h := Middleware(rl, func(r *http.Request) string { return r.Header.Get("x-auth-token") })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)
	do := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/notes", nil)
		if token != "" {
			req.Header.Set("x-auth-token", token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do("tok"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := do("tok")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	// Anonymous clients are keyed by remote IP.
	if rec := do(""); rec.Code != http.StatusOK {
		t.Fatalf("anonymous request: status %d", rec.Code)
	}
}
