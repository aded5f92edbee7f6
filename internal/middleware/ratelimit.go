package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"
)

// slidingWindow tracks one client's request timestamps inside the window.
type slidingWindow struct {
	mu     sync.Mutex
	hits   []time.Time
	window time.Duration
	limit  int
}

// Allow prunes expired hits and admits the request if the window has room.
// When it does not, the returned duration says how long until the oldest hit
// expires.
func (w *slidingWindow) Allow(now time.Time) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	kept := w.hits[:0]
	for _, h := range w.hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	w.hits = kept

	if len(w.hits) < w.limit {
		w.hits = append(w.hits, now)
		return true, 0
	}
	return false, w.hits[0].Sub(cutoff)
}

// RateLimiter manages sliding windows per client key
type RateLimiter struct {
	mu      sync.RWMutex
	clients map[string]*slidingWindow
	limit   int
	window  time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*slidingWindow),
		limit:   limit,
		window:  window,
	}

	// Start cleanup goroutine to remove idle windows
	go rl.cleanup()

	return rl
}

func (rl *RateLimiter) getWindow(key string) *slidingWindow {
	rl.mu.RLock()
	w, exists := rl.clients[key]
	rl.mu.RUnlock()

	if exists {
		return w
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if w, exists := rl.clients[key]; exists {
		return w
	}

	w = &slidingWindow{window: rl.window, limit: rl.limit}
	rl.clients[key] = w
	return w
}

// Allow reports whether key may proceed now, with a retry-after hint when
// it may not.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	return rl.getWindow(key).Allow(time.Now())
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-2 * rl.window)
		rl.mu.Lock()
		for key, w := range rl.clients {
			w.mu.Lock()
			idle := len(w.hits) == 0 || w.hits[len(w.hits)-1].Before(cutoff)
			w.mu.Unlock()
			if idle {
				delete(rl.clients, key)
			}
		}
		rl.mu.Unlock()
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware rejects clients over the per-window quota with a 429
// and a retry-after hint in milliseconds.
func RateLimitMiddleware(limit int, window time.Duration) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(limit, window)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health probes stay outside the quota
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			if ok, retryAfter := limiter.Allow(clientKey(r)); !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"success":      false,
					"error":        "rate_limited",
					"message":      "too many requests, please try again later",
					"retryAfterMs": retryAfter.Milliseconds(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
