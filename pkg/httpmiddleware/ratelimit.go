package httpmiddleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientKey.
	KeyFunc func(*http.Request) string
}

type window struct {
	start time.Time
	prev  float64
	curr  float64
}

// Limiter approximates a sliding window by weighting the previous fixed
// window's count by its remaining overlap.
type Limiter struct {
	max     int
	size    time.Duration
	mu      sync.Mutex
	windows map[string]*window
}

// NewLimiter creates a Limiter allowing limit events per size.
func NewLimiter(limit int, size time.Duration) *Limiter {
	return &Limiter{max: limit, size: size, windows: make(map[string]*window)}
}

// Allow records an event for key at now. It reports whether the event is
// within the limit, how many remain, and when the current window ends.
func (l *Limiter) Allow(key string, now time.Time) (ok bool, remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.size)
	w, found := l.windows[key]
	switch {
	case !found:
		w = &window{start: start}
		l.windows[key] = w
	case start.Sub(w.start) >= 2*l.size:
		*w = window{start: start}
	case start.After(w.start):
		*w = window{start: start, prev: w.curr}
	}

	overlap := 1 - float64(now.Sub(w.start))/float64(l.size)
	used := w.prev*overlap + w.curr
	reset = w.start.Add(l.size)
	if used >= float64(l.max) {
		return false, 0, reset
	}
	w.curr++
	remaining = max(l.max-int(used+1), 0)
	return true, remaining, reset
}

// Sweep drops clients idle for two full windows.
func (l *Limiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*l.size {
			delete(l.windows, key)
		}
	}
}

// RunSweeper calls Sweep periodically until ctx is done.
func (l *Limiter) RunSweeper(ctx context.Context) {
	t := time.NewTicker(2 * l.size)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.Sweep(now)
		}
	}
}

// RateLimit rejects clients over the limit with 429. Every response carries
// X-RateLimit-* headers.
func RateLimit(l *Limiter, keyFunc func(*http.Request) string) Middleware {
	if keyFunc == nil {
		keyFunc = ClientKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			ok, remaining, reset := l.Allow(keyFunc(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				secs := int(reset.Sub(now).Round(time.Second) / time.Second)
				h.Set("Retry-After", strconv.Itoa(max(secs, 1)))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies a client by API key when one is presented, otherwise
// by the first forwarded address or the remote address.
func ClientKey(r *http.Request) string {
	if k := r.Header.Get("api_key"); k != "" {
		return "key:" + k
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}
