package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestLimiter_Allow(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(3, time.Minute)

	for i := range 3 {
		ok, remaining, reset := l.Allow("a", base.Add(time.Duration(i)*time.Second))
		require.True(t, ok, "event %d", i)
		assert.Equal(t, 2-i, remaining)
		assert.Equal(t, base.Add(time.Minute), reset)
	}
	ok, _, _ := l.Allow("a", base.Add(5*time.Second))
	assert.False(t, ok)

	ok, _, _ = l.Allow("b", base.Add(5*time.Second))
	assert.True(t, ok, "keys are independent")
}

func TestLimiter_SlidingWeight(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(4, time.Minute)
	for range 4 {
		ok, _, _ := l.Allow("a", base)
		require.True(t, ok)
	}

	// A quarter into the next window, three quarters of the previous count
	// still weighs in: 4*0.75 = 3 used, one slot left.
	next := base.Add(time.Minute + 15*time.Second)
	ok, _, _ := l.Allow("a", next)
	assert.True(t, ok)
	ok, _, _ = l.Allow("a", next)
	assert.False(t, ok)

	// Two windows later the history is gone.
	ok, remaining, _ := l.Allow("a", base.Add(3*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 3, remaining)
}

func TestLimiter_Sweep(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(1, time.Minute)
	l.Allow("a", base)
	l.Allow("b", base.Add(90*time.Second))

	l.Sweep(base.Add(2 * time.Minute))
	assert.Len(t, l.windows, 1)
	assert.Contains(t, l.windows, "b")
}

func TestRateLimit_Middleware(t *testing.T) {
	h := RateLimit(NewLimiter(2, time.Minute), nil)(okHandler())

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/pricing/preview", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	for range 2 {
		w := send("10.0.0.1:9999")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := send("10.0.0.1:9999")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, w.Body.String())

	assert.Equal(t, http.StatusOK, send("10.0.0.2:1").Code)
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "api key wins", headers: map[string]string{"api_key": "k1", "X-Forwarded-For": "1.1.1.1"}, want: "key:k1"},
		{name: "forwarded first hop", headers: map[string]string{"X-Forwarded-For": "1.1.1.1, 10.0.0.1"}, want: "ip:1.1.1.1"},
		{name: "remote addr", remote: "192.168.0.9:5555", want: "ip:192.168.0.9"},
		{name: "remote without port", remote: "pipe", want: "ip:pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.remote != "" {
				req.RemoteAddr = tt.remote
			}
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientKey(req))
		})
	}
}
