package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestProbe_Thresholds(t *testing.T) {
	var failing atomic.Bool
	p := &probe{Check: Check{
		Name:             "postgres",
		Timeout:          time.Second,
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Func: func(context.Context) error {
			if failing.Load() {
				return errors.New("connection refused")
			}
			return nil
		},
	}}
	p.healthy.Store(true)
	ctx := context.Background()

	failing.Store(true)
	p.run(ctx)
	assert.True(t, p.healthy.Load(), "one failure is below threshold")
	p.run(ctx)
	assert.False(t, p.healthy.Load())
	msg, failed := p.failure()
	assert.True(t, failed)
	assert.Equal(t, "connection refused", msg)

	failing.Store(false)
	p.run(ctx)
	assert.False(t, p.healthy.Load(), "one success is below threshold")
	p.run(ctx)
	assert.True(t, p.healthy.Load())
}

func TestReadyEndpoint(t *testing.T) {
	h := New()

	w := get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())

	h.SetReady(true)
	w = get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.True(t, h.IsReady())
}

func TestStart_FailingReadinessCheck(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Add(Check{
		Name:             "redis",
		Kind:             Readiness,
		FailureThreshold: 1,
		Func:             func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	h.Add(Check{Name: "goroutines", Kind: Liveness, Func: GoroutineCountCheck(1 << 20)})

	h.Start(context.Background(), 10*time.Millisecond)
	defer h.Stop()

	require.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)

	w := get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"redis":"dial tcp: refused"}}`, w.Body.String())

	assert.Equal(t, http.StatusOK, get(t, h.LiveEndpoint).Code)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	require.NoError(t, PingCheck("postgres", pinger{})(context.Background()))

	err := PingCheck("postgres", pinger{err: errors.New("timeout")})(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping postgres")
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1<<20)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
