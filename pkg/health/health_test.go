package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pass(context.Context) error { return nil }

func fail(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, handler http.HandlerFunc) (int, report) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	var rep report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rep))
	return w.Code, rep
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, pass)
	h.AddLivenessCheck("db", time.Second, fail("connection refused"))

	code, rep := serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "checks start healthy")
	assert.Equal(t, "ok", rep.Checks["db"])

	db := h.liveness[1]
	for range defaultFailureThreshold - 1 {
		db.run(context.Background())
	}
	code, _ = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "below threshold")

	db.run(context.Background())
	code, rep = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", rep.Status)
	assert.Equal(t, "connection refused", rep.Checks["db"])
	assert.Equal(t, "ok", rep.Checks["goroutines"])
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("store", time.Second, pass)

	code, rep := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready", rep.Checks["_readiness"])
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, rep = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", rep.Status)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	code, _ = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestThresholdsAndRecovery(t *testing.T) {
	var (
		mu      sync.Mutex
		failing = true
	)
	check := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return errors.New("down")
		}
		return nil
	}

	h := New()
	h.AddReadinessCheck("cache", time.Second, check, WithThresholds(1, 2))
	h.SetReady(true)
	p := h.readiness[0]

	p.run(context.Background())
	assert.False(t, h.IsReady())

	mu.Lock()
	failing = false
	mu.Unlock()

	p.run(context.Background())
	assert.False(t, h.IsReady(), "one success is not enough")
	p.run(context.Background())
	assert.True(t, h.IsReady())
	assert.Nil(t, p.lastErr.Load())
}

func TestStartStop(t *testing.T) {
	var calls sync.WaitGroup
	calls.Add(1)
	var once sync.Once

	h := New()
	h.AddLivenessCheck("tick", time.Second, func(context.Context) error {
		once.Do(calls.Done)
		return nil
	})
	h.Start(context.Background(), 10*time.Millisecond)
	calls.Wait()
	h.Stop()
	h.Stop()
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(pingerFunc(pass))(context.Background()))

	err := PingCheck(pingerFunc(fail("refused")))(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	check := RedisCheck(client)
	require.NoError(t, check(context.Background()))

	mr.Close()
	assert.Error(t, check(context.Background()))
}
