package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

func TestObserveCountsEvents(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := MustNew(reg, Sources{Timers: func() int { return 3 }})

	m.Observe(eventbus.Event{Type: eventbus.ReminderFired, Data: eventbus.FiredData{Kind: "daily", Result: "partial"}})
	m.Observe(eventbus.Event{Type: eventbus.ReminderDelivered, Data: eventbus.DeliveredData{Outcome: "success_fallback"}})
	m.Observe(eventbus.Event{Type: eventbus.SyncPush, Data: eventbus.SyncData{Op: "create", OK: false}})
	m.Observe(eventbus.Event{Type: eventbus.SyncRetry, Data: eventbus.SyncData{Op: "create", Attempt: 1}})
	m.Observe(eventbus.Event{Type: eventbus.SyncRetry, Data: eventbus.SyncData{Op: "create", Attempt: 2}})
	m.Observe(eventbus.Event{Type: eventbus.TaskPanic})
	m.Observe(eventbus.Event{Type: "unrelated"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.firings.WithLabelValues("daily", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("success_fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncCalls.WithLabelValues("create", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retries.WithLabelValues("create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("panic")))

	n, err := testutil.GatherAndCount(reg, "remindbot_timers_live")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMustNewReusesRegistered(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	a := MustNew(reg, Sources{})
	b := MustNew(reg, Sources{})
	b.Observe(eventbus.Event{Type: eventbus.TaskDone})
	assert.Equal(t, 1.0, testutil.ToFloat64(a.tasks.WithLabelValues("done")))
}

func TestRunStopsWithContext(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	m := MustNew(prometheus.NewRegistry(), Sources{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, bus) }()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.TaskFailed})
		return testutil.ToFloat64(m.tasks.WithLabelValues("failed")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHandlerAuthAndPath(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	MustNew(reg, Sources{QueueLen: func() int { return 7 }})
	s := NewServer(ServerConfig{}, reg, logx.Nop())
	srv := httptest.NewServer(s.handler(ServerConfig{Path: "stats", Token: "t0k"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/stats", nil)
	req.Header.Set("Authorization", "Bearer t0k")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "remindbot_tasks_queue_length 7"))

	resp, err = http.Get(srv.URL + "/debug/pprof/?token=t0k")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:9090"))
	assert.True(t, isLoopbackAddr("localhost:9090"))
	assert.False(t, isLoopbackAddr(":9090"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9090"))
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	MustNew(reg, Sources{QueueLen: func() int { return 3 }})
	s := NewServer(ServerConfig{}, reg, logx.Nop())
	ctx := context.Background()

	s.Start(ctx)
	assert.Nil(t, s.sup, "no address, no server")

	// an insecure bind is refused without spinning
	s.Reconfigure(ctx, ServerConfig{Addr: "0.0.0.0:0"})
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	s.Stop(stopCtx)
	assert.Nil(t, s.sup)

	s.Reconfigure(ctx, ServerConfig{Addr: "127.0.0.1:0", Pprof: true})
	require.NotNil(t, s.sup)
	s.Reconfigure(ctx, ServerConfig{})
	assert.Nil(t, s.sup)
}
