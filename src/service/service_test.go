package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/pulse/src/aggregator"
	"github.com/orchestra-mcp/pulse/src/clock"
	"github.com/orchestra-mcp/pulse/src/status"
	"github.com/orchestra-mcp/pulse/src/store"
	"github.com/orchestra-mcp/pulse/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource delivers messages synchronously to its subscribers.
type fakeSource struct {
	mu       sync.Mutex
	handlers map[int]types.MessageHandler
	next     int
	status   *status.Broadcaster
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		handlers: make(map[int]types.MessageHandler),
		status:   status.New(10, nil, zerolog.Nop()),
	}
}

func (f *fakeSource) Subscribe(h types.MessageHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.handlers[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

func (f *fakeSource) Status() *status.Broadcaster { return f.status }

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeSource) emit(t *testing.T, v map[string]any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.mu.Lock()
	hs := make([]types.MessageHandler, 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(types.Message{Type: "metrics", Data: data})
	}
}

func newTestService(t *testing.T, opts Options, kv store.KeyValueStore) (*Service, *fakeSource, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	opts.Clock = clk
	if opts.Debounce == 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	src := newFakeSource()
	svc := New(opts, src, kv, zerolog.Nop())
	svc.Start()
	t.Cleanup(svc.Close)
	return svc, src, clk
}

func TestAutoWatchCreatesAggregators(t *testing.T) {
	svc, src, clk := newTestService(t, Options{AutoWatch: true}, nil)
	assert.Equal(t, 1, src.count())

	src.emit(t, map[string]any{"type": "metrics", "host_id": "web-1", "seq": 1, "cpu_usage": 20})
	src.emit(t, map[string]any{"type": "metrics", "host_id": "web-2", "seq": 1, "cpu_usage": 40, "status": "online"})
	src.emit(t, map[string]any{"type": "metrics", "host_id": "web-1", "seq": 1, "cpu_usage": 99})

	assert.Equal(t, []string{"web-1", "web-2"}, svc.Entities())
	snap, ok := svc.Snapshot("web-1")
	require.True(t, ok)
	v, _ := snap.Num("cpu_usage")
	assert.Equal(t, 20.0, v, "duplicate sequence dropped")

	clk.Advance(200 * time.Millisecond)
	stats := svc.Fleet()
	assert.Equal(t, 2, stats.Entities)
	require.NotNil(t, stats.AvgCPU)
	assert.Equal(t, 30.0, *stats.AvgCPU)
	assert.Equal(t, 1, stats.StatusCount["online"])
}

func TestExplicitWatchIgnoresOtherEntities(t *testing.T) {
	svc, src, _ := newTestService(t, Options{Entities: []string{"db-1"}}, nil)

	src.emit(t, map[string]any{"type": "metrics", "host_id": "web-1", "seq": 1, "cpu_usage": 20})
	src.emit(t, map[string]any{"type": "metrics", "entity_id": "db-1", "seq": 1, "load_1": 0.5})

	assert.Equal(t, []string{"db-1"}, svc.Entities())
	_, ok := svc.Snapshot("web-1")
	assert.False(t, ok)
	series, ok := svc.Series("db-1")
	require.True(t, ok)
	assert.Len(t, series, 1)
}

func TestNonTelemetryMessagesIgnored(t *testing.T) {
	svc, src, _ := newTestService(t, Options{AutoWatch: true}, nil)
	src.emit(t, map[string]any{"type": "pong"})
	assert.Empty(t, svc.Entities())
}

func TestWatchIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t, Options{}, nil)
	a1 := svc.Watch("x")
	a2 := svc.Watch("x")
	assert.Same(t, a1, a2)
	assert.Equal(t, []string{"x"}, svc.Entities())
}

func TestUnwatch(t *testing.T) {
	svc, src, clk := newTestService(t, Options{Entities: []string{"a", "b"}}, nil)

	src.emit(t, map[string]any{"type": "metrics", "host_id": "a", "seq": 1, "cpu_usage": 10})
	src.emit(t, map[string]any{"type": "metrics", "host_id": "b", "seq": 1, "cpu_usage": 30})
	clk.Advance(200 * time.Millisecond)
	assert.Equal(t, 20.0, *svc.Fleet().AvgCPU)

	assert.True(t, svc.Unwatch("a"))
	assert.False(t, svc.Unwatch("a"))
	clk.Advance(200 * time.Millisecond)

	stats := svc.Fleet()
	assert.Equal(t, 1, stats.Entities)
	assert.Equal(t, 30.0, *stats.AvgCPU)

	src.emit(t, map[string]any{"type": "metrics", "host_id": "a", "seq": 2, "cpu_usage": 90})
	_, ok := svc.Snapshot("a")
	assert.False(t, ok)
}

func TestWarmStartFeedsFleet(t *testing.T) {
	kv := store.NewMemoryStore(100, time.Hour, nil)
	{
		svc, src, _ := newTestService(t, Options{Entities: []string{"a"}}, kv)
		src.emit(t, map[string]any{"type": "metrics", "host_id": "a", "seq": 1, "cpu_usage": 64})
		svc.Close()
	}

	svc, _, _ := newTestService(t, Options{Entities: []string{"a"}}, kv)
	snap, ok := svc.Snapshot("a")
	require.True(t, ok)
	v, _ := snap.Num("cpu_usage")
	assert.Equal(t, 64.0, v)

	svc.FlushFleet()
	require.NotNil(t, svc.Fleet().AvgCPU)
	assert.Equal(t, 64.0, *svc.Fleet().AvgCPU)

	_, ok, err := kv.Get(context.Background(), aggregator.SeriesKey("a"))
	require.NoError(t, err)
	assert.True(t, ok, "close flushes the series")
}

func TestCloseUnsubscribes(t *testing.T) {
	svc, src, _ := newTestService(t, Options{}, nil)
	svc.Start()
	assert.Equal(t, 1, src.count(), "start is idempotent")
	svc.Close()
	assert.Equal(t, 0, src.count())
}

func TestStatusPassthrough(t *testing.T) {
	svc, src, _ := newTestService(t, Options{}, nil)
	src.status.Set(types.StateConnecting, "", 0)
	src.status.Set(types.StateConnected, "", 0)

	assert.Equal(t, types.StateConnected, svc.Status().State)
	assert.Len(t, svc.StatusLog(), 2)
}

func TestSubscribeFleet(t *testing.T) {
	svc, src, clk := newTestService(t, Options{AutoWatch: true}, nil)
	var got []types.AggregateStats
	svc.SubscribeFleet(func(s types.AggregateStats) { got = append(got, s) })

	for i := 1; i <= 5; i++ {
		src.emit(t, map[string]any{"type": "metrics", "host_id": "h", "seq": i, "cpu_usage": i})
	}
	clk.Advance(200 * time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, 5.0, *got[0].AvgCPU)
}
