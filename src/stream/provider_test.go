package stream

import (
	"testing"

	"github.com/orchestra-mcp/pulse/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProviderFactory(d Dialer) func() *Manager {
	return func() *Manager {
		return New(Options{Endpoint: "ws://stream.test/ws"}, d, nil, zerolog.Nop())
	}
}

func TestProviderGetOrCreateReturnsSameManager(t *testing.T) {
	p := NewProvider(newProviderFactory(&fakeDialer{}))
	t.Cleanup(p.Shutdown)

	assert.Nil(t, p.Current())
	m1 := p.GetOrCreate()
	m2 := p.GetOrCreate()
	assert.Same(t, m1, m2)
	assert.Same(t, m1, p.Current())
}

func TestProviderShutdownStartsFresh(t *testing.T) {
	d := &fakeDialer{}
	p := NewProvider(newProviderFactory(d))

	m1 := p.GetOrCreate()
	m1.Subscribe(func(types.Message) {})
	require.Eventually(t, func() bool { return d.connCount() == 1 }, waitFor, tick)
	c := d.conn(0)
	require.Eventually(t, func() bool { return len(c.getWritten()) == 1 }, waitFor, tick)

	p.Shutdown()
	assert.True(t, c.isClosed())
	assert.Nil(t, p.Current())
	assert.Equal(t, types.StateDisconnected, m1.Status().Current().State)

	m2 := p.GetOrCreate()
	t.Cleanup(p.Shutdown)
	assert.NotSame(t, m1, m2)
	assert.NotEqual(t, m1.ID(), m2.ID())
}

func TestProviderShutdownWithoutManager(t *testing.T) {
	p := NewProvider(newProviderFactory(&fakeDialer{}))
	assert.NotPanics(t, p.Shutdown)
}

func TestProvidersAreIndependent(t *testing.T) {
	d1, d2 := &fakeDialer{}, &fakeDialer{}
	p1 := NewProvider(newProviderFactory(d1))
	p2 := NewProvider(newProviderFactory(d2))
	t.Cleanup(p1.Shutdown)
	t.Cleanup(p2.Shutdown)

	p1.GetOrCreate().Subscribe(func(types.Message) {})
	require.Eventually(t, func() bool { return d1.connCount() == 1 }, waitFor, tick)
	assert.Equal(t, 0, d2.dials())
	assert.NotSame(t, p1.GetOrCreate(), p2.GetOrCreate())
}

func TestProviderInitBeforeCreate(t *testing.T) {
	first, second := &fakeDialer{}, &fakeDialer{}
	p := NewProvider(newProviderFactory(first))
	p.Init(newProviderFactory(second))
	t.Cleanup(p.Shutdown)

	p.GetOrCreate().Subscribe(func(types.Message) {})
	require.Eventually(t, func() bool { return second.connCount() == 1 }, waitFor, tick)
	assert.Equal(t, 0, first.dials())

	// Ignored once the manager exists.
	p.Init(newProviderFactory(first))
	assert.Equal(t, 0, first.dials())
}
