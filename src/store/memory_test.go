package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/orchestra-mcp/pulse/src/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10, time.Hour, nil)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "a", []byte("one")))
	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", string(v))

	require.NoError(t, s.Set(ctx, "a", []byte("two")))
	v, _, _ = s.Get(ctx, "a")
	assert.Equal(t, "two", string(v))
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10, time.Hour, nil)

	in := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", in))
	in[0] = 'x'

	out, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(out))
	out[0] = 'y'

	again, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(0, 0))
	s := NewMemoryStore(10, time.Minute, clk)

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	clk.Advance(59 * time.Second)
	_, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok)

	// Rewriting refreshes the expiry.
	require.NoError(t, s.Set(ctx, "k", []byte("v2")))
	clk.Advance(59 * time.Second)
	_, ok, _ = s.Get(ctx, "k")
	assert.True(t, ok)

	clk.Advance(time.Minute)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStoreLRUEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3, time.Hour, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), []byte("v")))
	}
	// Touch k0 so k1 becomes least recently used.
	_, ok, _ := s.Get(ctx, "k0")
	require.True(t, ok)

	require.NoError(t, s.Set(ctx, "k3", []byte("v")))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 1, s.Evicted())

	_, ok, _ = s.Get(ctx, "k1")
	assert.False(t, ok)
	for _, k := range []string{"k0", "k2", "k3"} {
		_, ok, _ = s.Get(ctx, k)
		assert.True(t, ok, k)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 0, nil)

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, _ := s.Get(ctx, "k")
	assert.False(t, ok)
}
