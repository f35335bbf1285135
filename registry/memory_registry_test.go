package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	ch := reg.Watch(ctx, "calc")
	require.NoError(t, reg.Register(ctx, "calc", ServiceInstance{Addr: "b:2"}, 10))
	require.NoError(t, reg.Register(ctx, "calc", ServiceInstance{Addr: "a:1"}, 10))

	instances, err := reg.Discover(ctx, "calc")
	require.NoError(t, err)
	assert.Equal(t, []ServiceInstance{{Addr: "a:1"}, {Addr: "b:2"}}, instances)

	// only the latest list is kept for a slow watcher
	select {
	case got := <-ch:
		assert.Len(t, got, 2)
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	require.NoError(t, reg.Deregister(ctx, "calc", "a:1"))
	got := <-ch
	assert.Equal(t, []ServiceInstance{{Addr: "b:2"}}, got)

	cancel()
	_, open := <-ch
	assert.False(t, open)
}
