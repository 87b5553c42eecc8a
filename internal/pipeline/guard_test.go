package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGuard()

	release, ok, err := g.Acquire(ctx, "v1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = g.Acquire(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, ok, "second acquire of a held video must fail")

	other, ok, err := g.Acquire(ctx, "v2")
	require.NoError(t, err)
	assert.True(t, ok, "different videos do not contend")
	other()

	release()
	release()

	again, ok, err := g.Acquire(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestMemoryGuard_Contention(t *testing.T) {
	g := NewMemoryGuard()
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := g.Acquire(context.Background(), "v1"); ok {
				winners.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}
