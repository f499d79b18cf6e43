// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDropsOldest(t *testing.T) {
	q := NewQueue[int](3)
	for i := 1; i <= 10; i++ {
		q.Push(i)
		assert.LessOrEqual(t, q.Len(), 3)
	}
	assert.Equal(t, []int{8, 9, 10}, q.Snapshot())
	assert.Equal(t, uint64(7), q.Evicted())

	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 8, v)
}

func TestQueueDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultQueueCapacity, NewQueue[int](0).Cap())
}

func TestQueuePollTimeout(t *testing.T) {
	q := NewQueue[int](3)
	start := time.Now()
	_, ok := q.Poll(context.Background(), 20*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestQueuePollWakesOnPush(t *testing.T) {
	q := NewQueue[int](3)
	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Push(42)
	}()
	v, ok := q.Poll(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestQueuePollCancelled(t *testing.T) {
	q := NewQueue[int](3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := q.Poll(ctx, time.Second)
	assert.False(t, ok)
}

func TestQueueConcurrentProducersConsumers(t *testing.T) {
	q := NewQueue[int](3)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				q.Push(i)
				assert.LessOrEqual(t, q.Len(), 3)
			}
		}()
	}
	popped := make(chan int, 4)
	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := 0
			for i := 0; i < 500; i++ {
				if _, ok := q.TryPop(); ok {
					n++
				}
			}
			popped <- n
		}()
	}
	wg.Wait()
	close(popped)
	total := 0
	for n := range popped {
		total += n
	}
	// Every push is either popped, evicted or still queued.
	assert.Equal(t, uint64(4000), uint64(total)+q.Evicted()+uint64(q.Len()))
}

func TestMonotonic(t *testing.T) {
	in := []int64{0, 10, 10, 5, 30, 29, 31}
	var out []int64
	last := int64(-1)
	for i, ts := range in {
		if i == 0 {
			out = append(out, ts)
			last = ts
			continue
		}
		v, _ := monotonic(last, ts)
		out = append(out, v)
		last = v
	}
	assert.Equal(t, []int64{0, 10, 11, 12, 30, 31, 32}, out)
	for i := 1; i < len(out); i++ {
		assert.Greater(t, out[i], out[i-1])
	}
}
