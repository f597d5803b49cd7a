package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotQueueFIFOAndDuplicates(t *testing.T) {
	t.Parallel()

	q := newSlotQueue()
	assert.True(t, q.push(0, 3))
	assert.True(t, q.push(0, 1))
	assert.False(t, q.push(0, 3), "duplicate slot")
	assert.Equal(t, 2, q.len())

	s, ok := q.tryPop(0)
	require.True(t, ok)
	assert.Equal(t, 3, s)

	s, err := q.acquire(0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, s)

	_, ok = q.tryPop(0)
	assert.False(t, ok)
}

func TestSlotQueueNoLostSignal(t *testing.T) {
	t.Parallel()

	q := newSlotQueue()
	// Announced while nobody waits.
	q.push(0, 5)
	s, err := q.acquire(0, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 5, s)

	// A stale ready token must not satisfy a later wait.
	q.push(0, 6)
	_, ok := q.tryPop(0)
	require.True(t, ok)
	_, err = q.acquire(0, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrSlotTimeout)
}

func TestSlotQueueResetDropsAndWakes(t *testing.T) {
	t.Parallel()

	q := newSlotQueue()
	q.push(0, 1)
	q.resetTo(1)
	assert.Zero(t, q.len())
	assert.False(t, q.push(0, 2), "stale generation")

	done := make(chan error, 1)
	go func() {
		_, err := q.acquire(1, time.Minute)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.resetTo(2)

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reset did not wake waiter")
	}

	_, err := q.acquire(1, time.Second)
	assert.ErrorIs(t, err, errStaleGen)
}

func TestSlotQueueConcurrentHandoff(t *testing.T) {
	t.Parallel()

	q := newSlotQueue()
	const n = 1000

	go func() {
		for i := range n {
			q.push(0, i)
		}
	}()

	got := make(map[int]bool, n)
	for range n {
		s, err := q.acquire(0, 2*time.Second)
		require.NoError(t, err)
		require.False(t, got[s])
		got[s] = true
	}
	assert.Len(t, got, n)
}

func BenchmarkSlotQueueHandoff(b *testing.B) {
	q := newSlotQueue()
	for b.Loop() {
		q.push(0, 1)
		q.acquire(0, time.Second)
	}
}
