package pipeline

import (
	"errors"
	"slices"
	"sync"
	"time"
)

var (
	errSlotReset = errors.New("pipeline: slot queue reset")
	errStaleGen  = errors.New("pipeline: slot from previous decoder")
)

// slotQueue holds input slots announced by the decoder and not yet
// consumed. A generation number ties queued slots to one decoder session;
// pushes from an older session are ignored.
type slotQueue struct {
	mu    sync.Mutex
	gen   uint64
	slots []int
	ready chan struct{} // holds a token while slots may be queued
	reset chan struct{} // closed when the generation changes
}

func newSlotQueue() *slotQueue {
	return &slotQueue{
		ready: make(chan struct{}, 1),
		reset: make(chan struct{}),
	}
}

// push queues slot for gen. It reports false for stale or duplicate slots.
func (q *slotQueue) push(gen uint64, slot int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if gen != q.gen || slices.Contains(q.slots, slot) {
		return false
	}
	q.slots = append(q.slots, slot)
	q.signal()
	return true
}

func (q *slotQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// tryPop takes the oldest queued slot without waiting.
func (q *slotQueue) tryPop(gen uint64) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if gen != q.gen || len(q.slots) == 0 {
		return -1, false
	}
	return q.popLocked(), true
}

func (q *slotQueue) popLocked() int {
	slot := q.slots[0]
	q.slots = q.slots[1:]
	if len(q.slots) > 0 {
		q.signal()
	}
	return slot
}

// acquire waits up to timeout for a slot of generation gen. It returns
// ErrSlotTimeout when the wait expires and errSlotReset when the queue
// moves to another generation while waiting.
func (q *slotQueue) acquire(gen uint64, timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if gen != q.gen {
			q.mu.Unlock()
			return -1, errStaleGen
		}
		if len(q.slots) > 0 {
			slot := q.popLocked()
			q.mu.Unlock()
			return slot, nil
		}
		reset := q.reset
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-reset:
			return -1, errSlotReset
		case <-timer.C:
			return -1, ErrSlotTimeout
		}
	}
}

// resetTo drops every queued slot, moves to gen, and wakes all waiters.
func (q *slotQueue) resetTo(gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.gen = gen
	q.slots = nil
	close(q.reset)
	q.reset = make(chan struct{})
}

func (q *slotQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}
