// Package clock maps sender-side stream timestamps onto the local
// monotonic clock using the periodic sync packets the server emits.
package clock

import (
	"math"
	"sync/atomic"
	"time"
)

// Unsynchronized is returned by Sync.Deadline before the first sync packet
// has been received.
const Unsynchronized int64 = math.MinInt64

var epoch = time.Now()

// Monotonic returns nanoseconds on the process-local monotonic clock.
func Monotonic() int64 {
	return int64(time.Since(epoch))
}

// Sync holds the most recent remote-to-local clock mapping. Each sync
// packet replaces the mapping outright; there is no smoothing.
type Sync struct {
	now    func() int64
	origin atomic.Int64 // local nanos at remote time zero, or Unsynchronized
	syncs  atomic.Int64
}

// NewSync creates an unsynchronized Sync. If now is nil, Monotonic is used.
func NewSync(now func() int64) *Sync {
	if now == nil {
		now = Monotonic
	}
	s := &Sync{now: now}
	s.origin.Store(Unsynchronized)
	return s
}

// OnTimestampSync records that the sender's clock reads remoteTimeMs now.
func (s *Sync) OnTimestampSync(remoteTimeMs int64) {
	s.origin.Store(s.now() - remoteTimeMs*int64(time.Millisecond))
	s.syncs.Add(1)
}

// Deadline returns the local monotonic time at which a frame stamped
// ptsMs should be presented, or Unsynchronized.
func (s *Sync) Deadline(ptsMs int64) int64 {
	origin := s.origin.Load()
	if origin == Unsynchronized {
		return Unsynchronized
	}
	return origin + ptsMs*int64(time.Millisecond)
}

// Synchronized reports whether at least one sync packet has been applied.
func (s *Sync) Synchronized() bool {
	return s.origin.Load() != Unsynchronized
}

// Syncs returns how many sync packets have been applied.
func (s *Sync) Syncs() int64 {
	return s.syncs.Load()
}
