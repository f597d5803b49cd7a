package pipeline

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyDropDecision(t *testing.T) {
	t.Parallel()

	var l latencyController
	l.reset(0)

	drop, _ := l.observe(0, int64(20*time.Millisecond), false)
	assert.False(t, drop, "exactly at threshold renders")

	drop, _ = l.observe(0, int64(20*time.Millisecond)+1, false)
	assert.True(t, drop)

	drop, _ = l.observe(0, int64(time.Hour), true)
	assert.False(t, drop, "immediate outputs are never dropped")
}

func TestLatencyWindowNeedsMajorityDropped(t *testing.T) {
	t.Parallel()

	var l latencyController
	l.reset(0)

	// Two of four dropped is not more than half.
	l.observe(0, 0, false)
	l.observe(0, 0, false)
	l.observe(0, int64(time.Second), false)
	_, raised := l.observe(int64(EvaluationWindow)+1, int64(time.Second), false)
	assert.Zero(t, raised)
	assert.Equal(t, InitialThresholdMs, l.thresholdMs)
	assert.Zero(t, l.seen, "window counters reset")
	assert.Equal(t, int64(EvaluationWindow)+1, l.windowStart)
}

func TestLatencyWindowNotClosedEarly(t *testing.T) {
	t.Parallel()

	var l latencyController
	l.reset(0)
	for i := range 100 {
		_, raised := l.observe(int64(i)*int64(10*time.Millisecond), int64(time.Second), false)
		assert.Zero(t, raised)
	}
	assert.Equal(t, 100, l.dropped)
}

func TestThresholdMonotonicAndCapped(t *testing.T) {
	t.Parallel()

	for seed := range uint64(8) {
		rng := rand.New(rand.NewPCG(seed, seed*31+7))

		var l latencyController
		l.reset(0)
		now := int64(0)
		prev := l.thresholdMs

		for range 20_000 {
			now += int64(rng.IntN(int(50 * time.Millisecond)))
			latency := int64(rng.IntN(int(150 * time.Millisecond)))
			_, raised := l.observe(now, latency, rng.IntN(20) == 0)

			require.GreaterOrEqual(t, l.thresholdMs, prev)
			require.LessOrEqual(t, l.thresholdMs, MaxThresholdMs)
			switch {
			case l.thresholdMs != prev:
				require.Equal(t, prev+ThresholdStepMs, l.thresholdMs)
				require.Equal(t, l.thresholdMs, raised)
			case raised != 0:
				require.Equal(t, MaxThresholdMs, prev, "unchanged threshold only reported at the cap")
				require.Equal(t, MaxThresholdMs, raised)
			}
			prev = l.thresholdMs
		}
	}
}

func TestThresholdReachesCap(t *testing.T) {
	t.Parallel()

	var l latencyController
	l.reset(0)
	now := int64(0)
	for range 100 {
		now += int64(EvaluationWindow) + 1
		l.observe(now, int64(time.Hour), false)
	}
	assert.Equal(t, MaxThresholdMs, l.thresholdMs)

	// Another bad window at the cap reports the cap again.
	now += int64(EvaluationWindow) + 1
	_, raised := l.observe(now, int64(time.Hour), false)
	assert.Equal(t, MaxThresholdMs, raised)
	assert.Equal(t, MaxThresholdMs, l.thresholdMs)

	// A healthy window at the cap reports nothing.
	l.observe(now, 0, false)
	now += int64(EvaluationWindow) + 1
	_, raised = l.observe(now, 0, false)
	assert.Zero(t, raised)

	l.reset(now)
	assert.Equal(t, InitialThresholdMs, l.thresholdMs)
}
