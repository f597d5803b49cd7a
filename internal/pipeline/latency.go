package pipeline

import "time"

// Latency controller tuning.
const (
	InitialThresholdMs = 20
	ThresholdStepMs    = 5
	MaxThresholdMs     = 100
	EvaluationWindow   = 2 * time.Second
)

// latencyController decides whether a decoded frame is still fresh enough
// to show. It is confined to the decoder's output callback goroutine.
type latencyController struct {
	thresholdMs int
	windowStart int64
	seen        int
	dropped     int
}

func (l *latencyController) reset(now int64) {
	l.thresholdMs = InitialThresholdMs
	l.windowStart = now
	l.seen = 0
	l.dropped = 0
}

// observe records one output whose age at now is latency. Outputs marked
// immediate were submitted before any clock sync and are never dropped.
// When a window closes with more than half its frames dropped, the raised
// threshold is returned; otherwise raised is zero. A bad window at the cap
// reports MaxThresholdMs again without changing it.
func (l *latencyController) observe(now, latency int64, immediate bool) (drop bool, raised int) {
	l.seen++
	if !immediate && latency > int64(l.thresholdMs)*int64(time.Millisecond) {
		drop = true
		l.dropped++
	}

	if now-l.windowStart > int64(EvaluationWindow) {
		if l.dropped > l.seen/2 {
			l.thresholdMs = min(l.thresholdMs+ThresholdStepMs, MaxThresholdMs)
			raised = l.thresholdMs
		}
		l.seen = 0
		l.dropped = 0
		l.windowStart = now
	}
	return drop, raised
}
