// Package pipeline feeds coded video frames into a decoder.Handle under a
// latency budget.
//
// Two goroutines meet here. The connection's reader calls SubmitFrame,
// which borrows an input slot announced by the decoder, fills it, and
// submits it. The decoder's callback goroutine announces slots and reports
// decoded outputs, which the pipeline renders at their presentation
// deadline or discards when they are already older than the current drop
// threshold. The threshold starts at 20ms and rises in 5ms steps, up to
// 100ms, whenever more than half the outputs of a 2s window were dropped.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/vdclient/internal/clock"
	"github.com/zsiec/vdclient/internal/decoder"
)

// State is the lifecycle state of a Pipeline.
type State int32

// Pipeline states.
const (
	Unconfigured State = iota
	Configured
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrNoDecoder    = errors.New("pipeline: no decoder configured")
	ErrInvalidState = errors.New("pipeline: invalid state")
	ErrNotRunning   = errors.New("pipeline: not running")
	ErrSlotTimeout  = errors.New("pipeline: timed out waiting for input slot")
)

// DefaultSlotTimeout bounds how long SubmitFrame waits for an input slot.
const DefaultSlotTimeout = time.Second

// maxImmediate bounds the number of distinct in-flight unsynchronized
// timestamps. Outputs the decoder never delivers would otherwise accumulate.
const maxImmediate = 512

// Params describes a decoder configuration.
type Params struct {
	Codec         decoder.CodecKind
	Width         int
	Height        int
	ParameterSets [][]byte

	// CodecString is the RFC 6381 codec string, when the parameter sets
	// could be parsed. Informational only.
	CodecString string
}

// Frame is one coded video frame ready for submission.
type Frame struct {
	PTS      int64 // sender milliseconds
	Deadline int64 // local monotonic nanoseconds, or clock.Unsynchronized
	Data     []byte
}

// Options configures a Pipeline.
type Options struct {
	Service decoder.Service

	// Now returns monotonic nanoseconds on the same timeline as frame
	// deadlines. Defaults to clock.Monotonic.
	Now func() int64

	// SlotTimeout defaults to DefaultSlotTimeout.
	SlotTimeout time.Duration

	// OnThresholdChange is called from the decoder callback goroutine each
	// time the drop threshold rises, and again with MaxThresholdMs for every
	// mostly-dropped window once the cap is reached. It must not block.
	OnThresholdChange func(thresholdMs int)

	Logger *slog.Logger
}

// Pipeline owns at most one decoder handle at a time.
type Pipeline struct {
	log         *slog.Logger
	svc         decoder.Service
	now         func() int64
	slotTimeout time.Duration
	onThreshold func(int)

	// handleMu guards the handle and its configuration. It is never held
	// while waiting for a slot, and decoder callbacks never take it.
	handleMu sync.Mutex
	handle   decoder.Handle
	params   Params
	gen      uint64

	state  atomic.Int32
	curGen atomic.Uint64

	slots *slotQueue

	// immediate counts in-flight unsynchronized frames per decoder pts.
	immMu     sync.Mutex
	immediate map[int64]int

	latency   latencyController
	threshold atomic.Int32

	configures      atomic.Int64
	submitted       atomic.Int64
	slotTimeouts    atomic.Int64
	submitFailures  atomic.Int64
	rendered        atomic.Int64
	immediateFrames atomic.Int64
	dropped         atomic.Int64
	releaseFailures atomic.Int64
	decoderErrors   atomic.Int64
}

// New creates an unconfigured Pipeline. If opts.Logger is nil,
// slog.Default() is used.
func New(opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = clock.Monotonic
	}
	if opts.SlotTimeout <= 0 {
		opts.SlotTimeout = DefaultSlotTimeout
	}
	p := &Pipeline{
		log:         log.With("component", "pipeline"),
		svc:         opts.Service,
		now:         opts.Now,
		slotTimeout: opts.SlotTimeout,
		onThreshold: opts.OnThresholdChange,
		slots:       newSlotQueue(),
		immediate:   make(map[int64]int),
	}
	p.threshold.Store(InitialThresholdMs)
	return p
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// ThresholdMs returns the current drop threshold in milliseconds.
func (p *Pipeline) ThresholdMs() int {
	return int(p.threshold.Load())
}

// Configure releases any previous decoder, stopping it first if it is
// running, and opens a new one for params. The pipeline is left in the
// Configured state; call Start to begin decoding.
func (p *Pipeline) Configure(params Params) error {
	if p.svc == nil {
		return errors.New("pipeline: no decoder service")
	}
	if params.Codec == "" {
		params.Codec = decoder.H264
	}

	p.handleMu.Lock()
	defer p.handleMu.Unlock()

	if p.handle != nil {
		p.releaseLocked()
	}

	h, err := p.svc.Open(params.Codec, params.Width, params.Height, params.ParameterSets)
	if err != nil {
		return fmt.Errorf("pipeline: open decoder: %w", err)
	}

	p.bumpGenLocked()
	h.SetCallbacks(&callbacks{p: p, h: h, gen: p.gen})
	p.handle = h
	p.params = params
	p.state.Store(int32(Configured))
	p.configures.Add(1)

	p.log.Info("decoder configured",
		"codec", params.Codec,
		"codec_string", params.CodecString,
		"width", params.Width,
		"height", params.Height,
		"parameter_sets", len(params.ParameterSets),
		"generation", p.gen,
	)
	return nil
}

// Start starts the configured decoder and resets the latency controller.
func (p *Pipeline) Start() error {
	p.handleMu.Lock()
	defer p.handleMu.Unlock()

	switch st := p.State(); st {
	case Unconfigured:
		return ErrNoDecoder
	case Configured:
	default:
		return fmt.Errorf("%w: start while %s", ErrInvalidState, st)
	}

	p.latency.reset(p.now())
	p.threshold.Store(InitialThresholdMs)
	p.clearImmediate()

	// Running before Start so the first callbacks are accepted.
	p.state.Store(int32(Running))
	if err := p.handle.Start(); err != nil {
		p.state.Store(int32(Configured))
		return fmt.Errorf("pipeline: start decoder: %w", err)
	}
	p.log.Info("decoder started", "generation", p.gen)
	return nil
}

// Stop halts the decoder and wakes any SubmitFrame waiting for a slot. The
// pipeline must be configured again before it can restart.
func (p *Pipeline) Stop() error {
	p.handleMu.Lock()
	defer p.handleMu.Unlock()

	if p.handle == nil {
		return ErrNoDecoder
	}
	if p.State() == Stopped {
		return nil
	}

	p.state.Store(int32(Stopped))
	p.bumpGenLocked()
	if err := p.handle.Stop(); err != nil {
		return fmt.Errorf("pipeline: stop decoder: %w", err)
	}
	p.log.Info("decoder stopped")
	return nil
}

// Close stops the decoder if needed and releases it permanently.
func (p *Pipeline) Close() error {
	p.handleMu.Lock()
	defer p.handleMu.Unlock()

	if p.handle == nil {
		return nil
	}
	err := p.releaseLocked()
	p.log.Info("decoder closed")
	return err
}

// releaseLocked stops a running handle, releases it, and returns the
// pipeline to Unconfigured. Failures are logged; the handle is dropped
// regardless.
func (p *Pipeline) releaseLocked() error {
	h := p.handle
	wasRunning := p.State() == Running

	p.state.Store(int32(Unconfigured))
	p.bumpGenLocked()

	var errs []error
	if wasRunning {
		if err := h.Stop(); err != nil {
			p.log.Warn("stop previous decoder", "error", err)
			errs = append(errs, fmt.Errorf("pipeline: stop decoder: %w", err))
		}
	}
	if err := h.Release(); err != nil {
		p.log.Warn("release previous decoder", "error", err)
		errs = append(errs, fmt.Errorf("pipeline: release decoder: %w", err))
	}
	p.handle = nil
	p.params = Params{}
	return errors.Join(errs...)
}

// bumpGenLocked invalidates every slot and callback of the current
// handle and wakes waiters.
func (p *Pipeline) bumpGenLocked() {
	p.gen++
	p.curGen.Store(p.gen)
	p.slots.resetTo(p.gen)
}

// SubmitFrame hands one frame to the decoder. It returns ErrNotRunning
// without side effects while the pipeline is not running, and
// ErrSlotTimeout when no input slot became available in time; the frame is
// dropped in both cases. A decoder rejection is logged and returned.
func (p *Pipeline) SubmitFrame(f Frame) error {
	// Stop publishes the state before bumping the generation, so a
	// generation loaded first is either stale or paired with Running.
	gen := p.curGen.Load()
	if p.State() != Running {
		return ErrNotRunning
	}

	slot, err := p.acquireSlot(gen)
	if err != nil {
		if errors.Is(err, ErrSlotTimeout) {
			p.slotTimeouts.Add(1)
			p.log.Debug("no input slot, dropping frame", "pts", f.PTS, "timeout", p.slotTimeout)
		}
		return err
	}

	ptsUs, immediate := presentationUs(f)

	p.handleMu.Lock()
	if p.gen != gen || p.State() != Running {
		p.handleMu.Unlock()
		return errStaleGen
	}
	if immediate {
		p.markImmediate(ptsUs)
	}
	err = p.handle.Fill(slot, f.Data, ptsUs)
	p.handleMu.Unlock()

	if err != nil {
		if immediate {
			p.takeImmediate(ptsUs)
		}
		p.submitFailures.Add(1)
		p.log.Warn("decoder rejected frame", "pts", f.PTS, "slot", slot, "bytes", len(f.Data), "error", err)
		return fmt.Errorf("pipeline: fill slot %d: %w", slot, err)
	}
	p.submitted.Add(1)
	return nil
}

// presentationUs converts a frame's schedule into the decoder's
// microsecond timestamp. Unsynchronized frames carry their sender pts and
// are rendered as soon as they are decoded.
func presentationUs(f Frame) (ptsUs int64, immediate bool) {
	if f.Deadline == clock.Unsynchronized {
		return f.PTS * 1000, true
	}
	return f.Deadline / 1000, false
}

// acquireSlot takes a queued slot, then polls the decoder once, then waits
// for an announcement.
func (p *Pipeline) acquireSlot(gen uint64) (int, error) {
	if slot, ok := p.slots.tryPop(gen); ok {
		return slot, nil
	}

	var (
		slot int
		ok   bool
	)
	p.handleMu.Lock()
	if p.gen == gen && p.State() == Running {
		slot, ok = p.handle.PollInput()
	}
	p.handleMu.Unlock()
	if ok {
		return slot, nil
	}

	return p.slots.acquire(gen, p.slotTimeout)
}

func (p *Pipeline) markImmediate(ptsUs int64) {
	p.immMu.Lock()
	defer p.immMu.Unlock()
	if _, ok := p.immediate[ptsUs]; !ok && len(p.immediate) >= maxImmediate {
		// Evict the oldest timestamp; its output is long overdue.
		first, oldest := true, int64(0)
		for pts := range p.immediate {
			if first || pts < oldest {
				first, oldest = false, pts
			}
		}
		delete(p.immediate, oldest)
	}
	p.immediate[ptsUs]++
}

func (p *Pipeline) takeImmediate(ptsUs int64) bool {
	p.immMu.Lock()
	defer p.immMu.Unlock()
	n, ok := p.immediate[ptsUs]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.immediate, ptsUs)
	} else {
		p.immediate[ptsUs] = n - 1
	}
	return true
}

func (p *Pipeline) clearImmediate() {
	p.immMu.Lock()
	clear(p.immediate)
	p.immMu.Unlock()
}

// callbacks adapts one decoder handle's events to the pipeline. Events
// from a handle that has since been stopped or replaced are ignored.
type callbacks struct {
	p   *Pipeline
	h   decoder.Handle
	gen uint64
}

func (c *callbacks) current() bool {
	return c.p.curGen.Load() == c.gen
}

func (c *callbacks) OnInputAvailable(slot int) {
	if !c.current() {
		return
	}
	c.p.slots.push(c.gen, slot)
}

func (c *callbacks) OnOutputAvailable(output int, ptsUs int64) {
	p := c.p
	if !c.current() || p.State() != Running {
		return
	}

	now := p.now()
	presentAt := ptsUs * 1000
	immediate := p.takeImmediate(ptsUs)
	drop, raised := p.latency.observe(now, now-presentAt, immediate)

	var err error
	switch {
	case drop:
		err = c.h.ReleaseOutput(output, decoder.Discard, 0)
		p.dropped.Add(1)
	case immediate:
		err = c.h.ReleaseOutput(output, decoder.RenderNow, 0)
		p.immediateFrames.Add(1)
	default:
		err = c.h.ReleaseOutput(output, decoder.RenderAt, presentAt)
		p.rendered.Add(1)
	}
	if err != nil {
		p.releaseFailures.Add(1)
		p.log.Warn("release output", "output", output, "error", err)
	}

	if raised > 0 {
		p.threshold.Store(int32(raised))
		p.log.Debug("drop threshold raised", "threshold_ms", raised)
		if p.onThreshold != nil {
			p.onThreshold(raised)
		}
	}
}

func (c *callbacks) OnError(err error) {
	if !c.current() {
		return
	}
	c.p.decoderErrors.Add(1)
	c.p.log.Error("decoder error", "error", err)
}

// Stats is a point-in-time snapshot of pipeline state and counters.
type Stats struct {
	State           string `json:"state"`
	Codec           string `json:"codec,omitempty"`
	CodecString     string `json:"codecString,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	Generation      uint64 `json:"generation"`
	ThresholdMs     int    `json:"thresholdMs"`
	QueuedSlots     int    `json:"queuedSlots"`
	Configures      int64  `json:"configures"`
	Submitted       int64  `json:"submitted"`
	SlotTimeouts    int64  `json:"slotTimeouts"`
	SubmitFailures  int64  `json:"submitFailures"`
	Rendered        int64  `json:"rendered"`
	Immediate       int64  `json:"immediate"`
	Dropped         int64  `json:"dropped"`
	ReleaseFailures int64  `json:"releaseFailures"`
	DecoderErrors   int64  `json:"decoderErrors"`
}

// Stats returns a snapshot for the debug API.
func (p *Pipeline) Stats() Stats {
	p.handleMu.Lock()
	params := p.params
	gen := p.gen
	p.handleMu.Unlock()

	return Stats{
		State:           p.State().String(),
		Codec:           string(params.Codec),
		CodecString:     params.CodecString,
		Width:           params.Width,
		Height:          params.Height,
		Generation:      gen,
		ThresholdMs:     p.ThresholdMs(),
		QueuedSlots:     p.slots.len(),
		Configures:      p.configures.Load(),
		Submitted:       p.submitted.Load(),
		SlotTimeouts:    p.slotTimeouts.Load(),
		SubmitFailures:  p.submitFailures.Load(),
		Rendered:        p.rendered.Load(),
		Immediate:       p.immediateFrames.Load(),
		Dropped:         p.dropped.Load(),
		ReleaseFailures: p.releaseFailures.Load(),
		DecoderErrors:   p.decoderErrors.Load(),
	}
}
