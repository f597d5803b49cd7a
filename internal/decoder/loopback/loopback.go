// Package loopback implements a software decoder.Service. It lends a fixed
// number of input slots, "decodes" each submitted frame on its own
// goroutine, and reports outputs in submission order. No pixels are
// produced; outputs are only accounted as rendered or discarded. An
// optional io.Writer receives everything submitted as an Annex B
// elementary stream, parameter sets first, which can be played back with
// ffplay.
package loopback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/vdclient/internal/decoder"
	"github.com/zsiec/vdclient/internal/h264"
)

// Defaults for Options.
const (
	DefaultSlots    = 8
	DefaultSlotSize = 2 * 1024 * 1024
)

// Options configures a Service.
type Options struct {
	Slots       int           // input slots per handle; DefaultSlots if zero
	SlotSize    int           // capacity of each slot in bytes; DefaultSlotSize if zero
	DecodeDelay time.Duration // simulated per-frame decode time
	Record      io.Writer     // optional Annex B sink
	Logger      *slog.Logger
}

// Stats is a point-in-time snapshot of Service counters.
type Stats struct {
	Opened    int64 `json:"opened"`
	Released  int64 `json:"released"`
	Frames    int64 `json:"frames"`
	Keyframes int64 `json:"keyframes"`
	Rendered  int64 `json:"rendered"`
	Discarded int64 `json:"discarded"`
	Errors    int64 `json:"errors"`
}

// Service is a decoder.Service backed by goroutines instead of hardware.
type Service struct {
	opts Options
	log  *slog.Logger

	recMu sync.Mutex // serializes writes to opts.Record across handles

	opened    atomic.Int64
	released  atomic.Int64
	frames    atomic.Int64
	keyframes atomic.Int64
	rendered  atomic.Int64
	discarded atomic.Int64
	errs      atomic.Int64
}

// New creates a Service. If opts.Logger is nil, slog.Default() is used.
func New(opts Options) *Service {
	if opts.Slots <= 0 {
		opts.Slots = DefaultSlots
	}
	if opts.SlotSize <= 0 {
		opts.SlotSize = DefaultSlotSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		opts: opts,
		log:  log.With("component", "loopback-decoder"),
	}
}

// Stats returns the current counters.
func (s *Service) Stats() Stats {
	return Stats{
		Opened:    s.opened.Load(),
		Released:  s.released.Load(),
		Frames:    s.frames.Load(),
		Keyframes: s.keyframes.Load(),
		Rendered:  s.rendered.Load(),
		Discarded: s.discarded.Load(),
		Errors:    s.errs.Load(),
	}
}

// Open creates a handle for the given configuration.
func (s *Service) Open(kind decoder.CodecKind, width, height int, parameterSets [][]byte) (decoder.Handle, error) {
	if kind.MIME() == "" {
		return nil, fmt.Errorf("%w: %q", decoder.ErrUnsupportedCodec, kind)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("loopback: invalid resolution %dx%d", width, height)
	}

	sets := make([][]byte, len(parameterSets))
	for i, ps := range parameterSets {
		sets[i] = append([]byte(nil), ps...)
	}

	h := &handle{
		svc:     s,
		kind:    kind,
		sets:    sets,
		bufs:    make([][]byte, s.opts.Slots),
		owned:   make([]bool, s.opts.Slots),
		outputs: make(map[int]int64),
	}
	s.opened.Add(1)
	s.log.Info("decoder opened", "codec", kind, "width", width, "height", height,
		"parameter_sets", len(sets), "slots", s.opts.Slots)
	return h, nil
}

func (s *Service) record(sets ...[]byte) error {
	if s.opts.Record == nil {
		return nil
	}
	var buf []byte
	for _, b := range sets {
		if len(b) > 0 {
			buf = h264.AppendAnnexB(buf, b)
		}
	}
	if len(buf) == 0 {
		return nil
	}
	s.recMu.Lock()
	defer s.recMu.Unlock()
	if _, err := s.opts.Record.Write(buf); err != nil {
		return fmt.Errorf("loopback: record: %w", err)
	}
	return nil
}

type handleState int

const (
	stateIdle handleState = iota
	stateRunning
	stateReleased
)

type job struct {
	slot  int
	ptsUs int64
}

type handle struct {
	svc  *Service
	kind decoder.CodecKind
	sets [][]byte

	mu      sync.Mutex
	state   handleState
	cb      decoder.Callbacks
	bufs    [][]byte
	owned   []bool // lent to the caller
	free    []int  // not lent, not decoding
	outputs map[int]int64
	nextOut int
	jobs    chan job
	wake    chan struct{}
	done    chan struct{}
	recErr  error

	wg sync.WaitGroup
}

func (h *handle) SetCallbacks(cb decoder.Callbacks) {
	h.mu.Lock()
	h.cb = cb
	h.mu.Unlock()
}

func (h *handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case stateReleased:
		return decoder.ErrReleased
	case stateRunning:
		return nil
	}
	if h.cb == nil {
		return errors.New("loopback: start without callbacks")
	}

	n := len(h.bufs)
	h.free = h.free[:0]
	for i := range n {
		h.free = append(h.free, i)
		h.owned[i] = false
	}
	h.jobs = make(chan job, n)
	h.wake = make(chan struct{}, 1)
	h.done = make(chan struct{})
	h.state = stateRunning
	h.recErr = h.svc.record(h.sets...)

	h.wg.Add(1)
	go h.run(h.cb, h.jobs, h.wake, h.done)
	return nil
}

// PollInput lends a free slot that has not been announced by callback.
func (h *handle) PollInput() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateRunning || len(h.free) == 0 {
		return -1, false
	}
	return h.lendLocked(), true
}

func (h *handle) lendLocked() int {
	slot := h.free[0]
	h.free = h.free[1:]
	h.owned[slot] = true
	return slot
}

func (h *handle) Fill(slot int, data []byte, ptsUs int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case stateReleased:
		return decoder.ErrReleased
	case stateIdle:
		return decoder.ErrNotRunning
	}
	if slot < 0 || slot >= len(h.owned) || !h.owned[slot] {
		return fmt.Errorf("%w: %d", decoder.ErrBadSlot, slot)
	}
	if len(data) > h.svc.opts.SlotSize {
		h.owned[slot] = false
		h.free = append(h.free, slot)
		h.kick()
		return fmt.Errorf("%w: %d > %d bytes", decoder.ErrFrameTooLarge, len(data), h.svc.opts.SlotSize)
	}

	buf := h.bufs[slot]
	if cap(buf) < len(data) {
		buf = make([]byte, len(data), h.svc.opts.SlotSize)
	}
	buf = buf[:len(data)]
	copy(buf, data)
	h.bufs[slot] = buf
	h.owned[slot] = false

	h.svc.frames.Add(1)
	if h.kind == decoder.H264 && h264.IsKeyframe(buf) {
		h.svc.keyframes.Add(1)
	}
	if err := h.svc.record(buf); err != nil && h.recErr == nil {
		h.recErr = err
	}

	// Never blocks: at most len(bufs) slots are outstanding.
	h.jobs <- job{slot: slot, ptsUs: ptsUs}
	return nil
}

func (h *handle) kick() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *handle) ReleaseOutput(output int, mode decoder.Release, atNanos int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateReleased {
		return decoder.ErrReleased
	}
	if _, ok := h.outputs[output]; !ok {
		return fmt.Errorf("%w: %d", decoder.ErrUnknownOutput, output)
	}
	delete(h.outputs, output)

	switch mode {
	case decoder.Discard:
		h.svc.discarded.Add(1)
	case decoder.RenderNow, decoder.RenderAt:
		h.svc.rendered.Add(1)
	default:
		return fmt.Errorf("loopback: bad release mode %s", mode)
	}
	return nil
}

func (h *handle) Stop() error {
	h.mu.Lock()
	if h.state != stateRunning {
		h.mu.Unlock()
		return nil
	}
	h.state = stateIdle
	close(h.done)
	h.mu.Unlock()

	// Callbacks may call back into the handle, so wait unlocked.
	h.wg.Wait()

	h.mu.Lock()
	h.free = h.free[:0]
	for i := range h.owned {
		h.owned[i] = false
	}
	clear(h.outputs)
	h.jobs = nil
	h.mu.Unlock()
	return nil
}

func (h *handle) Release() error {
	if err := h.Stop(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == stateReleased {
		return decoder.ErrReleased
	}
	h.state = stateReleased
	h.bufs = nil
	h.svc.released.Add(1)
	h.svc.log.Debug("decoder released", "codec", h.kind)
	return nil
}

// run announces free slots and decodes submitted jobs in order until done
// is closed.
func (h *handle) run(cb decoder.Callbacks, jobs <-chan job, wake <-chan struct{}, done <-chan struct{}) {
	defer h.wg.Done()

	var timer *time.Timer
	if d := h.svc.opts.DecodeDelay; d > 0 {
		timer = time.NewTimer(d)
		timer.Stop()
		defer timer.Stop()
	}

	for {
		if !h.announce(cb, done) {
			return
		}

		select {
		case <-done:
			return
		case <-wake:
			continue
		case j := <-jobs:
			if timer != nil {
				timer.Reset(h.svc.opts.DecodeDelay)
				select {
				case <-done:
					return
				case <-timer.C:
				}
			}

			h.mu.Lock()
			if h.state != stateRunning {
				h.mu.Unlock()
				return
			}
			h.free = append(h.free, j.slot)
			out := h.nextOut
			h.nextOut++
			h.outputs[out] = j.ptsUs
			recErr := h.recErr
			h.recErr = nil
			h.mu.Unlock()

			if recErr != nil {
				h.svc.errs.Add(1)
				cb.OnError(recErr)
			}
			cb.OnOutputAvailable(out, j.ptsUs)
		}
	}
}

// announce lends every free slot through OnInputAvailable. It reports
// false once the handle has been stopped.
func (h *handle) announce(cb decoder.Callbacks, done <-chan struct{}) bool {
	for {
		select {
		case <-done:
			return false
		default:
		}

		h.mu.Lock()
		if h.state != stateRunning {
			h.mu.Unlock()
			return false
		}
		if len(h.free) == 0 {
			h.mu.Unlock()
			return true
		}
		slot := h.lendLocked()
		h.mu.Unlock()

		cb.OnInputAvailable(slot)
	}
}
