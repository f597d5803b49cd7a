// Package dispatch routes decoded wire packets to the decode pipeline, the
// clock sync, and the cursor sink.
package dispatch

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/vdclient/internal/clock"
	"github.com/zsiec/vdclient/internal/decoder"
	"github.com/zsiec/vdclient/internal/h264"
	"github.com/zsiec/vdclient/internal/pipeline"
	"github.com/zsiec/vdclient/internal/wire"
)

// ErrNoConfiguration is returned by Reconfigure before any configure packet
// has been received.
var ErrNoConfiguration = errors.New("dispatch: no configuration received")

var errNotInspected = errors.New("dispatch: parameter sets not inspected for codec")

// Pipeline is the subset of *pipeline.Pipeline the dispatcher drives.
type Pipeline interface {
	Configure(params pipeline.Params) error
	Start() error
	SubmitFrame(f pipeline.Frame) error
}

// Clock is the subset of *clock.Sync the dispatcher uses.
type Clock interface {
	OnTimestampSync(remoteTimeMs int64)
	Deadline(ptsMs int64) int64
}

// CursorSink receives cursor updates for an overlay.
type CursorSink interface {
	OnCursorPosition(p wire.CursorPosition)
	OnCursorImage(img wire.CursorImage)
}

// Options configures a Dispatcher.
type Options struct {
	Pipeline Pipeline
	Clock    Clock
	Cursor   CursorSink // optional

	// Codec is the codec the stream carries.
	Codec decoder.CodecKind

	// FallbackWidth and FallbackHeight size the decoder when a
	// CodecParameters packet arrives and no resolution can be parsed from
	// its parameter sets.
	FallbackWidth  int
	FallbackHeight int

	Logger *slog.Logger
}

// Stats counts routed packets.
type Stats struct {
	Video             int64 `json:"video"`
	VideoNotRunning   int64 `json:"videoNotRunning"`
	Audio             int64 `json:"audioDiscarded"`
	Configures        int64 `json:"configures"`
	ConfigureFailures int64 `json:"configureFailures"`
	Syncs             int64 `json:"syncs"`
	CursorPositions   int64 `json:"cursorPositions"`
	CursorImages      int64 `json:"cursorImages"`
	Other             int64 `json:"other"`
}

// Dispatcher routes packets on the reader's goroutine. Only a video
// submission may wait, bounded by the pipeline's slot timeout.
type Dispatcher struct {
	log    *slog.Logger
	pipe   Pipeline
	clock  Clock
	cursor CursorSink
	codec  decoder.CodecKind
	fbW    int
	fbH    int

	mu   sync.Mutex
	last *pipeline.Params

	video             atomic.Int64
	videoNotRunning   atomic.Int64
	audio             atomic.Int64
	configures        atomic.Int64
	configureFailures atomic.Int64
	syncs             atomic.Int64
	cursorPositions   atomic.Int64
	cursorImages      atomic.Int64
	other             atomic.Int64
}

// New creates a Dispatcher. If opts.Logger is nil, slog.Default() is used.
func New(opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Codec == "" {
		opts.Codec = decoder.H264
	}
	return &Dispatcher{
		log:    log.With("component", "dispatch"),
		pipe:   opts.Pipeline,
		clock:  opts.Clock,
		cursor: opts.Cursor,
		codec:  opts.Codec,
		fbW:    opts.FallbackWidth,
		fbH:    opts.FallbackHeight,
	}
}

// Dispatch routes one packet. Failures are logged and counted; none of
// them end the connection.
func (d *Dispatcher) Dispatch(pkt wire.Packet) {
	switch p := pkt.(type) {
	case wire.VideoFrame:
		d.video.Add(1)
		d.submitVideo(p)

	case wire.Configure:
		info, _ := d.inspect(p.ParameterSets)
		d.apply(pipeline.Params{
			Codec:         d.codec,
			Width:         int(p.Width),
			Height:        int(p.Height),
			ParameterSets: p.ParameterSets,
			CodecString:   info.codec,
		})

	case wire.CodecParameters:
		info, err := d.inspect(p.ParameterSets)
		w, h := info.width, info.height
		if err != nil || w <= 0 || h <= 0 {
			d.log.Debug("no resolution in parameter sets, using fallback",
				"error", err, "width", d.fbW, "height", d.fbH)
			w, h = d.fbW, d.fbH
		}
		d.apply(pipeline.Params{
			Codec:         d.codec,
			Width:         w,
			Height:        h,
			ParameterSets: p.ParameterSets,
			CodecString:   info.codec,
		})

	case wire.TimestampSync:
		d.syncs.Add(1)
		d.clock.OnTimestampSync(p.RemoteTimeMs)
		d.log.Debug("clock sync", "remote_ms", p.RemoteTimeMs)

	case wire.CursorPosition:
		d.cursorPositions.Add(1)
		if d.cursor != nil {
			d.cursor.OnCursorPosition(p)
		}

	case wire.CursorImage:
		d.cursorImages.Add(1)
		if d.cursor != nil {
			d.cursor.OnCursorImage(p)
		}

	case wire.AudioFrame:
		d.audio.Add(1)

	default:
		d.other.Add(1)
		d.log.Warn("unhandled packet", "type", pkt.PacketType())
	}
}

func (d *Dispatcher) submitVideo(v wire.VideoFrame) {
	err := d.pipe.SubmitFrame(pipeline.Frame{
		PTS:      v.PTS,
		Deadline: d.clock.Deadline(v.PTS),
		Data:     v.Data,
	})
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrNotRunning):
		if d.videoNotRunning.Add(1) == 1 {
			d.log.Info("video before decoder is running, dropping", "pts", v.PTS)
		}
	default:
		// The pipeline already logged and counted it.
		d.log.Debug("video frame dropped", "pts", v.PTS, "error", err)
	}
}

type streamInfo struct {
	width, height int
	codec         string
}

// inspect parses the SPS of H.264 parameter sets. Other codecs yield a zero
// streamInfo and errNotInspected.
func (d *Dispatcher) inspect(sets [][]byte) (streamInfo, error) {
	if d.codec != decoder.H264 {
		return streamInfo{}, errNotInspected
	}
	sps, err := h264.ParseParameterSets(sets)
	if err != nil {
		return streamInfo{}, err
	}
	return streamInfo{width: sps.Width, height: sps.Height, codec: sps.CodecString()}, nil
}

func (d *Dispatcher) apply(params pipeline.Params) {
	d.mu.Lock()
	d.last = &params
	d.mu.Unlock()

	d.configures.Add(1)
	if err := d.configureAndStart(params); err != nil {
		d.configureFailures.Add(1)
		d.log.Error("configure decoder", "width", params.Width, "height", params.Height, "error", err)
	}
}

func (d *Dispatcher) configureAndStart(params pipeline.Params) error {
	if err := d.pipe.Configure(params); err != nil {
		return err
	}
	return d.pipe.Start()
}

// Reconfigure re-applies the most recent configuration, for example after
// the output surface was lost and the pipeline stopped.
func (d *Dispatcher) Reconfigure() error {
	d.mu.Lock()
	last := d.last
	d.mu.Unlock()

	if last == nil {
		return ErrNoConfiguration
	}
	d.configures.Add(1)
	if err := d.configureAndStart(*last); err != nil {
		d.configureFailures.Add(1)
		return err
	}
	return nil
}

// LastConfiguration returns the most recently received configuration.
func (d *Dispatcher) LastConfiguration() (pipeline.Params, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return pipeline.Params{}, false
	}
	return *d.last, true
}

// Stats returns the routing counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Video:             d.video.Load(),
		VideoNotRunning:   d.videoNotRunning.Load(),
		Audio:             d.audio.Load(),
		Configures:        d.configures.Load(),
		ConfigureFailures: d.configureFailures.Load(),
		Syncs:             d.syncs.Load(),
		CursorPositions:   d.cursorPositions.Load(),
		CursorImages:      d.cursorImages.Load(),
		Other:             d.other.Load(),
	}
}

var _ Clock = (*clock.Sync)(nil)
var _ Pipeline = (*pipeline.Pipeline)(nil)
