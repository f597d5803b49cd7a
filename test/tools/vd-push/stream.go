package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"time"

	"github.com/zsiec/vdclient/internal/h264"
	"github.com/zsiec/vdclient/internal/wire"
)

// 1280x720 High profile SPS and a matching PPS.
var (
	defaultSPS = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	defaultPPS = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}
)

// source is an elementary stream split into parameter sets and access
// units.
type source struct {
	sets   [][]byte
	frames [][]byte
}

// syntheticSource returns frames that carry valid NAL headers and filler
// payloads. Every gop-th frame is an IDR slice.
func syntheticSource(frames, gop, size int) source {
	src := source{sets: [][]byte{defaultSPS, defaultPPS}}
	for i := 0; i < frames; i++ {
		nal := byte(0x41)
		if gop > 0 && i%gop == 0 {
			nal = 0x65
		}
		payload := append([]byte{nal}, bytes.Repeat([]byte{byte(i)}, size)...)
		src.frames = append(src.frames, h264.AppendAnnexB(nil, payload))
	}
	return src
}

// loadAnnexB splits an H.264 Annex B file into access units. SPS and PPS
// units become the parameter sets; each VCL unit ends an access unit.
func loadAnnexB(data []byte) (source, error) {
	var src source
	var au []byte
	for _, nal := range h264.ParseAnnexB(data) {
		switch nal.Type {
		case h264.NALTypeSPS, h264.NALTypePPS:
			if len(src.frames) == 0 {
				src.sets = append(src.sets, nal.Data)
			}
		case h264.NALTypeSlice, h264.NALTypeIDR:
			au = h264.AppendAnnexB(au, nal.Data)
			src.frames = append(src.frames, au)
			au = nil
		default:
			au = h264.AppendAnnexB(au, nal.Data)
		}
	}
	if len(src.sets) == 0 {
		return source{}, h264.ErrNoSPS
	}
	if len(src.frames) == 0 {
		return source{}, errors.New("no slices in stream")
	}
	return src, nil
}

type streamOptions struct {
	FPS          int
	Loops        int // 0 repeats forever
	Dialect      wire.Dialect
	Width        int
	Height       int
	SyncInterval time.Duration
	Cursor       bool
}

// send writes one session: configuration, an initial sync, then paced
// video with periodic syncs and optional cursor motion.
func send(ctx context.Context, w io.Writer, src source, opts streamOptions) error {
	codec := wire.Codec{Dialect: opts.Dialect}
	start := time.Now()
	remoteNow := func() int64 { return time.Since(start).Milliseconds() }

	var cfg wire.Packet = wire.Configure{
		Width:         uint32(opts.Width),
		Height:        uint32(opts.Height),
		ParameterSets: src.sets,
	}
	if opts.Dialect == wire.DialectCodecData {
		cfg = wire.CodecParameters{ParameterSets: src.sets}
	}
	if err := codec.WriteFrame(w, cfg); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if err := codec.WriteFrame(w, wire.TimestampSync{RemoteTimeMs: remoteNow()}); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if opts.Cursor {
		if err := codec.WriteFrame(w, wire.CursorImage{ImageID: 1, PNG: cursorPNG()}); err != nil {
			return fmt.Errorf("cursor image: %w", err)
		}
	}

	interval := time.Second / time.Duration(max(opts.FPS, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastSync := time.Now()

	n := 0
	for loop := 0; opts.Loops == 0 || loop < opts.Loops; loop++ {
		for _, frame := range src.frames {
			pts := int64(n) * interval.Milliseconds()
			if err := codec.WriteFrame(w, wire.VideoFrame{PTS: pts, Data: frame}); err != nil {
				return fmt.Errorf("frame %d: %w", n, err)
			}
			if opts.Cursor {
				if err := codec.WriteFrame(w, cursorAt(n, opts.Width, opts.Height)); err != nil {
					return fmt.Errorf("cursor: %w", err)
				}
			}
			if opts.SyncInterval > 0 && time.Since(lastSync) >= opts.SyncInterval {
				if err := codec.WriteFrame(w, wire.TimestampSync{RemoteTimeMs: remoteNow()}); err != nil {
					return fmt.Errorf("sync: %w", err)
				}
				lastSync = time.Now()
			}
			n++

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
	return nil
}

// cursorAt traces a circle around the frame center.
func cursorAt(n, width, height int) wire.CursorPosition {
	r := float64(min(width, height)) / 4
	a := float64(n) * 2 * math.Pi / 120
	return wire.CursorPosition{
		X:       int32(float64(width)/2 + r*math.Cos(a)),
		Y:       int32(float64(height)/2 + r*math.Sin(a)),
		Visible: true,
	}
}

func cursorPNG() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x <= y; x++ {
			img.Set(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
