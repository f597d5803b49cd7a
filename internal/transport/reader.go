package transport

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/zsiec/vdclient/internal/wire"
)

// Video buffer pool defaults.
const (
	DefaultVideoBuffers    = 60
	DefaultVideoBufferSize = 500 * 1024
)

const initialDataBuffer = 64 * 1024

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	Dialect         wire.Dialect
	VideoBuffers    int // DefaultVideoBuffers if zero
	VideoBufferSize int // DefaultVideoBufferSize if zero
}

// ConnStats collects connection-level counters. The zero value is ready
// to use and safe for concurrent reads while a Reader updates it.
type ConnStats struct {
	bytesReceived atomic.Int64
	readCount     atomic.Int64
	packets       atomic.Int64
	videoFrames   atomic.Int64
	unrecognized  atomic.Int64
	malformed     atomic.Int64
}

// ConnSnapshot is a point-in-time copy of ConnStats.
type ConnSnapshot struct {
	BytesReceived int64 `json:"bytesReceived"`
	ReadCount     int64 `json:"readCount"`
	Packets       int64 `json:"packets"`
	VideoFrames   int64 `json:"videoFrames"`
	Unrecognized  int64 `json:"unrecognized"`
	Malformed     int64 `json:"malformed"`
}

// RecordRead counts one successful socket read of n bytes.
func (s *ConnStats) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// Snapshot returns the current counters.
func (s *ConnStats) Snapshot() ConnSnapshot {
	return ConnSnapshot{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		Packets:       s.packets.Load(),
		VideoFrames:   s.videoFrames.Load(),
		Unrecognized:  s.unrecognized.Load(),
		Malformed:     s.malformed.Load(),
	}
}

type countingReader struct {
	r     io.Reader
	stats *ConnStats
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.stats.RecordRead(n)
	}
	return n, err
}

// Reader assembles packets from a byte stream. It is not safe for
// concurrent use.
//
// Video payloads are read into a rotating pool of buffers so a frame
// handed downstream stays intact while the next ones are read; the
// returned VideoFrame.Data is valid until the pool wraps around. All
// other payloads share one working buffer and are copied by the codec.
type Reader struct {
	r       io.Reader
	codec   wire.Codec
	stats   *ConnStats
	hdr     [wire.HeaderSize]byte
	data    []byte
	pool    [][]byte
	poolCap int
	next    int
}

// NewReader creates a Reader over r. If stats is nil, counters are kept
// privately.
func NewReader(r io.Reader, opts ReaderOptions, stats *ConnStats) *Reader {
	if opts.VideoBuffers <= 0 {
		opts.VideoBuffers = DefaultVideoBuffers
	}
	if opts.VideoBufferSize <= 0 {
		opts.VideoBufferSize = DefaultVideoBufferSize
	}
	if stats == nil {
		stats = new(ConnStats)
	}
	return &Reader{
		r:       countingReader{r: r, stats: stats},
		codec:   wire.Codec{Dialect: opts.Dialect},
		stats:   stats,
		pool:    make([][]byte, opts.VideoBuffers),
		poolCap: opts.VideoBufferSize,
	}
}

// Stats returns the counters this Reader updates.
func (r *Reader) Stats() *ConnStats {
	return r.stats
}

// ReadPacket blocks until one complete packet has been read. Errors for
// which IsFatal is false leave the stream positioned at the next frame.
// A declared length above wire.MaxPayload returns a *wire.FramingError
// before any payload byte is consumed.
func (r *Reader) ReadPacket() (wire.Packet, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		return nil, err
	}
	h, err := wire.DecodeHeader(r.hdr[:])
	if err != nil {
		return nil, err
	}
	if err := h.Check(); err != nil {
		return nil, err
	}

	payload := r.buffer(h)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, fmt.Errorf("transport: read %s payload (%d bytes): %w", h.Type, h.Length, err)
	}
	r.stats.packets.Add(1)

	pkt, err := r.codec.DecodePayload(h.Type, payload)
	if err != nil {
		if h.Known() {
			r.stats.malformed.Add(1)
		} else {
			r.stats.unrecognized.Add(1)
		}
		return nil, err
	}
	if h.Type == wire.TypeVideo {
		r.stats.videoFrames.Add(1)
	}
	return pkt, nil
}

// buffer returns a slice of exactly h.Length bytes to read the payload
// into.
func (r *Reader) buffer(h wire.Header) []byte {
	n := int(h.Length)
	if h.Type != wire.TypeVideo {
		if cap(r.data) < n {
			r.data = make([]byte, max(n, initialDataBuffer))
		}
		return r.data[:n]
	}

	buf := r.pool[r.next]
	if cap(buf) < n {
		buf = make([]byte, max(n, r.poolCap))
		r.pool[r.next] = buf
	}
	r.next = (r.next + 1) % len(r.pool)
	return buf[:n]
}
