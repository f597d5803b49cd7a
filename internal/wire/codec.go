package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DecodeHeader parses the 8-byte frame header. It does not enforce
// MaxPayload; see Header.Check.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		Type:   Type(binary.BigEndian.Uint32(b[0:4])),
		Length: binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// AppendHeader appends the encoded header to buf.
func AppendHeader(buf []byte, h Header) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(h.Type))
	buf = binary.BigEndian.AppendUint32(buf, h.Length)
	return buf
}

// Check returns a *FramingError if the declared length exceeds MaxPayload.
func (h Header) Check() error {
	if h.Length > MaxPayload {
		return &FramingError{Type: uint32(h.Type), Length: h.Length, Max: MaxPayload}
	}
	return nil
}

// Known reports whether the header's type tag belongs to the protocol.
func (h Header) Known() bool {
	return h.Type <= TypeCursorImage
}

// Codec decodes and encodes payloads for one protocol dialect. The zero
// value speaks DialectConfigure.
type Codec struct {
	Dialect Dialect
}

// DecodePayload decodes a complete payload of the given type.
//
// VideoFrame.Data aliases payload so the caller's buffer is reused; every
// other packet type copies what it keeps. An unrecognized type yields an
// *UnknownTypeError, which is not a framing failure.
func (c Codec) DecodePayload(t Type, payload []byte) (Packet, error) {
	r := newBufReader(payload)

	switch t {
	case TypeVideo:
		pts, err := r.readInt64()
		if err != nil {
			return nil, &ParseError{Type: t, Field: "pts", Err: err}
		}
		return VideoFrame{PTS: pts, Data: r.rest()}, nil

	case TypeAudio:
		return AudioFrame{Data: clone(payload)}, nil

	case TypeTimestampSync:
		ts, err := r.readInt64()
		if err != nil {
			return nil, &ParseError{Type: t, Field: "remote_time", Err: err}
		}
		return TimestampSync{RemoteTimeMs: ts}, nil

	case TypeConfigure:
		if c.Dialect == DialectCodecData {
			sets, err := parseParameterSets(r)
			if err != nil {
				return nil, &ParseError{Type: t, Field: "parameter_sets", Err: err}
			}
			return CodecParameters{ParameterSets: sets}, nil
		}
		var cfg Configure
		var err error
		if cfg.Width, err = r.readUint32(); err != nil {
			return nil, &ParseError{Type: t, Field: "width", Err: err}
		}
		if cfg.Height, err = r.readUint32(); err != nil {
			return nil, &ParseError{Type: t, Field: "height", Err: err}
		}
		if cfg.ParameterSets, err = parseParameterSets(r); err != nil {
			return nil, &ParseError{Type: t, Field: "parameter_sets", Err: err}
		}
		return cfg, nil

	case TypeCursorPos:
		var cp CursorPosition
		x, err := r.readUint32()
		if err != nil {
			return nil, &ParseError{Type: t, Field: "x", Err: err}
		}
		y, err := r.readUint32()
		if err != nil {
			return nil, &ParseError{Type: t, Field: "y", Err: err}
		}
		visible, err := r.readUint32()
		if err != nil {
			return nil, &ParseError{Type: t, Field: "visible", Err: err}
		}
		cp.X = int32(x)
		cp.Y = int32(y)
		cp.Visible = visible == 1
		return cp, nil

	case TypeCursorImage:
		id, err := r.readUint32()
		if err != nil {
			return nil, &ParseError{Type: t, Field: "image_id", Err: err}
		}
		return CursorImage{ImageID: id, PNG: clone(r.rest())}, nil
	}

	return nil, &UnknownTypeError{Type: uint32(t), Length: uint32(len(payload))}
}

// EncodePayload serializes p, returning its type tag and payload bytes.
func (c Codec) EncodePayload(p Packet) (Type, []byte, error) {
	var buf []byte

	switch v := p.(type) {
	case VideoFrame:
		buf = make([]byte, 0, ptsSize+len(v.Data))
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.PTS))
		buf = append(buf, v.Data...)
	case AudioFrame:
		buf = clone(v.Data)
	case TimestampSync:
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.RemoteTimeMs))
	case Configure:
		if c.Dialect == DialectCodecData {
			return 0, nil, fmt.Errorf("%w: configure in %s dialect", ErrUnsupportedValue, c.Dialect)
		}
		buf = binary.BigEndian.AppendUint32(buf, v.Width)
		buf = binary.BigEndian.AppendUint32(buf, v.Height)
		buf = appendParameterSets(buf, v.ParameterSets)
	case CodecParameters:
		if c.Dialect != DialectCodecData {
			return 0, nil, fmt.Errorf("%w: codec parameters in %s dialect", ErrUnsupportedValue, c.Dialect)
		}
		buf = appendParameterSets(buf, v.ParameterSets)
	case CursorPosition:
		var visible uint32
		if v.Visible {
			visible = 1
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(v.X))
		buf = binary.BigEndian.AppendUint32(buf, uint32(v.Y))
		buf = binary.BigEndian.AppendUint32(buf, visible)
	case CursorImage:
		buf = make([]byte, 0, 4+len(v.PNG))
		buf = binary.BigEndian.AppendUint32(buf, v.ImageID)
		buf = append(buf, v.PNG...)
	default:
		return 0, nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, p)
	}

	if len(buf) > MaxPayload {
		return 0, nil, &FramingError{Type: uint32(p.PacketType()), Length: uint32(len(buf)), Max: MaxPayload}
	}
	return p.PacketType(), buf, nil
}

// WriteFrame encodes p and writes header and payload as a single Write
// call so concurrent writers on a shared stream cannot interleave frames.
func (c Codec) WriteFrame(w io.Writer, p Packet) error {
	t, payload, err := c.EncodePayload(p)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = AppendHeader(buf, Header{Type: t, Length: uint32(len(payload))})
	buf = append(buf, payload...)
	_, err = w.Write(buf)
	return err
}

// parseParameterSets reads {len:uint32, blob} entries until the payload
// is exhausted, preserving order.
func parseParameterSets(r *bufReader) ([][]byte, error) {
	var sets [][]byte
	for r.remaining() > 0 {
		n, err := r.readUint32()
		if err != nil {
			return nil, fmt.Errorf("read set %d length: %w", len(sets), err)
		}
		blob, err := r.readBytes(int(n))
		if err != nil {
			return nil, fmt.Errorf("read set %d (%d bytes): %w", len(sets), n, err)
		}
		sets = append(sets, clone(blob))
	}
	return sets, nil
}

func appendParameterSets(buf []byte, sets [][]byte) []byte {
	for _, s := range sets {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// bufReader wraps a byte slice for sequential big-endian reads.
type bufReader struct {
	data []byte
	pos  int
}

func newBufReader(data []byte) *bufReader {
	return &bufReader{data: data}
}

func (b *bufReader) remaining() int {
	return len(b.data) - b.pos
}

func (b *bufReader) readUint32() (uint32, error) {
	if b.remaining() < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(b.data[b.pos:])
	b.pos += 4
	return v, nil
}

func (b *bufReader) readInt64() (int64, error) {
	if b.remaining() < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint64(b.data[b.pos:])
	b.pos += 8
	return int64(v), nil
}

func (b *bufReader) readBytes(n int) ([]byte, error) {
	if n < 0 || n > b.remaining() {
		return nil, io.ErrUnexpectedEOF
	}
	v := b.data[b.pos : b.pos+n]
	b.pos += n
	return v, nil
}

func (b *bufReader) rest() []byte {
	v := b.data[b.pos:]
	b.pos = len(b.data)
	return v
}
