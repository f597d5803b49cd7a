package wire

import "fmt"

// Type is the numeric tag carried in every frame header.
type Type uint32

// Packet type tags.
const (
	TypeVideo         Type = 0
	TypeAudio         Type = 1
	TypeTimestampSync Type = 2
	TypeConfigure     Type = 3
	TypeCursorPos     Type = 4
	TypeCursorImage   Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeVideo:
		return "video"
	case TypeAudio:
		return "audio"
	case TypeTimestampSync:
		return "timestamp-sync"
	case TypeConfigure:
		return "configure"
	case TypeCursorPos:
		return "cursor-position"
	case TypeCursorImage:
		return "cursor-image"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

const (
	// HeaderSize is the fixed size of a frame header.
	HeaderSize = 8

	// MaxPayload is the largest payload a frame may declare (30 MiB).
	MaxPayload = 30 * 1024 * 1024

	// ptsSize is the size of the pts prefix on a video payload.
	ptsSize = 8
)

// Header precedes every payload on the wire.
type Header struct {
	Type   Type
	Length uint32
}

// Packet is one decoded wire message. Exactly one concrete type below is
// carried per frame.
type Packet interface {
	PacketType() Type
}

// VideoFrame carries one coded video access unit in Annex B form. Data
// aliases the buffer it was decoded from.
type VideoFrame struct {
	PTS  int64 // sender clock, milliseconds
	Data []byte
}

// AudioFrame carries raw audio bytes. No audio pipeline consumes them.
type AudioFrame struct {
	Data []byte
}

// Configure announces a new video resolution and the ordered codec
// parameter sets (e.g. SPS then PPS) needed before frames can be decoded.
type Configure struct {
	Width         uint32
	Height        uint32
	ParameterSets [][]byte
}

// CodecParameters is the older form of Configure, sent by servers speaking
// DialectCodecData. It carries parameter sets only; the resolution must be
// derived from the sets themselves.
type CodecParameters struct {
	ParameterSets [][]byte
}

// TimestampSync reports the sender's current stream time.
type TimestampSync struct {
	RemoteTimeMs int64
}

// CursorPosition reports the pointer position in video coordinates.
type CursorPosition struct {
	X       int32
	Y       int32
	Visible bool
}

// CursorImage carries a PNG pointer bitmap identified by its content
// checksum.
type CursorImage struct {
	ImageID uint32
	PNG     []byte
}

func (VideoFrame) PacketType() Type      { return TypeVideo }
func (AudioFrame) PacketType() Type      { return TypeAudio }
func (Configure) PacketType() Type       { return TypeConfigure }
func (CodecParameters) PacketType() Type { return TypeConfigure }
func (TimestampSync) PacketType() Type   { return TypeTimestampSync }
func (CursorPosition) PacketType() Type  { return TypeCursorPos }
func (CursorImage) PacketType() Type     { return TypeCursorImage }

// Dialect selects how type 3 payloads are interpreted.
type Dialect int

// Supported protocol dialects.
const (
	// DialectConfigure decodes type 3 as Configure (width, height, sets).
	DialectConfigure Dialect = iota
	// DialectCodecData decodes type 3 as CodecParameters (sets only).
	DialectCodecData
)

func (d Dialect) String() string {
	switch d {
	case DialectConfigure:
		return "configure"
	case DialectCodecData:
		return "codec-data"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// ParseDialect maps a config string onto a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "", "configure":
		return DialectConfigure, nil
	case "codec-data":
		return DialectCodecData, nil
	default:
		return 0, fmt.Errorf("wire: unknown dialect %q", s)
	}
}
