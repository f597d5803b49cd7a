package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []Header{
		{Type: TypeVideo, Length: 0},
		{Type: TypeConfigure, Length: 42},
		{Type: TypeCursorImage, Length: MaxPayload},
		{Type: Type(0xdeadbeef), Length: 0xffffffff},
	}
	for _, h := range tests {
		buf := AppendHeader(nil, h)
		require.Len(t, buf, HeaderSize)

		got, err := DecodeHeader(buf)
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

func TestDecodeHeaderBigEndian(t *testing.T) {
	t.Parallel()

	h, err := DecodeHeader([]byte{0, 0, 0, 3, 0, 0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, TypeConfigure, h.Type)
	assert.Equal(t, uint32(256), h.Length)
}

func TestDecodeHeaderShort(t *testing.T) {
	t.Parallel()

	_, err := DecodeHeader([]byte{0, 0, 0})
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestHeaderCheck(t *testing.T) {
	t.Parallel()

	require.NoError(t, Header{Type: TypeVideo, Length: MaxPayload}.Check())

	err := Header{Type: TypeVideo, Length: MaxPayload + 1}.Check()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	var fe *FramingError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, uint32(MaxPayload+1), fe.Length)
	assert.Equal(t, uint32(MaxPayload), fe.Max)
}

func TestPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dialect Dialect
		packet  Packet
	}{
		{"video", DialectConfigure, VideoFrame{PTS: 1234567, Data: []byte{0, 0, 0, 1, 0x65, 0x88}}},
		{"video negative pts", DialectConfigure, VideoFrame{PTS: -5, Data: []byte{1}}},
		{"audio", DialectConfigure, AudioFrame{Data: []byte{9, 8, 7}}},
		{"timestamp", DialectConfigure, TimestampSync{RemoteTimeMs: 5000}},
		{"configure", DialectConfigure, Configure{
			Width:         1920,
			Height:        1080,
			ParameterSets: [][]byte{{0x67, 0x42, 0xe0}, {0x68, 0xce}},
		}},
		{"codec parameters", DialectCodecData, CodecParameters{
			ParameterSets: [][]byte{{0x67, 0x64}, {0x68}, {0x06, 0x05}},
		}},
		{"cursor position", DialectConfigure, CursorPosition{X: -12, Y: 700, Visible: true}},
		{"cursor hidden", DialectConfigure, CursorPosition{X: 1, Y: 2}},
		{"cursor image", DialectConfigure, CursorImage{ImageID: 0xcafef00d, PNG: []byte("\x89PNG")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Codec{Dialect: tt.dialect}

			typ, payload, err := c.EncodePayload(tt.packet)
			require.NoError(t, err)
			assert.Equal(t, tt.packet.PacketType(), typ)

			got, err := c.DecodePayload(typ, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.packet, got)
		})
	}
}

func TestDecodeVideoPTS(t *testing.T) {
	t.Parallel()

	payload := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0xE8, 0xAA, 0xBB, 0xCC}

	p, err := Codec{}.DecodePayload(TypeVideo, payload)
	require.NoError(t, err)

	vf, ok := p.(VideoFrame)
	require.True(t, ok, "got %T", p)
	assert.Equal(t, int64(1000), vf.PTS)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, vf.Data)
}

func TestDecodeVideoAliasesPayload(t *testing.T) {
	t.Parallel()

	payload := []byte{0, 0, 0, 0, 0, 0, 0, 1, 0x11, 0x22}
	p, err := Codec{}.DecodePayload(TypeVideo, payload)
	require.NoError(t, err)

	payload[8] = 0x99
	assert.Equal(t, byte(0x99), p.(VideoFrame).Data[0])
}

func TestDecodeCopiesNonVideo(t *testing.T) {
	t.Parallel()

	payload := []byte{0, 0, 0, 7, 'p', 'n', 'g'}
	p, err := Codec{}.DecodePayload(TypeCursorImage, payload)
	require.NoError(t, err)

	payload[4] = 'X'
	assert.Equal(t, []byte("png"), p.(CursorImage).PNG)
}

func TestDecodeVideoShortPayload(t *testing.T) {
	t.Parallel()

	_, err := Codec{}.DecodePayload(TypeVideo, []byte{0, 0, 0})
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "pts", pe.Field)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeConfigureWithoutSets(t *testing.T) {
	t.Parallel()

	var payload []byte
	payload = binary.BigEndian.AppendUint32(payload, 1280)
	payload = binary.BigEndian.AppendUint32(payload, 720)
	p, err := Codec{}.DecodePayload(TypeConfigure, payload)
	require.NoError(t, err)

	cfg := p.(Configure)
	assert.Equal(t, uint32(1280), cfg.Width)
	assert.Equal(t, uint32(720), cfg.Height)
	assert.Empty(t, cfg.ParameterSets)
}

func TestDecodeConfigureTruncatedSet(t *testing.T) {
	t.Parallel()

	var payload []byte
	payload = binary.BigEndian.AppendUint32(payload, 640)
	payload = binary.BigEndian.AppendUint32(payload, 480)
	payload = binary.BigEndian.AppendUint32(payload, 10)
	payload = append(payload, 1, 2, 3)

	_, err := Codec{}.DecodePayload(TypeConfigure, payload)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "parameter_sets", pe.Field)
}

func TestDecodeConfigureDanglingLength(t *testing.T) {
	t.Parallel()

	var payload []byte
	payload = binary.BigEndian.AppendUint32(payload, 640)
	payload = binary.BigEndian.AppendUint32(payload, 480)
	payload = append(payload, 0, 0)

	_, err := Codec{}.DecodePayload(TypeConfigure, payload)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeParameterSetOrder(t *testing.T) {
	t.Parallel()

	sets := [][]byte{{1}, {2, 2}, {3, 3, 3}, {}}
	var payload []byte
	payload = appendParameterSets(payload, sets)

	p, err := Codec{Dialect: DialectCodecData}.DecodePayload(TypeConfigure, payload)
	require.NoError(t, err)
	assert.Equal(t, sets, p.(CodecParameters).ParameterSets)
}

func TestDecodeCursorVisibleOnlyWhenOne(t *testing.T) {
	t.Parallel()

	var payload []byte
	payload = binary.BigEndian.AppendUint32(payload, 10)
	payload = binary.BigEndian.AppendUint32(payload, 20)
	payload = binary.BigEndian.AppendUint32(payload, 2)

	p, err := Codec{}.DecodePayload(TypeCursorPos, payload)
	require.NoError(t, err)
	assert.False(t, p.(CursorPosition).Visible)
}

func TestDecodeUnknownType(t *testing.T) {
	t.Parallel()

	_, err := Codec{}.DecodePayload(Type(42), []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrUnknownType)

	var ue *UnknownTypeError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, uint32(42), ue.Type)
	assert.Equal(t, uint32(3), ue.Length)
}

func TestEncodeDialectMismatch(t *testing.T) {
	t.Parallel()

	_, _, err := Codec{}.EncodePayload(CodecParameters{})
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	_, _, err = Codec{Dialect: DialectCodecData}.EncodePayload(Configure{})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestWriteFrame(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Codec{}.WriteFrame(&buf, TimestampSync{RemoteTimeMs: 77}))

	raw := buf.Bytes()
	require.Len(t, raw, HeaderSize+8)

	h, err := DecodeHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, Header{Type: TypeTimestampSync, Length: 8}, h)

	p, err := Codec{}.DecodePayload(h.Type, raw[HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, TimestampSync{RemoteTimeMs: 77}, p)
}

func TestParseDialect(t *testing.T) {
	t.Parallel()

	d, err := ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, DialectConfigure, d)

	d, err = ParseDialect("codec-data")
	require.NoError(t, err)
	assert.Equal(t, DialectCodecData, d)

	_, err = ParseDialect("rtp")
	assert.Error(t, err)
}

func BenchmarkDecodeHeader(b *testing.B) {
	buf := AppendHeader(nil, Header{Type: TypeVideo, Length: 65536})
	for b.Loop() {
		DecodeHeader(buf)
	}
}
