// Package decoder defines the capability contract the decode pipeline
// expects from a video decoder: open a handle for a codec configuration,
// lend out input slots, accept filled slots, and report decoded outputs
// asynchronously so the caller can render or discard them.
//
// Implementations wrap a platform decoder.
// [github.com/zsiec/vdclient/internal/decoder/loopback] provides a software
// stand-in for headless runs and tests.
package decoder

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by Decoder Service implementations.
var (
	ErrUnsupportedCodec = errors.New("decoder: unsupported codec")
	ErrNotRunning       = errors.New("decoder: handle not running")
	ErrReleased         = errors.New("decoder: handle released")
	ErrBadSlot          = errors.New("decoder: slot not owned by caller")
	ErrFrameTooLarge    = errors.New("decoder: frame exceeds input slot")
	ErrUnknownOutput    = errors.New("decoder: unknown output")
)

// CodecKind identifies the coded video format.
type CodecKind string

// Supported codecs.
const (
	H264 CodecKind = "h264"
	H265 CodecKind = "h265"
)

// MIME returns the media type platform decoders are usually keyed by.
func (k CodecKind) MIME() string {
	switch k {
	case H264:
		return "video/avc"
	case H265:
		return "video/hevc"
	default:
		return ""
	}
}

// ParseCodecKind maps a config string onto a CodecKind.
func ParseCodecKind(s string) (CodecKind, error) {
	switch CodecKind(s) {
	case "", H264:
		return H264, nil
	case H265:
		return H265, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCodec, s)
	}
}

// Release tells the decoder what to do with a decoded output.
type Release int

// Output dispositions.
const (
	Discard Release = iota
	RenderNow
	RenderAt
)

func (r Release) String() string {
	switch r {
	case Discard:
		return "discard"
	case RenderNow:
		return "render-now"
	case RenderAt:
		return "render-at"
	default:
		return fmt.Sprintf("release(%d)", int(r))
	}
}

// Callbacks receives asynchronous events from a Handle. Calls arrive on the
// decoder's own goroutine. OnOutputAvailable calls for one handle are
// serialized. Each input slot is reported once per lending, either here
// or through Handle.PollInput, never both.
type Callbacks interface {
	OnInputAvailable(slot int)
	OnOutputAvailable(output int, ptsUs int64)
	OnError(err error)
}

// Service opens decoder handles. It is the capability query: a Service
// that cannot decode kind returns ErrUnsupportedCodec.
type Service interface {
	Open(kind CodecKind, width, height int, parameterSets [][]byte) (Handle, error)
}

// Handle is one configured decoder instance.
//
// Stop halts decoding and returns the handle to its configured state;
// once Stop returns, no callback is in flight and none will be delivered
// until the next Start. Release frees the handle permanently.
type Handle interface {
	SetCallbacks(cb Callbacks)
	Start() error
	PollInput() (slot int, ok bool)
	Fill(slot int, data []byte, ptsUs int64) error
	ReleaseOutput(output int, mode Release, atNanos int64) error
	Stop() error
	Release() error
}
