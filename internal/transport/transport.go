// Package transport carries the framed byte stream from the server to the
// client. It dials the stream over TCP, SRT, QUIC or WebSocket, reads it
// one packet at a time on a dedicated goroutine, and hands each packet to
// a Handler. Connection failures end the session; reconnecting is left to
// the owner.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/zsiec/vdclient/internal/wire"
)

// Transport names a stream carrier.
type Transport string

// Supported transports.
const (
	TCP  Transport = "tcp"
	SRT  Transport = "srt"
	QUIC Transport = "quic"
	WS   Transport = "ws"
)

// ErrUnsupportedTransport is returned for an unknown Transport.
var ErrUnsupportedTransport = errors.New("transport: unsupported transport")

// ParseTransport maps a config string onto a Transport. Empty means TCP.
func ParseTransport(s string) (Transport, error) {
	switch Transport(s) {
	case "", TCP:
		return TCP, nil
	case SRT, QUIC, WS:
		return Transport(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTransport, s)
	}
}

// DefaultDialTimeout bounds connection setup.
const DefaultDialTimeout = 10 * time.Second

// Endpoint identifies the server.
type Endpoint struct {
	Transport Transport
	Addr      string // host:port, or a ws:// URL for WS

	StreamID    string        // SRT stream id
	CertHash    string        // QUIC server certificate SHA-256, base64 or hex
	DialTimeout time.Duration // DefaultDialTimeout if zero
}

// Conn is an established stream from the server.
type Conn interface {
	io.ReadCloser
	RemoteAddr() net.Addr
}

// Handler consumes packets in wire order on the reader goroutine. Dispatch
// must not block indefinitely; it stalls every subsequent read.
type Handler interface {
	Dispatch(pkt wire.Packet)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(pkt wire.Packet)

func (f HandlerFunc) Dispatch(pkt wire.Packet) { f(pkt) }

// IsFatal reports whether a ReadPacket error ends the connection. An
// unrecognized packet type or a malformed payload leaves framing intact and
// is not fatal; framing and I/O errors are.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var pe *wire.ParseError
	return !errors.Is(err, wire.ErrUnknownType) && !errors.As(err, &pe)
}
