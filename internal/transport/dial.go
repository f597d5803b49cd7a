package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/vdclient/internal/certs"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// srtPayloadSize is the largest message written to an SRT socket in live
// mode. Reads are buffered well above it.
const (
	srtPayloadSize    = 1316
	srtReadBufferSize = srtPayloadSize * 10
)

// DefaultWSPath is used when a WS address carries no path.
const DefaultWSPath = "/stream"

// Dial connects to ep.
func Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	timeout := ep.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch ep.Transport {
	case TCP, "":
		return dialTCP(ctx, ep)
	case SRT:
		return dialSRT(ctx, ep)
	case QUIC:
		return dialQUIC(ctx, ep)
	case WS:
		return dialWS(ctx, ep)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, ep.Transport)
	}
}

func dialTCP(ctx context.Context, ep Endpoint) (Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", ep.Addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

type srtConn struct {
	*bufio.Reader
	conn *srtgo.Conn
}

func (c *srtConn) Close() error         { return c.conn.Close() }
func (c *srtConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func dialSRT(ctx context.Context, ep Endpoint) (Conn, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = ep.StreamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(ep.Addr, cfg)
		ch <- dialResult{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt dial: %w", res.err)
		}
		return &srtConn{Reader: bufio.NewReaderSize(res.conn, srtReadBufferSize), conn: res.conn}, nil
	case <-ctx.Done():
		// Drain the dial result in the background and close any leaked connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// quicConn reads the server's unidirectional stream.
type quicConn struct {
	quic.ReceiveStream
	conn quic.Connection
}

func (c *quicConn) Close() error {
	c.CancelRead(0)
	return c.conn.CloseWithError(0, "client closed")
}

func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

func dialQUIC(ctx context.Context, ep Endpoint) (Conn, error) {
	tlsConf, err := certs.ClientTLSConfig(ep.CertHash)
	if err != nil {
		return nil, err
	}
	if host, _, err := net.SplitHostPort(ep.Addr); err == nil {
		tlsConf.ServerName = host
	}

	conn, err := quic.DialAddr(ctx, ep.Addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic dial: %w", err)
	}
	stream, err := conn.AcceptUniStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("quic accept stream: %w", err)
	}
	return &quicConn{ReceiveStream: stream, conn: conn}, nil
}

// wsConn presents consecutive binary messages as one byte stream.
type wsConn struct {
	ws *websocket.Conn
	r  io.Reader
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (c *wsConn) Close() error         { return c.ws.Close() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

// wsURL normalizes a WS address to a full URL.
func wsURL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("ws: unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = DefaultWSPath
	}
	return u.String(), nil
}

func dialWS(ctx context.Context, ep Endpoint) (Conn, error) {
	u, err := wsURL(ep.Addr)
	if err != nil {
		return nil, err
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", u, err)
	}
	return &wsConn{ws: ws}, nil
}
