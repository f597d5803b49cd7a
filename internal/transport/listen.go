package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/vdclient/internal/certs"
)

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("transport: listener closed")

// Listener is the server side of a transport. It accepts clients and
// returns a writer for each one's frame stream. It is used by the test
// sender and by tests.
type Listener interface {
	Accept() (io.WriteCloser, error)
	Addr() string
	Close() error
}

// Listen starts a server for ep.Transport on ep.Addr. QUIC requires cert.
func Listen(ep Endpoint, cert *certs.CertInfo, log *slog.Logger) (Listener, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "listener", "transport", ep.Transport)

	switch ep.Transport {
	case TCP, "":
		l, err := net.Listen("tcp", ep.Addr)
		if err != nil {
			return nil, err
		}
		return &tcpListener{l: l}, nil
	case SRT:
		return listenSRT(ep, log)
	case QUIC:
		if cert == nil {
			return nil, errors.New("transport: quic listener needs a certificate")
		}
		l, err := quic.ListenAddr(ep.Addr, cert.ServerTLSConfig(), quicConfig())
		if err != nil {
			return nil, err
		}
		return &quicListener{l: l}, nil
	case WS:
		return listenWS(ep, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, ep.Transport)
	}
}

type tcpListener struct{ l net.Listener }

func (t *tcpListener) Accept() (io.WriteCloser, error) {
	conn, err := t.l.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	return conn, nil
}

func (t *tcpListener) Addr() string { return t.l.Addr().String() }
func (t *tcpListener) Close() error { return t.l.Close() }

type srtListener struct {
	l    *srtgo.Listener
	addr string
}

func listenSRT(ep Endpoint, log *slog.Logger) (Listener, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(ep.Addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("SRT listen on %s: %w", ep.Addr, err)
	}
	want := ep.StreamID
	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if want != "" && req.StreamID != want {
			log.Warn("rejecting stream id", "stream_id", req.StreamID)
			return srtgo.RejPeer
		}
		return 0
	})
	return &srtListener{l: l, addr: ep.Addr}, nil
}

func (s *srtListener) Accept() (io.WriteCloser, error) {
	conn, err := s.l.Accept()
	if err != nil {
		return nil, err
	}
	return &srtWriter{conn: conn}, nil
}

func (s *srtListener) Addr() string { return s.addr }
func (s *srtListener) Close() error { return s.l.Close() }

// srtWriter splits writes into live-mode sized messages.
type srtWriter struct {
	conn *srtgo.Conn
}

func (w *srtWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := min(written+srtPayloadSize, len(p))
		n, err := w.conn.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (w *srtWriter) Close() error { return w.conn.Close() }

type quicListener struct {
	l *quic.Listener
}

func (q *quicListener) Accept() (io.WriteCloser, error) {
	conn, err := q.l.Accept(context.Background())
	if err != nil {
		if errors.Is(err, quic.ErrServerClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultDialTimeout)
	defer cancel()
	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream")
		return nil, err
	}
	return &quicWriter{SendStream: stream, conn: conn}, nil
}

func (q *quicListener) Addr() string { return q.l.Addr().String() }
func (q *quicListener) Close() error { return q.l.Close() }

type quicWriter struct {
	quic.SendStream
	conn quic.Connection
}

// Close finishes the stream and gives the peer a moment to drain it
// before tearing down the connection.
func (w *quicWriter) Close() error {
	err := w.SendStream.Close()
	go func() {
		select {
		case <-w.conn.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.conn.CloseWithError(0, "")
	}()
	return err
}

type wsListener struct {
	srv   *http.Server
	ln    net.Listener
	path  string
	conns chan *websocket.Conn
	done  chan struct{}
	once  sync.Once
}

func listenWS(ep Endpoint, log *slog.Logger) (Listener, error) {
	u, err := wsURL(ep.Addr)
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", parsed.Host)
	if err != nil {
		return nil, err
	}
	w := &wsListener{
		ln:    ln,
		path:  parsed.Path,
		conns: make(chan *websocket.Conn),
		done:  make(chan struct{}),
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+w.path, func(rw http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			log.Warn("websocket upgrade", "error", err)
			return
		}
		select {
		case w.conns <- ws:
		case <-w.done:
			ws.Close()
		}
	})
	w.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go w.srv.Serve(ln)
	return w, nil
}

func (w *wsListener) Accept() (io.WriteCloser, error) {
	select {
	case ws := <-w.conns:
		return &wsWriter{ws: ws}, nil
	case <-w.done:
		return nil, ErrListenerClosed
	}
}

func (w *wsListener) Addr() string {
	return "ws://" + w.ln.Addr().String() + w.path
}

func (w *wsListener) Close() error {
	w.once.Do(func() { close(w.done) })
	return w.srv.Close()
}

// wsWriter sends each Write as one binary message.
type wsWriter struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (w *wsWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.ws.Close()
}
