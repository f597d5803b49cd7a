package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyStarted is returned when Start is called more than once.
var ErrAlreadyStarted = errors.New("transport: client already started")

// ErrStopped is returned by Start when Stop was called before the dial
// completed.
var ErrStopped = errors.New("transport: client stopped while connecting")

// Options configures a Client.
type Options struct {
	Endpoint Endpoint
	Handler  Handler
	Reader   ReaderOptions

	// Dial opens the connection. Defaults to Dial.
	Dial func(ctx context.Context, ep Endpoint) (Conn, error)

	Logger *slog.Logger
}

// Status describes a Client for the debug API.
type Status struct {
	SessionID   string       `json:"sessionId"`
	Transport   string       `json:"transport"`
	Addr        string       `json:"addr"`
	RemoteAddr  string       `json:"remoteAddr,omitempty"`
	Connected   bool         `json:"connected"`
	ConnectedAt int64        `json:"connectedAt,omitempty"`
	UptimeMs    int64        `json:"uptimeMs"`
	Error       string       `json:"error,omitempty"`
	Stats       ConnSnapshot `json:"stats"`
}

// Client runs one connection to the server. It reads packets on its own
// goroutine until Stop is called or the connection fails, and does not
// reconnect; a Client is used once.
type Client struct {
	log     *slog.Logger
	ep      Endpoint
	handler Handler
	ropts   ReaderOptions
	dial    func(ctx context.Context, ep Endpoint) (Conn, error)
	id      string

	mu          sync.Mutex
	started     bool
	stopping    bool
	cancelDial  context.CancelFunc
	conn        Conn
	connectedAt time.Time
	err         error

	running atomic.Bool
	done    chan struct{}
	stats   ConnStats
}

// NewClient creates a Client. If opts.Logger is nil, slog.Default() is used.
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Dial == nil {
		opts.Dial = Dial
	}
	id := uuid.NewString()
	return &Client{
		log:     log.With("component", "transport", "session", id),
		ep:      opts.Endpoint,
		handler: opts.Handler,
		ropts:   opts.Reader,
		dial:    opts.Dial,
		id:      id,
		done:    make(chan struct{}),
	}
}

// SessionID identifies this connection in logs and the debug API.
func (c *Client) SessionID() string {
	return c.id
}

// Start dials the server and starts the reader goroutine. It returns once
// the connection is established, or ErrStopped if Stop won the race.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	dctx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel
	c.mu.Unlock()
	defer cancel()

	c.log.Info("connecting", "transport", c.ep.Transport, "addr", c.ep.Addr)
	conn, err := c.dial(dctx, c.ep)

	c.mu.Lock()
	stopping := c.stopping
	switch {
	case stopping:
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		close(c.done)
		c.log.Info("stopped while connecting")
		return ErrStopped
	case err != nil:
		err = fmt.Errorf("transport: dial %s %s: %w", c.ep.Transport, c.ep.Addr, err)
		c.err = err
		c.mu.Unlock()
		close(c.done)
		return err
	}
	// Published under mu: Stop sees either the conn or is seen above.
	c.conn = conn
	c.connectedAt = time.Now()
	c.running.Store(true)
	c.mu.Unlock()

	c.log.Info("connected", "remote", conn.RemoteAddr())
	go c.readLoop(conn)
	return nil
}

// Stop ends the session and waits for the reader goroutine to exit.
// Closing the connection unblocks a pending read; a dial in progress is
// cancelled and its connection closed as soon as it returns.
func (c *Client) Stop() {
	c.mu.Lock()
	started := c.started
	if started {
		c.stopping = true
	}
	conn := c.conn
	cancel := c.cancelDial
	c.mu.Unlock()
	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}

	if c.running.CompareAndSwap(true, false) && conn != nil {
		conn.Close()
	}
	<-c.done
}

// Done is closed when the reader goroutine has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the session ended: nil after Stop, the dial, framing or
// I/O error otherwise. It is meaningful once Done is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Run starts the client and blocks until ctx is cancelled or the
// connection ends. Cancellation is a clean shutdown and returns nil.
func (c *Client) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		if errors.Is(err, ErrStopped) || ctx.Err() != nil {
			return nil
		}
		return err
	}
	select {
	case <-ctx.Done():
		c.Stop()
		return nil
	case <-c.done:
		return c.Err()
	}
}

// Connected reports whether the reader goroutine is running.
func (c *Client) Connected() bool {
	return c.running.Load()
}

// Status returns a snapshot for the debug API.
func (c *Client) Status() Status {
	c.mu.Lock()
	conn := c.conn
	connectedAt := c.connectedAt
	err := c.err
	c.mu.Unlock()

	st := Status{
		SessionID: c.id,
		Transport: string(c.ep.Transport),
		Addr:      c.ep.Addr,
		Connected: c.Connected(),
		Stats:     c.stats.Snapshot(),
	}
	if conn != nil {
		if ra := conn.RemoteAddr(); ra != nil {
			st.RemoteAddr = ra.String()
		}
	}
	if !connectedAt.IsZero() {
		st.ConnectedAt = connectedAt.UnixMilli()
		st.UptimeMs = time.Since(connectedAt).Milliseconds()
	}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

func (c *Client) readLoop(conn Conn) {
	defer close(c.done)

	r := NewReader(conn, c.ropts, &c.stats)
	var err error
	for c.running.Load() {
		pkt, rerr := r.ReadPacket()
		if rerr != nil {
			if !IsFatal(rerr) {
				c.log.Warn("skipping packet", "error", rerr)
				continue
			}
			err = rerr
			break
		}
		c.handler.Dispatch(pkt)
	}

	// A read failing because Stop closed the socket is a clean shutdown.
	requested := !c.running.Swap(false)
	conn.Close()

	snap := c.stats.Snapshot()
	if err != nil && !requested {
		err = fmt.Errorf("transport: %w", err)
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		c.log.Error("connection lost", "error", err,
			"bytes", snap.BytesReceived, "packets", snap.Packets)
		return
	}
	c.log.Info("connection closed",
		"bytes", snap.BytesReceived, "packets", snap.Packets, "reads", snap.ReadCount)
}
