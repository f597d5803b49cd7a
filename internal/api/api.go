// Package api serves read-only debug endpoints describing the running
// client: connection status, pipeline counters and the remote cursor.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/zsiec/vdclient/internal/cursor"
	"github.com/zsiec/vdclient/internal/decoder/loopback"
	"github.com/zsiec/vdclient/internal/dispatch"
	"github.com/zsiec/vdclient/internal/pipeline"
	"github.com/zsiec/vdclient/internal/transport"
)

// ClockStatus describes the sender clock mapping.
type ClockStatus struct {
	Synchronized bool  `json:"synchronized"`
	Syncs        int64 `json:"syncs"`
}

// CursorSource exposes the latest cursor state.
type CursorSource interface {
	State() cursor.State
	Image() (id uint32, png []byte, ok bool)
}

// Config wires the server to the components it reports on. Nil providers
// are omitted from responses; a nil Status or Cursor makes its endpoint
// return 404.
type Config struct {
	Addr string

	Status   func() transport.Status
	Pipeline func() pipeline.Stats
	Dispatch func() dispatch.Stats
	Decoder  func() loopback.Stats
	Clock    func() ClockStatus
	Cursor   CursorSource

	Logger *slog.Logger
}

// PipelineSnapshot is the /api/pipeline response.
type PipelineSnapshot struct {
	Pipeline pipeline.Stats  `json:"pipeline"`
	Dispatch *dispatch.Stats `json:"dispatch,omitempty"`
	Decoder  *loopback.Stats `json:"decoder,omitempty"`
	Clock    *ClockStatus    `json:"clock,omitempty"`
}

// Server is the debug HTTP server.
type Server struct {
	config Config
	log    *slog.Logger
}

// New creates a Server. If config.Logger is nil, slog.Default() is used.
func New(config Config) *Server {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{config: config, log: log.With("component", "api")}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/pipeline", s.handlePipeline)
	mux.HandleFunc("GET /api/cursor", s.handleCursor)
	mux.HandleFunc("GET /api/cursor/image", s.handleCursorImage)
	return corsMiddleware(mux)
}

// Run listens on config.Addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("debug API listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.config.Status == nil {
		writeError(w, http.StatusNotFound, "no connection")
		return
	}
	writeJSON(w, http.StatusOK, s.config.Status())
}

func (s *Server) handlePipeline(w http.ResponseWriter, _ *http.Request) {
	if s.config.Pipeline == nil {
		writeError(w, http.StatusNotFound, "no pipeline")
		return
	}
	snap := PipelineSnapshot{Pipeline: s.config.Pipeline()}
	if s.config.Dispatch != nil {
		d := s.config.Dispatch()
		snap.Dispatch = &d
	}
	if s.config.Decoder != nil {
		d := s.config.Decoder()
		snap.Decoder = &d
	}
	if s.config.Clock != nil {
		c := s.config.Clock()
		snap.Clock = &c
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCursor(w http.ResponseWriter, _ *http.Request) {
	if s.config.Cursor == nil {
		writeError(w, http.StatusNotFound, "no cursor")
		return
	}
	writeJSON(w, http.StatusOK, s.config.Cursor.State())
}

func (s *Server) handleCursorImage(w http.ResponseWriter, _ *http.Request) {
	if s.config.Cursor == nil {
		writeError(w, http.StatusNotFound, "no cursor")
		return
	}
	id, png, ok := s.config.Cursor.Image()
	if !ok {
		writeError(w, http.StatusNotFound, "no cursor image")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("ETag", fmt.Sprintf("%q", fmt.Sprintf("%08x", id)))
	if _, err := w.Write(png); err != nil {
		s.log.Debug("writing cursor image", "error", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		slog.Error("encoding JSON response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
