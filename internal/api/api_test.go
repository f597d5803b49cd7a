package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/vdclient/internal/cursor"
	"github.com/zsiec/vdclient/internal/decoder/loopback"
	"github.com/zsiec/vdclient/internal/dispatch"
	"github.com/zsiec/vdclient/internal/pipeline"
	"github.com/zsiec/vdclient/internal/transport"
	"github.com/zsiec/vdclient/internal/wire"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestStatus(t *testing.T) {
	t.Parallel()

	srv := New(Config{Status: func() transport.Status {
		return transport.Status{
			SessionID: "abc",
			Transport: "tcp",
			Connected: true,
			Stats:     transport.ConnSnapshot{BytesReceived: 1024, Packets: 3},
		}
	}})

	rec := get(t, srv.Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	st := decode[transport.Status](t, rec)
	assert.Equal(t, "abc", st.SessionID)
	assert.True(t, st.Connected)
	assert.Equal(t, int64(1024), st.Stats.BytesReceived)
}

func TestPipelineSnapshot(t *testing.T) {
	t.Parallel()

	srv := New(Config{
		Pipeline: func() pipeline.Stats {
			return pipeline.Stats{State: "running", ThresholdMs: 25, Rendered: 10, Dropped: 2}
		},
		Dispatch: func() dispatch.Stats { return dispatch.Stats{Video: 12, Syncs: 1} },
		Decoder:  func() loopback.Stats { return loopback.Stats{Frames: 12, Keyframes: 1} },
		Clock:    func() ClockStatus { return ClockStatus{Synchronized: true, Syncs: 1} },
	})

	rec := get(t, srv.Handler(), "/api/pipeline")
	require.Equal(t, http.StatusOK, rec.Code)

	snap := decode[PipelineSnapshot](t, rec)
	assert.Equal(t, "running", snap.Pipeline.State)
	assert.Equal(t, 25, snap.Pipeline.ThresholdMs)
	require.NotNil(t, snap.Dispatch)
	assert.Equal(t, int64(12), snap.Dispatch.Video)
	require.NotNil(t, snap.Decoder)
	assert.Equal(t, int64(1), snap.Decoder.Keyframes)
	require.NotNil(t, snap.Clock)
	assert.True(t, snap.Clock.Synchronized)
}

func TestPipelineOptionalSections(t *testing.T) {
	t.Parallel()

	srv := New(Config{Pipeline: func() pipeline.Stats { return pipeline.Stats{State: "unconfigured"} }})
	rec := get(t, srv.Handler(), "/api/pipeline")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"dispatch"`)
	assert.NotContains(t, rec.Body.String(), `"clock"`)
}

func TestMissingProviders(t *testing.T) {
	t.Parallel()

	h := New(Config{}).Handler()
	for _, path := range []string{"/api/status", "/api/pipeline", "/api/cursor", "/api/cursor/image"} {
		rec := get(t, h, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Contains(t, decode[map[string]string](t, rec), "error", path)
	}
}

func TestCursor(t *testing.T) {
	t.Parallel()

	tr := cursor.NewTracker(nil, nil)
	h := New(Config{Cursor: tr}).Handler()

	rec := get(t, h, "/api/cursor/image")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	tr.OnCursorPosition(wire.CursorPosition{X: 100, Y: 50, Visible: true})
	tr.OnCursorImage(wire.CursorImage{ImageID: 0xbeef, PNG: []byte("\x89PNG-data")})

	rec = get(t, h, "/api/cursor")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[cursor.State](t, rec)
	assert.Equal(t, int32(100), st.X)
	assert.True(t, st.Visible)
	assert.Equal(t, uint32(0xbeef), st.ImageID)

	rec = get(t, h, "/api/cursor/image")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `"0000beef"`, rec.Header().Get("ETag"))
	assert.Equal(t, "\x89PNG-data", rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	h := New(Config{}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(Config{Pipeline: func() pipeline.Stats { return pipeline.Stats{State: "running"} }})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/pipeline")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"running"`)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
