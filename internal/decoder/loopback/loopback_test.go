package loopback

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/vdclient/internal/decoder"
)

type output struct {
	id    int
	ptsUs int64
}

type recorder struct {
	inputs  chan int
	outputs chan output
	errs    chan error
}

func newRecorder() *recorder {
	return &recorder{
		inputs:  make(chan int, 64),
		outputs: make(chan output, 64),
		errs:    make(chan error, 64),
	}
}

func (r *recorder) OnInputAvailable(slot int) { r.inputs <- slot }
func (r *recorder) OnOutputAvailable(out int, ptsUs int64) { r.outputs <- output{out, ptsUs} }
func (r *recorder) OnError(err error) { r.errs <- err }

func recvSlot(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for input slot")
		return -1
	}
}

func recvOutput(t *testing.T, ch <-chan output) output {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for output")
		return output{}
	}
}

func openStarted(t *testing.T, svc *Service, rec *recorder) decoder.Handle {
	t.Helper()
	h, err := svc.Open(decoder.H264, 1280, 720, [][]byte{{0x67, 0x42}, {0x68, 0xce}})
	require.NoError(t, err)
	h.SetCallbacks(rec)
	require.NoError(t, h.Start())
	return h
}

func TestOpenRejectsUnknownCodec(t *testing.T) {
	t.Parallel()

	svc := New(Options{})
	_, err := svc.Open(decoder.CodecKind("vp9"), 640, 480, nil)
	assert.ErrorIs(t, err, decoder.ErrUnsupportedCodec)

	_, err = svc.Open(decoder.H264, 0, 480, nil)
	assert.Error(t, err)
}

func TestAnnouncesEverySlotOnce(t *testing.T) {
	t.Parallel()

	svc := New(Options{Slots: 4})
	rec := newRecorder()
	h := openStarted(t, svc, rec)
	defer h.Release()

	seen := map[int]bool{}
	for range 4 {
		s := recvSlot(t, rec.inputs)
		assert.False(t, seen[s], "slot %d announced twice", s)
		seen[s] = true
	}
	_, ok := h.PollInput()
	assert.False(t, ok, "all slots already lent")
}

func TestFillProducesOutputInOrder(t *testing.T) {
	t.Parallel()

	svc := New(Options{Slots: 2})
	rec := newRecorder()
	h := openStarted(t, svc, rec)
	defer h.Release()

	a := recvSlot(t, rec.inputs)
	b := recvSlot(t, rec.inputs)
	require.NoError(t, h.Fill(a, []byte{0, 0, 0, 1, 0x65, 0x88}, 100_000))
	require.NoError(t, h.Fill(b, []byte{0x41, 0x9a}, 200_000))

	o1 := recvOutput(t, rec.outputs)
	o2 := recvOutput(t, rec.outputs)
	assert.Equal(t, int64(100_000), o1.ptsUs)
	assert.Equal(t, int64(200_000), o2.ptsUs)

	require.NoError(t, h.ReleaseOutput(o1.id, decoder.RenderNow, 0))
	require.NoError(t, h.ReleaseOutput(o2.id, decoder.Discard, 0))
	assert.ErrorIs(t, h.ReleaseOutput(o2.id, decoder.Discard, 0), decoder.ErrUnknownOutput)

	// Freed slots come back.
	recvSlot(t, rec.inputs)
	recvSlot(t, rec.inputs)

	st := svc.Stats()
	assert.Equal(t, int64(2), st.Frames)
	assert.Equal(t, int64(1), st.Keyframes)
	assert.Equal(t, int64(1), st.Rendered)
	assert.Equal(t, int64(1), st.Discarded)
}

func TestFillRejectsUnownedSlot(t *testing.T) {
	t.Parallel()

	svc := New(Options{Slots: 1, DecodeDelay: time.Hour})
	rec := newRecorder()
	h := openStarted(t, svc, rec)
	defer h.Release()

	s := recvSlot(t, rec.inputs)
	assert.ErrorIs(t, h.Fill(s+1, []byte{1}, 0), decoder.ErrBadSlot)
	require.NoError(t, h.Fill(s, []byte{1}, 0))
	assert.ErrorIs(t, h.Fill(s, []byte{1}, 0), decoder.ErrBadSlot)
}

func TestFillTooLargeReturnsSlot(t *testing.T) {
	t.Parallel()

	svc := New(Options{Slots: 1, SlotSize: 4})
	rec := newRecorder()
	h := openStarted(t, svc, rec)
	defer h.Release()

	s := recvSlot(t, rec.inputs)
	assert.ErrorIs(t, h.Fill(s, []byte{1, 2, 3, 4, 5}, 0), decoder.ErrFrameTooLarge)
	assert.Equal(t, s, recvSlot(t, rec.inputs))
}

func TestPollInputBeforeCallback(t *testing.T) {
	t.Parallel()

	svc := New(Options{Slots: 3})
	rec := newRecorder()
	h, err := svc.Open(decoder.H265, 640, 480, nil)
	require.NoError(t, err)
	defer h.Release()

	_, ok := h.PollInput()
	assert.False(t, ok, "idle handle lends nothing")

	h.SetCallbacks(rec)
	require.NoError(t, h.Start())

	lent := map[int]bool{}
	if s, ok := h.PollInput(); ok {
		lent[s] = true
	}
	for len(lent) < 3 {
		s := recvSlot(t, rec.inputs)
		assert.False(t, lent[s], "slot %d lent twice", s)
		lent[s] = true
	}
}

func TestStopThenRestart(t *testing.T) {
	t.Parallel()

	svc := New(Options{Slots: 2, DecodeDelay: time.Millisecond})
	rec := newRecorder()
	h := openStarted(t, svc, rec)

	s := recvSlot(t, rec.inputs)
	require.NoError(t, h.Fill(s, []byte{1}, 5))
	require.NoError(t, h.Stop())
	assert.ErrorIs(t, h.Fill(0, []byte{1}, 0), decoder.ErrNotRunning)

	for len(rec.inputs) > 0 {
		<-rec.inputs
	}
	for len(rec.outputs) > 0 {
		<-rec.outputs
	}

	require.NoError(t, h.Start())
	recvSlot(t, rec.inputs)
	recvSlot(t, rec.inputs)

	require.NoError(t, h.Release())
	assert.ErrorIs(t, h.Release(), decoder.ErrReleased)
	assert.ErrorIs(t, h.Start(), decoder.ErrReleased)

	st := svc.Stats()
	assert.Equal(t, int64(1), st.Opened)
	assert.Equal(t, int64(1), st.Released)
}

func TestRecordAnnexB(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	svc := New(Options{Slots: 1, Record: &buf})
	rec := newRecorder()
	h := openStarted(t, svc, rec)

	s := recvSlot(t, rec.inputs)
	require.NoError(t, h.Fill(s, []byte{0x65, 0xaa}, 0))
	recvOutput(t, rec.outputs)
	require.NoError(t, h.Release())

	want := []byte{
		0, 0, 0, 1, 0x67, 0x42,
		0, 0, 0, 1, 0x68, 0xce,
		0, 0, 0, 1, 0x65, 0xaa,
	}
	assert.Equal(t, want, buf.Bytes())
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRecordFailureReportsError(t *testing.T) {
	t.Parallel()

	svc := New(Options{Slots: 1, Record: failWriter{}})
	rec := newRecorder()
	h := openStarted(t, svc, rec)
	defer h.Release()

	s := recvSlot(t, rec.inputs)
	require.NoError(t, h.Fill(s, []byte{0x65}, 0))

	select {
	case err := <-rec.errs:
		assert.ErrorContains(t, err, "disk full")
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnError")
	}
	recvOutput(t, rec.outputs)
	assert.Equal(t, int64(1), svc.Stats().Errors)
}
