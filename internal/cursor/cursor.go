// Package cursor keeps the most recent remote cursor state so an overlay
// or the debug API can read it. Bitmaps are held as received; decoding
// and compositing belong to the renderer.
package cursor

import (
	"log/slog"
	"sync"

	"github.com/zsiec/vdclient/internal/wire"
)

// State is a snapshot of the remote cursor.
type State struct {
	X         int32  `json:"x"`
	Y         int32  `json:"y"`
	Visible   bool   `json:"visible"`
	ImageID   uint32 `json:"imageId"`
	ImageSize int    `json:"imageSize"`
	Positions int64  `json:"positions"`
	Images    int64  `json:"images"`
}

// Tracker implements dispatch.CursorSink.
type Tracker struct {
	log *slog.Logger

	mu       sync.RWMutex
	st       State
	png      []byte
	onChange func(State)
}

// NewTracker creates a Tracker. onChange, if non-nil, is called after
// every update from the dispatching goroutine and must not block. If log
// is nil, slog.Default() is used.
func NewTracker(log *slog.Logger, onChange func(State)) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		log:      log.With("component", "cursor"),
		onChange: onChange,
	}
}

func (t *Tracker) OnCursorPosition(p wire.CursorPosition) {
	t.mu.Lock()
	t.st.X = p.X
	t.st.Y = p.Y
	t.st.Visible = p.Visible
	t.st.Positions++
	st := t.st
	t.mu.Unlock()

	t.notify(st)
}

func (t *Tracker) OnCursorImage(img wire.CursorImage) {
	t.mu.Lock()
	changed := img.ImageID != t.st.ImageID || t.png == nil
	t.st.ImageID = img.ImageID
	t.st.ImageSize = len(img.PNG)
	t.st.Images++
	t.png = img.PNG
	st := t.st
	t.mu.Unlock()

	if changed {
		t.log.Debug("cursor image", "id", img.ImageID, "bytes", len(img.PNG))
	}
	t.notify(st)
}

func (t *Tracker) notify(st State) {
	if t.onChange != nil {
		t.onChange(st)
	}
}

// State returns the latest cursor state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.st
}

// Image returns the latest cursor bitmap. The returned slice must not be
// modified.
func (t *Tracker) Image() (id uint32, png []byte, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.st.ImageID, t.png, t.png != nil
}
