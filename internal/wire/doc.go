// Package wire implements the length-prefixed binary codec spoken by the
// remote display server: an 8-byte big-endian header (type tag, payload
// length) followed by a typed payload carrying video, audio, codec
// configuration, clock sync, or cursor state.
//
// This package contains no connection or buffering logic; framing over a
// live byte stream lives in [github.com/zsiec/vdclient/internal/transport].
package wire
