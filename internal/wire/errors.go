package wire

import (
	"errors"
	"fmt"
)

// Sentinel errors for codec failures. These enable callers to
// programmatically distinguish failure modes using errors.Is.
var (
	ErrShortHeader      = errors.New("wire: header shorter than 8 bytes")
	ErrPayloadTooLarge  = errors.New("wire: payload too large")
	ErrUnknownType      = errors.New("wire: unrecognized packet type")
	ErrUnsupportedValue = errors.New("wire: unsupported packet value")
)

// FramingError reports a header whose declared payload length exceeds the
// maximum. Once seen, the byte stream can no longer be trusted and the
// connection must be torn down rather than resynchronized.
type FramingError struct {
	Type   uint32
	Length uint32
	Max    uint32
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("wire: packet type %d declares %d payload bytes (max %d)", e.Type, e.Length, e.Max)
}

func (e *FramingError) Unwrap() error {
	return ErrPayloadTooLarge
}

// UnknownTypeError is returned for a frame whose type tag is not part of
// the protocol. The frame's payload has still been consumed, so framing
// remains aligned and the caller may keep reading.
type UnknownTypeError struct {
	Type   uint32
	Length uint32
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("wire: unrecognized packet type %d (%d bytes)", e.Type, e.Length)
}

func (e *UnknownTypeError) Unwrap() error {
	return ErrUnknownType
}

// ParseError indicates a payload field that could not be decoded. It
// records which packet type and field were being parsed.
type ParseError struct {
	Type  Type
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("wire: parse %s %s: %v", e.Type, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
