package mux

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by the codec, framer and transport.
var (
	// ErrInvalidTag is returned when encoding a message whose tag does not
	// fit the protocol's tag space. It is a caller bug, not a peer error.
	ErrInvalidTag = errors.New("mux: invalid tag")
	// ErrFieldTooLong is returned when a field overflows its length prefix.
	ErrFieldTooLong = errors.New("mux: field too long")
	// ErrMalformed is returned when a message body cannot be decoded.
	ErrMalformed = errors.New("mux: malformed message")
	// ErrProtocolViolation is returned for inconsistent fragment sequences.
	ErrProtocolViolation = errors.New("mux: protocol violation")
	// ErrWouldBlock signals that the channel is not ready. Retry later.
	ErrWouldBlock = errors.New("mux: operation would block")
	// ErrIOFailure matches every *IOError.
	ErrIOFailure = errors.New("mux: i/o failure")
	// ErrBadFrame is returned when the stream framing itself is corrupt.
	// The connection cannot recover from it.
	ErrBadFrame = errors.New("mux: bad frame length")
	// ErrWriteInFlight is returned when a frame is written before the
	// previous one has been flushed.
	ErrWriteInFlight = errors.New("mux: previous write not flushed")
	// ErrFrameSizeFixed is returned when the frame size is set twice.
	ErrFrameSizeFixed = errors.New("mux: frame size already negotiated")
)

// TagError is a failure confined to the logical message on one tag.
// Frames for other tags are unaffected.
type TagError struct {
	Tag uint32
	Err error
}

func (e *TagError) Error() string {
	return fmt.Sprintf("mux: tag %d: %v", e.Tag, e.Err)
}

func (e *TagError) Unwrap() error {
	return e.Err
}

// IOError is a channel failure. It is fatal to the connection.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return "mux: " + e.Op + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is makes every IOError match ErrIOFailure.
func (e *IOError) Is(target error) bool {
	return target == ErrIOFailure
}

func malformed(format string, args ...any) error {
	return errors.Wrapf(ErrMalformed, format, args...)
}
