package mux

import (
	"time"

	"github.com/pkg/errors"
)

// ErrorAction defines the action to take when an error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and continues processing.
	Continue
)

// options holds the configuration for a connection.
type options struct {
	logger Logger

	onMessage func(message Message) error
	// onError is called for frames the connection rejected.
	// Returns Disconnect to close the connection, Continue to drop the frame.
	onError func(error) ErrorAction

	bufferSize     int           // size of the outbound message channel
	maxFrameLength int           // largest inbound frame accepted
	frameSize      int           // outbound fragment size, 0 until negotiated
	heartbeat      time.Duration // read/write deadlines are heartbeat * 2
}

// Option is a function that configures connection options.
type Option func(*options)

// BufferSizeOption sets how many encoded messages may wait for the write loop.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// HeartbeatOption sets the heartbeat interval.
// This determines the read/write deadline timeout (heartbeat * 2).
func HeartbeatOption(heartbeat time.Duration) Option {
	return func(o *options) {
		o.heartbeat = heartbeat
	}
}

// MaxFrameLengthOption bounds the length of one inbound frame. Longer
// frames close the connection.
func MaxFrameLengthOption(size int) Option {
	return func(o *options) {
		o.maxFrameLength = size
	}
}

// FrameSizeOption fixes the outbound fragment size up front, for sessions
// whose size was agreed out of band. Leave it unset to negotiate with
// Conn.SetFrameSize instead.
func FrameSizeOption(size int) Option {
	return func(o *options) {
		o.frameSize = size
	}
}

// OnErrorOption sets the callback for rejected frames.
// By default tag-scoped errors are dropped and anything else disconnects.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// OnMessageOption sets the message handler callback.
// This callback is required and is invoked for each reassembled message.
func OnMessageOption(cb func(Message) error) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// LoggerOption sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func defaultOnError(err error) ErrorAction {
	var tagErr *TagError
	if errors.As(err, &tagErr) {
		return Continue
	}
	return Disconnect
}
