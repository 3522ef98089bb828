package mux

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferSizeOption(t *testing.T) {
	var opts options
	BufferSizeOption(100)(&opts)
	assert.Equal(t, 100, opts.bufferSize)
}

func TestHeartbeatOption(t *testing.T) {
	var opts options
	HeartbeatOption(time.Minute * 5)(&opts)
	assert.Equal(t, time.Minute*5, opts.heartbeat)
}

func TestMaxFrameLengthOption(t *testing.T) {
	var opts options
	MaxFrameLengthOption(4096)(&opts)
	assert.Equal(t, 4096, opts.maxFrameLength)
}

func TestFrameSizeOption(t *testing.T) {
	var opts options
	FrameSizeOption(1024)(&opts)
	assert.Equal(t, 1024, opts.frameSize)
}

func TestOnErrorOption(t *testing.T) {
	called := false
	var opts options
	OnErrorOption(func(err error) ErrorAction {
		called = true
		return Disconnect
	})(&opts)

	require.NotNil(t, opts.onError)
	assert.Equal(t, Disconnect, opts.onError(nil))
	assert.True(t, called)
}

func TestOnMessageOption(t *testing.T) {
	var got Message
	var opts options
	OnMessageOption(func(m Message) error {
		got = m
		return nil
	})(&opts)

	require.NotNil(t, opts.onMessage)
	require.NoError(t, opts.onMessage(Tping{Tag: 3}))
	assert.Equal(t, Tping{Tag: 3}, got)
}

func TestLoggerOption(t *testing.T) {
	logger := &mockLogger{}
	var opts options
	LoggerOption(logger)(&opts)
	assert.Same(t, logger, opts.logger)
}

func TestDefaultOnError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorAction
	}{
		{"tag scoped", &TagError{Tag: 2, Err: ErrMalformed}, Continue},
		{"wrapped tag scoped", errors.Wrap(&TagError{Tag: 2, Err: ErrProtocolViolation}, "frame"), Continue},
		{"bad frame", ErrBadFrame, Disconnect},
		{"io", &IOError{Op: "read", Err: errBoom}, Disconnect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, defaultOnError(tt.err))
		})
	}
}

func TestMultipleOptions(t *testing.T) {
	optList := []Option{
		OnMessageOption(func(msg Message) error { return nil }),
		OnErrorOption(func(err error) ErrorAction { return Continue }),
		BufferSizeOption(50),
		HeartbeatOption(time.Minute),
		MaxFrameLengthOption(8192),
		FrameSizeOption(512),
	}

	var opts options
	for _, opt := range optList {
		opt(&opts)
	}

	assert.Equal(t, 50, opts.bufferSize)
	assert.Equal(t, time.Minute, opts.heartbeat)
	assert.Equal(t, 8192, opts.maxFrameLength)
	assert.Equal(t, 512, opts.frameSize)
}
