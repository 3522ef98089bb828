package mux

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// DefaultMaxFrameLength bounds the length prefix accepted from a peer.
const DefaultMaxFrameLength = 16 * 1024 * 1024

const readChunk = 4096

// Channel is an ordered, reliable byte duplex. Implementations backed by a
// non-blocking socket return ErrWouldBlock instead of waiting: Read when no
// bytes are available, Write when the socket cannot take more (possibly
// after writing a prefix of p, reported in n).
type Channel interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
}

// FrameWriter writes frames to a Channel, holding at most one partially
// written frame.
type FrameWriter struct {
	ch      Channel
	pending []byte
}

// NewFrameWriter returns a FrameWriter on ch.
func NewFrameWriter(ch Channel) *FrameWriter {
	return &FrameWriter{ch: ch}
}

// Write starts writing frame and flushes as much of it as the channel
// takes. It returns ErrWriteInFlight if a previous frame is still pending;
// the caller must Flush that one to completion first.
func (w *FrameWriter) Write(frame []byte) error {
	if len(w.pending) > 0 {
		return ErrWriteInFlight
	}
	w.pending = frame
	return w.Flush()
}

// Flush continues writing the pending frame. It returns ErrWouldBlock while
// bytes remain.
func (w *FrameWriter) Flush() error {
	for len(w.pending) > 0 {
		n, err := w.ch.Write(w.pending)
		w.pending = w.pending[n:]
		if err == nil {
			if n == 0 {
				w.pending = nil
				return &IOError{Op: "write", Err: io.ErrShortWrite}
			}
			continue
		}
		if errors.Is(err, ErrWouldBlock) {
			return ErrWouldBlock
		}
		w.pending = nil
		return &IOError{Op: "write", Err: err}
	}
	w.pending = nil
	return nil
}

// Buffered returns the number of bytes still waiting to be written.
func (w *FrameWriter) Buffered() int {
	return len(w.pending)
}

type readState int

const (
	awaitingHeader readState = iota
	awaitingBody
)

// Transport runs the mux framing over a Channel. It is driven by its
// caller: call Receive when the channel is readable and Flush when it is
// writable, and retry both after ErrWouldBlock. A Transport must not be
// used from multiple goroutines without external serialization.
type Transport struct {
	ch       Channel
	framer   *Framer
	writer   *FrameWriter
	maxFrame int

	state readState
	need  int
	rbuf  []byte
	roff  int
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// TransportFrameSizeOption sets the outbound fragment size.
func TransportFrameSizeOption(size int) TransportOption {
	return func(t *Transport) {
		t.framer = NewFramer(size)
	}
}

// TransportMaxFrameLengthOption bounds the length of one inbound frame.
func TransportMaxFrameLengthOption(n int) TransportOption {
	return func(t *Transport) {
		t.maxFrame = n
	}
}

// NewTransport returns a Transport on ch.
func NewTransport(ch Channel, opts ...TransportOption) *Transport {
	t := &Transport{
		ch:       ch,
		framer:   NewFramer(0),
		writer:   NewFrameWriter(ch),
		maxFrame: DefaultMaxFrameLength,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.maxFrame < FrameHeaderSize {
		t.maxFrame = DefaultMaxFrameLength
	}
	return t
}

// SetFrameSize fixes the outbound fragment size after negotiation.
func (t *Transport) SetFrameSize(size int) error {
	return t.framer.SetFrameSize(size)
}

// Send queues m. Nothing is written until Flush.
func (t *Transport) Send(m Message) error {
	return t.framer.Enqueue(m)
}

// Flush writes queued frames until the queue is empty or the channel
// would block.
func (t *Transport) Flush() error {
	for {
		if err := t.writer.Flush(); err != nil {
			return err
		}
		frame, ok := t.framer.Next()
		if !ok {
			return nil
		}
		if err := t.writer.Write(frame); err != nil {
			return err
		}
	}
}

// Pending reports whether outbound data is still waiting for Flush.
func (t *Transport) Pending() bool {
	return t.writer.Buffered() > 0 || t.framer.Queued() > 0
}

// Receive returns the next complete inbound message. It returns
// ErrWouldBlock when the channel has no more bytes and no message is ready.
// A *TagError affects only the message on its tag; Receive may be called
// again. An *IOError or ErrBadFrame is fatal to the connection.
func (t *Transport) Receive() (Message, error) {
	for {
		m, err := t.parse()
		if m != nil || err != nil {
			return m, err
		}
		if err := t.fill(); err != nil {
			return nil, err
		}
	}
}

// parse advances the read state machine over the buffered bytes and stops
// at the first complete message, error, or shortage of input.
func (t *Transport) parse() (Message, error) {
	for {
		buffered := t.rbuf[t.roff:]
		switch t.state {
		case awaitingHeader:
			if len(buffered) < lengthPrefixSize {
				return nil, nil
			}
			n := binary.BigEndian.Uint32(buffered)
			if n < FrameHeaderSize || uint64(n) > uint64(t.maxFrame) {
				return nil, errors.Wrapf(ErrBadFrame, "length %d", n)
			}
			t.roff += lengthPrefixSize
			t.need = int(n)
			t.state = awaitingBody
		case awaitingBody:
			if len(buffered) < t.need {
				return nil, nil
			}
			frame := buffered[:t.need]
			t.roff += t.need
			t.state = awaitingHeader
			header := binary.BigEndian.Uint32(frame)
			m, done, err := t.framer.Receive(extractType(header), extractTag(header), frame[FrameHeaderSize:])
			if err != nil {
				return nil, err
			}
			if done {
				return m, nil
			}
		}
	}
}

// fill reads once from the channel into the read buffer.
func (t *Transport) fill() error {
	if t.roff > 0 {
		n := copy(t.rbuf, t.rbuf[t.roff:])
		t.rbuf = t.rbuf[:n]
		t.roff = 0
	}
	want := readChunk
	if t.state == awaitingBody && t.need-len(t.rbuf) > want {
		want = t.need - len(t.rbuf)
	}
	if cap(t.rbuf)-len(t.rbuf) < want {
		grown := make([]byte, len(t.rbuf), len(t.rbuf)+want)
		copy(grown, t.rbuf)
		t.rbuf = grown
	}
	n, err := t.ch.Read(t.rbuf[len(t.rbuf):cap(t.rbuf)])
	t.rbuf = t.rbuf[:len(t.rbuf)+n]
	switch {
	case err == nil && n > 0:
		return nil
	case err == nil, errors.Is(err, ErrWouldBlock):
		if n > 0 {
			return nil
		}
		return ErrWouldBlock
	default:
		if n > 0 {
			// deliver what arrived before the failure first
			return nil
		}
		return &IOError{Op: "read", Err: err}
	}
}

// Close drops queued and partially reassembled messages. It does not close
// the channel.
func (t *Transport) Close() {
	t.framer.Reset()
	t.writer.pending = nil
	t.rbuf = nil
	t.roff = 0
	t.state = awaitingHeader
}
