package mux

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/pkg/errors"
)

// lengthPrefixSize is the size of the stream length preceding each frame.
const lengthPrefixSize = 4

// Framer splits outbound messages into fragments of at most the negotiated
// frame size, interleaves fragments of different tags round-robin, and
// reassembles inbound fragments per tag.
//
// The outbound half (Enqueue, Next, Queued) and the inbound half (Receive,
// Partial) share no state, so each may be driven by its own goroutine. Calls
// within one half must be serialized by the caller.
type Framer struct {
	frameSize atomic.Int64

	streams []*stream
	byTag   map[uint32]*stream
	next    int
	queued  int

	partial map[uint32]*reassembly
	// tags whose current message failed mid-sequence; their frames are
	// dropped up to and including the next terminal frame
	aborted map[uint32]struct{}
}

// stream holds the encoded messages waiting on one tag. Only the head
// message is cut into fragments; later ones wait so that fragments sharing
// a tag never interleave.
type stream struct {
	tag     uint32
	pending [][]byte
	off     int
}

type reassembly struct {
	typ int8
	buf []byte
}

// NewFramer returns a framer writing fragments of at most frameSize body
// bytes. A frameSize <= 0 leaves the size open for SetFrameSize; until then
// messages are written whole.
func NewFramer(frameSize int) *Framer {
	f := &Framer{
		byTag:   make(map[uint32]*stream),
		partial: make(map[uint32]*reassembly),
		aborted: make(map[uint32]struct{}),
	}
	if frameSize > 0 {
		f.frameSize.Store(int64(frameSize))
	}
	return f
}

// FrameSize returns the fragment size, or 0 when none was negotiated.
func (f *Framer) FrameSize() int {
	return int(f.frameSize.Load())
}

// SetFrameSize fixes the fragment size. It can succeed only once per
// framer and never after a positive size was given to NewFramer.
func (f *Framer) SetFrameSize(size int) error {
	if size <= 0 {
		return errors.Errorf("mux: invalid frame size %d", size)
	}
	if !f.frameSize.CompareAndSwap(0, int64(size)) {
		return ErrFrameSizeFixed
	}
	return nil
}

// Enqueue encodes m and queues it for writing.
func (f *Framer) Enqueue(m Message) error {
	if _, ok := m.(Fragment); ok {
		return errors.Wrap(ErrProtocolViolation, "fragments are produced by the framer")
	}
	b, err := Encode(m)
	if err != nil {
		return err
	}
	f.enqueueEncoded(b)
	return nil
}

// enqueueEncoded queues the output of Encode.
func (f *Framer) enqueueEncoded(b []byte) {
	tag := extractTag(binary.BigEndian.Uint32(b))
	s, ok := f.byTag[tag]
	if !ok {
		s = &stream{tag: tag}
		f.byTag[tag] = s
		f.streams = append(f.streams, s)
	}
	s.pending = append(s.pending, b)
	f.queued++
}

// Queued returns the number of messages not yet completely handed out by Next.
func (f *Framer) Queued() int {
	return f.queued
}

// Next returns the next length-prefixed frame to write. Each call serves
// the following tag in turn, so a large message yields the stream to every
// other pending tag between its fragments.
func (f *Framer) Next() ([]byte, bool) {
	if len(f.streams) == 0 {
		return nil, false
	}
	if f.next >= len(f.streams) {
		f.next = 0
	}
	s := f.streams[f.next]
	frame, done := s.cut(f.FrameSize())
	if done {
		s.pending[0] = nil
		s.pending = s.pending[1:]
		f.queued--
	}
	if len(s.pending) == 0 {
		f.streams = append(f.streams[:f.next], f.streams[f.next+1:]...)
		delete(f.byTag, s.tag)
	} else {
		f.next++
	}
	return frame, true
}

// cut returns the next frame of the head message and whether it was the
// terminal one.
func (s *stream) cut(frameSize int) ([]byte, bool) {
	msg := s.pending[0]
	typ := extractType(binary.BigEndian.Uint32(msg))
	rest := msg[FrameHeaderSize+s.off:]
	if frameSize <= 0 || len(rest) <= frameSize {
		s.off = 0
		return appendFrame(nil, typ, s.tag, rest), true
	}
	s.off += frameSize
	return appendFrame(nil, typ, SetMSB(s.tag), rest[:frameSize]), false
}

func appendFrame(dst []byte, typ int8, tag uint32, body []byte) []byte {
	if dst == nil {
		dst = make([]byte, 0, lengthPrefixSize+FrameHeaderSize+len(body))
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(FrameHeaderSize+len(body)))
	dst = binary.BigEndian.AppendUint32(dst, packHeader(typ, tag))
	return append(dst, body...)
}

// Receive consumes one inbound frame. It returns the decoded message and
// true once the frame completes one. Failures are *TagError values and only
// cost the message on that tag. Once a fragment sequence fails, the rest of
// that message is discarded: continuations silently, and its terminal frame
// with an ErrProtocolViolation.
func (f *Framer) Receive(typ int8, tag uint32, body []byte) (Message, bool, error) {
	if IsFragment(tag) {
		tag = StripMSB(tag)
		if _, ok := f.aborted[tag]; ok {
			return nil, false, nil
		}
		err := f.accumulate(typ, tag, body)
		if err != nil {
			f.aborted[tag] = struct{}{}
		}
		return nil, false, err
	}

	if _, ok := f.aborted[tag]; ok {
		delete(f.aborted, tag)
		return nil, false, violation(tag, "terminal %s of an aborted message", TypeName(typ))
	}

	full := body
	if r, ok := f.partial[tag]; ok {
		delete(f.partial, tag)
		if r.typ != typ {
			return nil, false, violation(tag, "terminal fragment type %s does not match %s", TypeName(typ), TypeName(r.typ))
		}
		full = append(r.buf, body...)
	}
	m, err := Decode(typ, tag, full)
	if err != nil {
		return nil, false, &TagError{Tag: tag, Err: err}
	}
	return m, true, nil
}

func (f *Framer) accumulate(typ int8, tag uint32, body []byte) error {
	r, ok := f.partial[tag]
	if !ok {
		if !knownType(typ) {
			return violation(tag, "fragment of unknown type %d", typ)
		}
		f.partial[tag] = &reassembly{typ: typ, buf: append([]byte(nil), body...)}
		return nil
	}
	if r.typ != typ {
		delete(f.partial, tag)
		return violation(tag, "fragment type %s does not match %s", TypeName(typ), TypeName(r.typ))
	}
	r.buf = append(r.buf, body...)
	return nil
}

// Partial returns the number of tags with an incomplete inbound message.
// Tags waiting out an aborted message are not counted.
func (f *Framer) Partial() int {
	return len(f.partial)
}

// Reset drops all queued and partially reassembled messages.
func (f *Framer) Reset() {
	f.streams = nil
	f.byTag = make(map[uint32]*stream)
	f.next = 0
	f.queued = 0
	f.partial = make(map[uint32]*reassembly)
	f.aborted = make(map[uint32]struct{})
}

func violation(tag uint32, format string, args ...any) error {
	return &TagError{Tag: tag, Err: errors.Wrapf(ErrProtocolViolation, format, args...)}
}
