package mux

import (
	"encoding/binary"
	"math"
	"sync"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// FrameHeaderSize is the size of the type code and tag preceding every body.
const FrameHeaderSize = 4

// pingFrame is the encoding of Tping{Tag: PingTag}. It never changes, so it
// is built once on first use.
var pingFrame = sync.OnceValue(func() []byte {
	b, err := encode(Tping{Tag: PingTag})
	if err != nil {
		panic(err)
	}
	return b
})

// PingFrame returns the pre-encoded default ping.
func PingFrame() []byte {
	return append([]byte(nil), pingFrame()...)
}

// Encode returns the frame header followed by the body of m.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("mux: nil message")
	}
	if p, ok := m.(Tping); ok && p.Tag == PingTag {
		return PingFrame(), nil
	}
	return encode(m)
}

func encode(m Message) ([]byte, error) {
	if err := checkTag(m); err != nil {
		return nil, err
	}
	buf := make([]byte, FrameHeaderSize, FrameHeaderSize+64)
	binary.BigEndian.PutUint32(buf, packHeader(m.Type(), m.FrameTag()))
	return appendBody(buf, m)
}

func checkTag(m Message) error {
	switch m := m.(type) {
	case Fragment:
		if m.Tag > tagMask {
			return errors.Wrapf(ErrInvalidTag, "fragment tag %#x", m.Tag)
		}
	case Tdiscarded:
		if !ValidTag(m.Which) {
			return errors.Wrapf(ErrInvalidTag, "Tdiscarded: which %d", m.Which)
		}
	default:
		if !ValidTag(m.FrameTag()) {
			return errors.Wrapf(ErrInvalidTag, "%s: tag %d", TypeName(m.Type()), m.FrameTag())
		}
	}
	return nil
}

func appendBody(b []byte, m Message) ([]byte, error) {
	var err error
	switch m := m.(type) {
	case Tinit:
		return appendInit(b, "Tinit", m.Version, m.Headers)
	case Rinit:
		return appendInit(b, "Rinit", m.Version, m.Headers)
	case Treq:
		b = append(b, 0)
		return append(b, m.Req...), nil
	case RreqOk:
		b = append(b, statusOk)
		return append(b, m.Reply...), nil
	case RreqError:
		if err = checkUTF8("RreqError: error", m.Err); err != nil {
			return nil, err
		}
		b = append(b, statusError)
		return append(b, m.Err...), nil
	case RreqNack:
		return append(b, statusNack), nil
	case Tdispatch:
		return appendDispatch(b, m)
	case RdispatchOk:
		if b, err = appendContexts(append(b, statusOk), "RdispatchOk", m.Contexts); err != nil {
			return nil, err
		}
		return append(b, m.Reply...), nil
	case RdispatchError:
		if err = checkUTF8("RdispatchError: error", m.Err); err != nil {
			return nil, err
		}
		if b, err = appendContexts(append(b, statusError), "RdispatchError", m.Contexts); err != nil {
			return nil, err
		}
		return append(b, m.Err...), nil
	case RdispatchNack:
		return appendContexts(append(b, statusNack), "RdispatchNack", m.Contexts)
	case Fragment:
		return append(b, m.Body...), nil
	case Tdrain, Rdrain, Tping, Rping, Rdiscarded:
		return b, nil
	case Rerr:
		if err = checkUTF8("Rerr: error", m.Err); err != nil {
			return nil, err
		}
		return append(b, m.Err...), nil
	case Tdiscarded:
		if err = checkUTF8("Tdiscarded: reason", m.Why); err != nil {
			return nil, err
		}
		b = append(b, byte(m.Which>>16), byte(m.Which>>8), byte(m.Which))
		return append(b, m.Why...), nil
	case Tlease:
		b = append(b, m.Unit)
		return binary.BigEndian.AppendUint64(b, m.HowLong), nil
	default:
		return nil, errors.Errorf("mux: unsupported message %T", m)
	}
}

func appendInit(b []byte, name string, version uint16, headers []Header) ([]byte, error) {
	b = binary.BigEndian.AppendUint16(b, version)
	for _, h := range headers {
		if uint64(len(h.Key)) > math.MaxUint32 || uint64(len(h.Value)) > math.MaxUint32 {
			return nil, errors.Wrapf(ErrFieldTooLong, "%s: header", name)
		}
		b = binary.BigEndian.AppendUint32(b, uint32(len(h.Key)))
		b = append(b, h.Key...)
		b = binary.BigEndian.AppendUint32(b, uint32(len(h.Value)))
		b = append(b, h.Value...)
	}
	return b, nil
}

func appendDispatch(b []byte, m Tdispatch) ([]byte, error) {
	b, err := appendContexts(b, "Tdispatch", m.Contexts)
	if err != nil {
		return nil, err
	}
	if b, err = appendShortString(b, "Tdispatch: destination", m.Dst); err != nil {
		return nil, err
	}
	if len(m.Dtab) > math.MaxUint16 {
		return nil, errors.Wrapf(ErrFieldTooLong, "Tdispatch: %d dentries", len(m.Dtab))
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(m.Dtab)))
	for _, d := range m.Dtab {
		if b, err = appendShortString(b, "Tdispatch: dentry prefix", d.Prefix); err != nil {
			return nil, err
		}
		if b, err = appendShortString(b, "Tdispatch: dentry destination", d.Dst); err != nil {
			return nil, err
		}
	}
	return append(b, m.Req...), nil
}

func appendContexts(b []byte, name string, contexts []Context) ([]byte, error) {
	if len(contexts) > math.MaxUint16 {
		return nil, errors.Wrapf(ErrFieldTooLong, "%s: %d contexts", name, len(contexts))
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(contexts)))
	var err error
	for _, c := range contexts {
		if b, err = appendShort(b, name+": context key", c.Key); err != nil {
			return nil, err
		}
		if b, err = appendShort(b, name+": context value", c.Value); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// appendShort writes v with a u16 length prefix.
func appendShort(b []byte, what string, v []byte) ([]byte, error) {
	if len(v) > math.MaxUint16 {
		return nil, errors.Wrapf(ErrFieldTooLong, "%s: %d bytes", what, len(v))
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(v)))
	return append(b, v...), nil
}

func appendShortString(b []byte, what string, v string) ([]byte, error) {
	if err := checkUTF8(what, v); err != nil {
		return nil, err
	}
	return appendShort(b, what, []byte(v))
}

// checkUTF8 rejects strings the decoder would refuse.
func checkUTF8(what, s string) error {
	if !utf8.ValidString(s) {
		return malformed("%s: invalid utf-8", what)
	}
	return nil
}

// DecodeFrame decodes a frame header followed by its body.
func DecodeFrame(b []byte) (Message, error) {
	if len(b) < FrameHeaderSize {
		return nil, malformed("frame header: need %d bytes, have %d", FrameHeaderSize, len(b))
	}
	header := binary.BigEndian.Uint32(b)
	return Decode(extractType(header), extractTag(header), b[FrameHeaderSize:])
}

// Decode parses body as a message of type typ carried on tag. The returned
// message does not alias body. Empty byte fields decode as nil, never as
// empty non-nil slices. A tag with the continuation bit set always yields a
// Fragment.
func Decode(typ int8, tag uint32, body []byte) (Message, error) {
	if IsFragment(tag) {
		return Fragment{Code: typ, Tag: tag, Body: clone(body)}, nil
	}
	r := &bodyReader{name: TypeName(typ), buf: body}
	switch typ {
	case TypeTinit:
		version, headers, err := r.init()
		if err != nil {
			return nil, err
		}
		return Tinit{Tag: tag, Version: version, Headers: headers}, nil
	case TypeRinit:
		version, headers, err := r.init()
		if err != nil {
			return nil, err
		}
		return Rinit{Tag: tag, Version: version, Headers: headers}, nil
	case TypeTreq:
		return decodeTreq(r, tag)
	case TypeRreq:
		return decodeRreq(r, tag)
	case TypeTdispatch:
		return decodeTdispatch(r, tag)
	case TypeRdispatch:
		return decodeRdispatch(r, tag)
	case TypeTdrain:
		return Tdrain{Tag: tag}, nil
	case TypeRdrain:
		return Rdrain{Tag: tag}, nil
	case TypeTping:
		return Tping{Tag: tag}, nil
	case TypeRping:
		return Rping{Tag: tag}, nil
	case TypeRerr, TypeBadRerr:
		why, err := r.restString("error")
		if err != nil {
			return nil, err
		}
		return Rerr{Tag: tag, Err: why}, nil
	case TypeTdiscarded, TypeBadTdiscarded:
		return decodeTdiscarded(r)
	case TypeRdiscarded:
		return Rdiscarded{Tag: tag}, nil
	case TypeTlease:
		unit, err := r.u8("unit")
		if err != nil {
			return nil, err
		}
		howLong, err := r.u64("duration")
		if err != nil {
			return nil, err
		}
		return Tlease{Unit: unit, HowLong: howLong}, nil
	default:
		return nil, malformed("unknown message type %d", typ)
	}
}

func decodeTreq(r *bodyReader, tag uint32) (Message, error) {
	keys, err := r.u8("key count")
	if err != nil {
		return nil, err
	}
	if keys != 0 {
		return nil, malformed("Treq: unsupported multi-key request (%d keys)", keys)
	}
	return Treq{Tag: tag, Req: r.rest()}, nil
}

func decodeRreq(r *bodyReader, tag uint32) (Message, error) {
	status, err := r.u8("status")
	if err != nil {
		return nil, err
	}
	switch status {
	case statusOk:
		return RreqOk{Tag: tag, Reply: r.rest()}, nil
	case statusError:
		why, err := r.restString("error")
		if err != nil {
			return nil, err
		}
		return RreqError{Tag: tag, Err: why}, nil
	case statusNack:
		return RreqNack{Tag: tag}, nil
	default:
		return nil, malformed("Rreq: invalid status %d", status)
	}
}

func decodeTdispatch(r *bodyReader, tag uint32) (Message, error) {
	contexts, err := r.contexts()
	if err != nil {
		return nil, err
	}
	dst, err := r.shortString("destination")
	if err != nil {
		return nil, err
	}
	n, err := r.u16("dentry count")
	if err != nil {
		return nil, err
	}
	var dtab Dtab
	if n > 0 {
		dtab = make(Dtab, 0, min(int(n), r.len()/4))
	}
	for i := 0; i < int(n); i++ {
		prefix, err := r.shortString("dentry prefix")
		if err != nil {
			return nil, err
		}
		dentryDst, err := r.shortString("dentry destination")
		if err != nil {
			return nil, err
		}
		dtab = append(dtab, Dentry{Prefix: prefix, Dst: dentryDst})
	}
	return Tdispatch{Tag: tag, Contexts: contexts, Dst: dst, Dtab: dtab, Req: r.rest()}, nil
}

func decodeRdispatch(r *bodyReader, tag uint32) (Message, error) {
	status, err := r.u8("status")
	if err != nil {
		return nil, err
	}
	if status > statusNack {
		return nil, malformed("Rdispatch: invalid status %d", status)
	}
	contexts, err := r.contexts()
	if err != nil {
		return nil, err
	}
	switch status {
	case statusOk:
		return RdispatchOk{Tag: tag, Contexts: contexts, Reply: r.rest()}, nil
	case statusError:
		why, err := r.restString("error")
		if err != nil {
			return nil, err
		}
		return RdispatchError{Tag: tag, Contexts: contexts, Err: why}, nil
	default:
		return RdispatchNack{Tag: tag, Contexts: contexts}, nil
	}
}

func decodeTdiscarded(r *bodyReader) (Message, error) {
	b, err := r.take(3, "which")
	if err != nil {
		return nil, err
	}
	which := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	why, err := r.restString("reason")
	if err != nil {
		return nil, err
	}
	return Tdiscarded{Which: which, Why: why}, nil
}

// bodyReader consumes a message body front to back. Every read checks the
// remaining length first so short bodies turn into ErrMalformed.
type bodyReader struct {
	name string
	buf  []byte
}

func (r *bodyReader) len() int {
	return len(r.buf)
}

func (r *bodyReader) take(n uint64, what string) ([]byte, error) {
	if n > uint64(len(r.buf)) {
		return nil, malformed("%s: %s: need %d bytes, have %d", r.name, what, n, len(r.buf))
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b, nil
}

func (r *bodyReader) u8(what string) (byte, error) {
	b, err := r.take(1, what)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *bodyReader) u16(what string) (uint16, error) {
	b, err := r.take(2, what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *bodyReader) u32(what string) (uint32, error) {
	b, err := r.take(4, what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *bodyReader) u64(what string) (uint64, error) {
	b, err := r.take(8, what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *bodyReader) shortBytes(what string) ([]byte, error) {
	n, err := r.u16(what + " length")
	if err != nil {
		return nil, err
	}
	b, err := r.take(uint64(n), what)
	if err != nil {
		return nil, err
	}
	return clone(b), nil
}

func (r *bodyReader) shortString(what string) (string, error) {
	n, err := r.u16(what + " length")
	if err != nil {
		return "", err
	}
	b, err := r.take(uint64(n), what)
	if err != nil {
		return "", err
	}
	return r.utf8(b, what)
}

func (r *bodyReader) rest() []byte {
	b := clone(r.buf)
	r.buf = nil
	return b
}

func (r *bodyReader) restString(what string) (string, error) {
	b := r.buf
	r.buf = nil
	return r.utf8(b, what)
}

func (r *bodyReader) utf8(b []byte, what string) (string, error) {
	if !utf8.Valid(b) {
		return "", malformed("%s: %s: invalid utf-8", r.name, what)
	}
	return string(b), nil
}

func (r *bodyReader) contexts() ([]Context, error) {
	n, err := r.u16("context count")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	contexts := make([]Context, 0, min(int(n), r.len()/4))
	for i := 0; i < int(n); i++ {
		key, err := r.shortBytes("context key")
		if err != nil {
			return nil, err
		}
		value, err := r.shortBytes("context value")
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, Context{Key: key, Value: value})
	}
	return contexts, nil
}

func (r *bodyReader) init() (uint16, []Header, error) {
	version, err := r.u16("version")
	if err != nil {
		return 0, nil, err
	}
	var headers []Header
	for r.len() > 0 {
		kl, err := r.u32("header key length")
		if err != nil {
			return 0, nil, err
		}
		key, err := r.take(uint64(kl), "header key")
		if err != nil {
			return 0, nil, err
		}
		vl, err := r.u32("header value length")
		if err != nil {
			return 0, nil, err
		}
		value, err := r.take(uint64(vl), "header value")
		if err != nil {
			return 0, nil, err
		}
		headers = append(headers, Header{Key: clone(key), Value: clone(value)})
	}
	return version, headers, nil
}

// clone copies b, mapping empty input to nil.
func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
