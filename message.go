// Package mux implements the Mux RPC wire protocol: a codec for the
// protocol's message kinds and a framer that fragments large messages and
// interleaves them fairly over one ordered byte stream.
//
// The codec (Encode, Decode) maps Message values to exact byte layouts. The
// Framer splits encoded messages into tagged fragments and reassembles them
// per tag. Transport drives a Framer over a non-blocking Channel, and Conn
// drives one over a blocking net.Conn.
package mux

import "time"

// Message is one protocol message. The set of implementations is closed:
// every variant is declared in this file.
type Message interface {
	// Type returns the type code written into the frame header.
	Type() int8
	// FrameTag returns the tag written into the frame header.
	FrameTag() uint32

	message()
}

// Header is one Tinit/Rinit header entry.
type Header struct {
	Key   []byte
	Value []byte
}

// Context is one dispatch context entry.
type Context struct {
	Key   []byte
	Value []byte
}

// Dentry is one delegation rule. The codec carries it verbatim.
type Dentry struct {
	Prefix string
	Dst    string
}

// Dtab is an ordered delegation table.
type Dtab []Dentry

// Tinit opens session negotiation.
type Tinit struct {
	Tag     uint32
	Version uint16
	Headers []Header
}

// Rinit answers a Tinit.
type Rinit struct {
	Tag     uint32
	Version uint16
	Headers []Header
}

// Treq is the deprecated request form.
type Treq struct {
	Tag uint32
	Req []byte
}

// RreqOk is a successful reply to a Treq.
type RreqOk struct {
	Tag   uint32
	Reply []byte
}

// RreqError is a failed reply to a Treq.
type RreqError struct {
	Tag uint32
	Err string
}

// RreqNack rejects a Treq without processing it.
type RreqNack struct {
	Tag uint32
}

// Tdispatch is a request with contexts, a destination and a delegation table.
type Tdispatch struct {
	Tag      uint32
	Contexts []Context
	Dst      string
	Dtab     Dtab
	Req      []byte
}

// RdispatchOk is a successful reply to a Tdispatch.
type RdispatchOk struct {
	Tag      uint32
	Contexts []Context
	Reply    []byte
}

// RdispatchError is a failed reply to a Tdispatch.
type RdispatchError struct {
	Tag      uint32
	Contexts []Context
	Err      string
}

// RdispatchNack rejects a Tdispatch without processing it.
type RdispatchNack struct {
	Tag      uint32
	Contexts []Context
}

// Fragment is one chunk of a larger message as it appears on the wire.
// Code is the type of the message being fragmented and Tag already has the
// continuation bit set for every chunk but the last. Callers above the
// framer never see fragments.
type Fragment struct {
	Code int8
	Tag  uint32
	Body []byte
}

// Tdrain asks the peer to stop sending new requests.
type Tdrain struct {
	Tag uint32
}

// Rdrain acknowledges a Tdrain.
type Rdrain struct {
	Tag uint32
}

// Tping is a liveness probe.
type Tping struct {
	Tag uint32
}

// Rping answers a Tping.
type Rping struct {
	Tag uint32
}

// Rerr reports an error for a prior T-message.
type Rerr struct {
	Tag uint32
	Err string
}

// Tdiscarded tells the peer that the request on tag Which was abandoned.
type Tdiscarded struct {
	Which uint32
	Why   string
}

// Rdiscarded acknowledges a discard.
type Rdiscarded struct {
	Tag uint32
}

// Tlease advises the peer how long it may keep sending requests.
type Tlease struct {
	Unit    byte
	HowLong uint64
}

// NewTlease returns a millisecond lease of duration d.
func NewTlease(d time.Duration) Tlease {
	if d < 0 {
		d = 0
	}
	return Tlease{Unit: LeaseMillisecond, HowLong: uint64(d / time.Millisecond)}
}

// Duration converts the lease to a time.Duration. It reports false for
// units it does not understand.
func (m Tlease) Duration() (time.Duration, bool) {
	if m.Unit != LeaseMillisecond {
		return 0, false
	}
	return time.Duration(m.HowLong) * time.Millisecond, true
}

func (Tinit) Type() int8          { return TypeTinit }
func (Rinit) Type() int8          { return TypeRinit }
func (Treq) Type() int8           { return TypeTreq }
func (RreqOk) Type() int8         { return TypeRreq }
func (RreqError) Type() int8      { return TypeRreq }
func (RreqNack) Type() int8       { return TypeRreq }
func (Tdispatch) Type() int8      { return TypeTdispatch }
func (RdispatchOk) Type() int8    { return TypeRdispatch }
func (RdispatchError) Type() int8 { return TypeRdispatch }
func (RdispatchNack) Type() int8  { return TypeRdispatch }
func (m Fragment) Type() int8     { return m.Code }
func (Tdrain) Type() int8         { return TypeTdrain }
func (Rdrain) Type() int8         { return TypeRdrain }
func (Tping) Type() int8          { return TypeTping }
func (Rping) Type() int8          { return TypeRping }
func (Rerr) Type() int8           { return TypeBadRerr }
func (Tdiscarded) Type() int8     { return TypeBadTdiscarded }
func (Rdiscarded) Type() int8     { return TypeRdiscarded }
func (Tlease) Type() int8         { return TypeTlease }

func (m Tinit) FrameTag() uint32          { return m.Tag }
func (m Rinit) FrameTag() uint32          { return m.Tag }
func (m Treq) FrameTag() uint32           { return m.Tag }
func (m RreqOk) FrameTag() uint32         { return m.Tag }
func (m RreqError) FrameTag() uint32      { return m.Tag }
func (m RreqNack) FrameTag() uint32       { return m.Tag }
func (m Tdispatch) FrameTag() uint32      { return m.Tag }
func (m RdispatchOk) FrameTag() uint32    { return m.Tag }
func (m RdispatchError) FrameTag() uint32 { return m.Tag }
func (m RdispatchNack) FrameTag() uint32  { return m.Tag }
func (m Fragment) FrameTag() uint32       { return m.Tag }
func (m Tdrain) FrameTag() uint32         { return m.Tag }
func (m Rdrain) FrameTag() uint32         { return m.Tag }
func (m Tping) FrameTag() uint32          { return m.Tag }
func (m Rping) FrameTag() uint32          { return m.Tag }
func (m Rerr) FrameTag() uint32           { return m.Tag }
func (Tdiscarded) FrameTag() uint32       { return MarkerTag }
func (m Rdiscarded) FrameTag() uint32     { return m.Tag }
func (Tlease) FrameTag() uint32           { return MarkerTag }

func (Tinit) message()          {}
func (Rinit) message()          {}
func (Treq) message()           {}
func (RreqOk) message()         {}
func (RreqError) message()      {}
func (RreqNack) message()       {}
func (Tdispatch) message()      {}
func (RdispatchOk) message()    {}
func (RdispatchError) message() {}
func (RdispatchNack) message()  {}
func (Fragment) message()       {}
func (Tdrain) message()         {}
func (Rdrain) message()         {}
func (Tping) message()          {}
func (Rping) message()          {}
func (Rerr) message()           {}
func (Tdiscarded) message()     {}
func (Rdiscarded) message()     {}
func (Tlease) message()         {}
