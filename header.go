package mux

import (
	"bytes"
	"encoding/binary"
)

// FramerKey names the session header carrying the fragment size.
const FramerKey = "mux-framer"

// EncodeFrameSize returns a header value with size encoded.
func EncodeFrameSize(size uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, size)
}

// DecodeFrameSize extracts a frame size from a header value.
func DecodeFrameSize(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, malformed("%s header: need 4 bytes, have %d", FramerKey, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// FrameSizeHeader returns the header entry advertising size.
func FrameSizeHeader(size uint32) Header {
	return Header{Key: []byte(FramerKey), Value: EncodeFrameSize(size)}
}

// FrameSize looks up the frame size advertised in headers. The first
// matching entry wins; ok is false when there is none.
func FrameSize(headers []Header) (size uint32, ok bool, err error) {
	for _, h := range headers {
		if !bytes.Equal(h.Key, []byte(FramerKey)) {
			continue
		}
		size, err = DecodeFrameSize(h.Value)
		if err != nil {
			return 0, false, err
		}
		return size, true, nil
	}
	return 0, false, nil
}

// NegotiateFrameSize returns the fragment size to use when writing to a
// peer that sent remote. A peer that does not advertise the header cannot
// reassemble fragments, so the result is 0 (no fragmentation). Otherwise the
// smaller of the two sizes wins; a local size <= 0 defers to the peer.
func NegotiateFrameSize(local int, remote []Header) (int, error) {
	size, ok, err := FrameSize(remote)
	if err != nil || !ok || size == 0 {
		return 0, err
	}
	if local <= 0 || int64(size) < int64(local) {
		return int(size), nil
	}
	return local, nil
}
