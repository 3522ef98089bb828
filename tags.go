package mux

// Reserved tags and tag bit layout. Only the low 24 bits of a tag travel on
// the wire; bit 23 marks a non-terminal fragment.
const (
	// MarkerTag is used by messages that carry no request/reply correlation.
	MarkerTag uint32 = 0
	// PingTag is reserved for the default ping so its frame can be cached.
	PingTag uint32 = 1
	// MinTag is the smallest tag a dispatcher may allocate.
	MinTag uint32 = PingTag + 1
	// MaxTag is the largest tag a dispatcher may allocate.
	MaxTag uint32 = 1<<23 - 1
	// TagMSB is the fragment-continuation flag.
	TagMSB uint32 = 1 << 23

	tagMask uint32 = 1<<24 - 1
)

// IsFragment reports whether the continuation bit is set on tag.
func IsFragment(tag uint32) bool {
	return tag>>23&1 == 1
}

// SetMSB returns tag with the continuation bit set.
func SetMSB(tag uint32) uint32 {
	return tag | TagMSB
}

// StripMSB returns tag with the continuation bit cleared.
func StripMSB(tag uint32) uint32 {
	return tag &^ TagMSB
}

// ValidTag reports whether tag may be carried by a non-fragment message.
func ValidTag(tag uint32) bool {
	return tag <= MaxTag
}

func extractType(header uint32) int8 {
	return int8(header >> 24)
}

func extractTag(header uint32) uint32 {
	return header & tagMask
}

func packHeader(typ int8, tag uint32) uint32 {
	return uint32(uint8(typ))<<24 | tag&tagMask
}
