package mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagBits(t *testing.T) {
	assert.False(t, IsFragment(MaxTag))
	assert.True(t, IsFragment(SetMSB(7)))
	assert.Equal(t, uint32(7), StripMSB(SetMSB(7)))
	assert.Equal(t, uint32(7), StripMSB(7))
	assert.Equal(t, uint32(1<<23|7), SetMSB(7))
}

func TestValidTag(t *testing.T) {
	assert.True(t, ValidTag(MarkerTag))
	assert.True(t, ValidTag(PingTag))
	assert.True(t, ValidTag(MaxTag))
	assert.False(t, ValidTag(MaxTag+1))
	assert.False(t, ValidTag(1<<24))
}

func TestPackHeader(t *testing.T) {
	tests := []struct {
		typ    int8
		tag    uint32
		header uint32
	}{
		{TypeTping, PingTag, 0x41000001},
		{TypeRerr, 5, 0x80000005},
		{TypeBadRerr, MaxTag, 0x7f7fffff},
		{TypeTdispatch, SetMSB(2), 0x02800002},
	}
	for _, tt := range tests {
		header := packHeader(tt.typ, tt.tag)
		assert.Equal(t, tt.header, header)
		assert.Equal(t, tt.typ, extractType(header))
		assert.Equal(t, tt.tag, extractTag(header))
	}
}
