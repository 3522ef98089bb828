package mux

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(`
frame_size       = 65536
max_frame_length = 1048576
buffer_size      = 32
heartbeat        = "15s"
`)
	require.NoError(t, err)
	assert.Equal(t, Config{
		FrameSize:      65536,
		MaxFrameLength: 1 << 20,
		BufferSize:     32,
		Heartbeat:      15 * time.Second,
	}, cfg)

	var opts options
	for _, opt := range cfg.Options() {
		opt(&opts)
	}
	assert.Equal(t, 65536, opts.frameSize)
	assert.Equal(t, 1<<20, opts.maxFrameLength)
	assert.Equal(t, 32, opts.bufferSize)
	assert.Equal(t, 15*time.Second, opts.heartbeat)
}

func TestParseConfig_Empty(t *testing.T) {
	cfg, err := ParseConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Options())
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", `frame_sise = 10`},
		{"negative frame size", `frame_size = -1`},
		{"tiny max frame", `max_frame_length = 3`},
		{"negative buffer", `buffer_size = -4`},
		{"bad duration", `heartbeat = "soon"`},
		{"syntax", `frame_size = `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mux.toml")
	require.NoError(t, os.WriteFile(path, []byte("frame_size = 4096\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.FrameSize)
	assert.Len(t, cfg.Options(), 1)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
