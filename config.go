package mux

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the file form of the connection options.
//
//	frame_size       = 65536
//	max_frame_length = 16777216
//	buffer_size      = 32
//	heartbeat        = "15s"
type Config struct {
	FrameSize      int           `toml:"frame_size"`
	MaxFrameLength int           `toml:"max_frame_length"`
	BufferSize     int           `toml:"buffer_size"`
	Heartbeat      time.Duration `toml:"heartbeat"`
}

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}
	if err := checkUndecoded(md); err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}
	return cfg, cfg.validate()
}

// ParseConfig parses TOML config text.
func ParseConfig(data string) (Config, error) {
	var cfg Config
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := checkUndecoded(md); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

func checkUndecoded(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return errors.Errorf("unknown config keys: %s", strings.Join(names, ", "))
}

func (c Config) validate() error {
	switch {
	case c.FrameSize < 0:
		return errors.Errorf("frame_size %d is negative", c.FrameSize)
	case c.MaxFrameLength < 0:
		return errors.Errorf("max_frame_length %d is negative", c.MaxFrameLength)
	case c.MaxFrameLength > 0 && c.MaxFrameLength < FrameHeaderSize:
		return errors.Errorf("max_frame_length %d is below the frame header size", c.MaxFrameLength)
	case c.BufferSize < 0:
		return errors.Errorf("buffer_size %d is negative", c.BufferSize)
	case c.Heartbeat < 0:
		return errors.Errorf("heartbeat %s is negative", c.Heartbeat)
	}
	return nil
}

// Options converts the set fields of c into connection options. Zero
// fields keep the connection defaults.
func (c Config) Options() []Option {
	var opts []Option
	if c.FrameSize > 0 {
		opts = append(opts, FrameSizeOption(c.FrameSize))
	}
	if c.MaxFrameLength > 0 {
		opts = append(opts, MaxFrameLengthOption(c.MaxFrameLength))
	}
	if c.BufferSize > 0 {
		opts = append(opts, BufferSizeOption(c.BufferSize))
	}
	if c.Heartbeat > 0 {
		opts = append(opts, HeartbeatOption(c.Heartbeat))
	}
	return opts
}
