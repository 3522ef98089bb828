//go:build linux || darwin

package mux

import (
	"io"

	"github.com/cloudwego/netpoll"
)

// NetpollChannel adapts a netpoll connection to Channel. netpoll buffers
// input on its own poller, so Read never waits: an empty input buffer is
// reported as ErrWouldBlock.
type NetpollChannel struct {
	conn netpoll.Connection
}

// NewNetpollChannel returns a Channel on conn.
func NewNetpollChannel(conn netpoll.Connection) *NetpollChannel {
	return &NetpollChannel{conn: conn}
}

// Read copies buffered input into p.
func (c *NetpollChannel) Read(p []byte) (int, error) {
	reader := c.conn.Reader()
	n := reader.Len()
	if n == 0 {
		if !c.conn.IsActive() {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}
	if n > len(p) {
		n = len(p)
	}
	b, err := reader.Next(n)
	if err != nil {
		return 0, err
	}
	copy(p, b)
	return n, reader.Release()
}

// Write hands p to the netpoll writer and flushes it.
func (c *NetpollChannel) Write(p []byte) (int, error) {
	writer := c.conn.Writer()
	if _, err := writer.WriteBinary(p); err != nil {
		return 0, err
	}
	if err := writer.Flush(); err != nil {
		return 0, err
	}
	return len(p), nil
}
