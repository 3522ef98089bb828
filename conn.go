package mux

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrInvalidOnMessage is returned when no message handler is provided.
	ErrInvalidOnMessage = errors.New("mux: invalid on message callback")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("mux: connection closed")
	// ErrBufferFull is returned when the send buffer cannot accept more messages.
	// Use WriteBlocking or WriteTimeout to wait for buffer space instead.
	ErrBufferFull = errors.New("mux: send buffer full")
)

// Default configuration values.
const (
	defaultBufferSize = 16
	defaultHeartbeat  = 30 * time.Second
)

// Conn is a mux session over a blocking net.Conn.
//
// Run starts a read loop, which owns inbound reassembly, and a write loop,
// which owns the outbound queue. Messages written while another is being
// fragmented are interleaved with it fragment by fragment.
type Conn struct {
	rawConn net.Conn
	reader  *bufio.Reader
	framer  *Framer
	logger  Logger
	id      string

	opts options

	sendMsg chan []byte
	closed  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewConn wraps conn. It returns ErrInvalidOnMessage if no message
// handler is configured.
func NewConn(conn net.Conn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return &Conn{
		rawConn: conn,
		reader:  bufio.NewReader(conn),
		framer:  NewFramer(opts.frameSize),
		logger:  opts.logger,
		id:      uuid.NewString(),
		opts:    opts,
		sendMsg: make(chan []byte, opts.bufferSize),
	}, nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}
	if opts.maxFrameLength < FrameHeaderSize {
		opts.maxFrameLength = DefaultMaxFrameLength
	}
	if opts.heartbeat <= 0 {
		opts.heartbeat = defaultHeartbeat
	}
	if opts.onError == nil {
		opts.onError = defaultOnError
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
	return nil
}

// Run starts the read and write loops and blocks until either fails or
// ctx is canceled. The connection is closed when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Info("connection established", "conn_id", c.id, "addr", c.Addr())
	c.logger.Debug("connection options", "conn_id", c.id,
		"buffer_size", c.opts.bufferSize,
		"max_frame_length", c.opts.maxFrameLength,
		"frame_size", c.framer.FrameSize(),
		"heartbeat", c.opts.heartbeat)

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	// unblocks the read loop, which sits in Read otherwise
	group.Go(func() error {
		<-child.Done()
		c.closeConn()
		return nil
	})

	err := group.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "conn_id", c.id, "addr", c.Addr(), "error", err)
	} else {
		c.logger.Info("connection closed", "conn_id", c.id, "addr", c.Addr())
	}

	return err
}

// Close closes the connection. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// ID returns the identifier used for this connection in log lines.
func (c *Conn) ID() string {
	return c.id
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// SetFrameSize fixes the outbound fragment size once the session
// handshake has agreed on one. It fails with ErrFrameSizeFixed if the size
// is already set.
func (c *Conn) SetFrameSize(size int) error {
	return c.framer.SetFrameSize(size)
}

// Write queues m without blocking.
//
// Returns:
//   - nil: message was queued (not yet sent)
//   - ErrBufferFull: send buffer is full, message was NOT queued
//   - ErrConnectionClosed: connection is closed
//   - ErrInvalidTag or ErrFieldTooLong: m cannot be encoded
func (c *Conn) Write(m Message) error {
	data, err := c.encode(m)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteBlocking queues m, waiting for buffer space until ctx is done.
func (c *Conn) WriteBlocking(ctx context.Context, m Message) error {
	data, err := c.encode(m)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteTimeout queues m, waiting up to timeout for buffer space. It
// returns ErrBufferFull when the timeout expires.
func (c *Conn) WriteTimeout(m Message, timeout time.Duration) error {
	data, err := c.encode(m)
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.sendMsg <- data:
		return nil
	case <-timer.C:
		return ErrBufferFull
	}
}

// Ping queues the default ping on PingTag.
func (c *Conn) Ping() error {
	return c.Write(Tping{Tag: PingTag})
}

func (c *Conn) encode(m Message) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	if _, ok := m.(Fragment); ok {
		return nil, errors.Wrap(ErrProtocolViolation, "fragments are produced by the framer")
	}
	return Encode(m)
}

// readLoop reads frames, feeds them to the framer and hands every
// completed message to the message handler.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.heartbeat * 2))

		typ, tag, body, err := c.readFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Debug("read error", "conn_id", c.id, "error", err)
			return err
		}

		message, done, err := c.framer.Receive(typ, tag, body)
		if err != nil {
			c.logger.Debug("frame rejected", "conn_id", c.id, "error", err)
			if c.opts.onError(err) == Disconnect {
				return err
			}
			continue
		}
		if !done {
			continue
		}

		c.logger.Debug("message received", append([]any{"conn_id", c.id}, messageAttrs(message)...)...)
		if err = c.opts.onMessage(message); err != nil {
			return err
		}
	}
}

// readFrame reads one length-prefixed frame.
func (c *Conn) readFrame() (int8, uint32, []byte, error) {
	var prefix [lengthPrefixSize + FrameHeaderSize]byte
	if _, err := io.ReadFull(c.reader, prefix[:lengthPrefixSize]); err != nil {
		return 0, 0, nil, &IOError{Op: "read", Err: err}
	}
	n := binary.BigEndian.Uint32(prefix[:lengthPrefixSize])
	if n < FrameHeaderSize || uint64(n) > uint64(c.opts.maxFrameLength) {
		return 0, 0, nil, errors.Wrapf(ErrBadFrame, "length %d", n)
	}
	if _, err := io.ReadFull(c.reader, prefix[lengthPrefixSize:]); err != nil {
		return 0, 0, nil, &IOError{Op: "read", Err: err}
	}
	header := binary.BigEndian.Uint32(prefix[lengthPrefixSize:])
	body := make([]byte, n-FrameHeaderSize)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return 0, 0, nil, &IOError{Op: "read", Err: err}
	}
	return extractType(header), extractTag(header), body, nil
}

// writeLoop moves queued messages into the framer and writes its frames.
// Every message already waiting is absorbed before each frame so that a
// long message shares the stream with those that arrive during it.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if c.framer.Queued() == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case data := <-c.sendMsg:
				c.framer.enqueueEncoded(data)
			}
		}
		c.absorb()

		frame, ok := c.framer.Next()
		if !ok {
			continue
		}
		if err := c.write(frame); err != nil {
			return err
		}
	}
}

func (c *Conn) absorb() {
	for {
		select {
		case data := <-c.sendMsg:
			c.framer.enqueueEncoded(data)
		default:
			return
		}
	}
}

// write sends one frame with a deadline. A failed write leaves the stream
// in an unknown state, so it always ends the connection.
func (c *Conn) write(frame []byte) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.heartbeat * 2))

	if _, err := c.rawConn.Write(frame); err != nil {
		c.logger.Debug("write error", "conn_id", c.id, "error", err)
		return &IOError{Op: "write", Err: err}
	}

	return nil
}

// closeConn marks the connection as closed and closes the underlying connection.
func (c *Conn) closeConn() {
	c.closed.Store(true)
	c.rawConn.Close()
}
