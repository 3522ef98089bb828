package mux

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/pkg/errors"
)

// Handler serves the messages of every session accepted by a Server.
type Handler interface {
	// Handle is called for each message reassembled on conn, from conn's
	// read loop. Replies are written through conn. Returning an error
	// closes the session.
	Handle(conn *Conn, m Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(conn *Conn, m Message) error

// Handle calls f(conn, m).
func (f HandlerFunc) Handle(conn *Conn, m Message) error {
	return f(conn, m)
}

// Server accepts TCP connections and runs a mux session on each.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration
	connOpts        []Option

	mu          sync.Mutex
	shutdown    bool
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets how long the server keeps accepting
// after its context is canceled. Close bypasses the remaining timeout.
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerConnOptions sets the options applied to every accepted session.
// OnMessageOption is always overridden to route to the Handler.
func ServerConnOptions(opts ...Option) ServerOption {
	return func(s *Server) {
		s.connOpts = append(s.connOpts, opts...)
	}
}

// New creates a server bound to addr.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:    listener,
		logger:      slog.Default(),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections until ctx is canceled and runs each session on
// the goroutine pool. Sessions are canceled together with ctx.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	go func() {
		<-ctx.Done()

		if s.shutdownTimeout > 0 {
			s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
			select {
			case <-time.After(s.shutdownTimeout):
			case <-s.shutdownNow:
				s.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// unblocks Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return err
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)
		gopool.Go(func() {
			s.serveConn(ctx, conn, handler)
		})
	}
}

func (s *Server) serveConn(ctx context.Context, raw *net.TCPConn, handler Handler) {
	var conn *Conn
	opts := append([]Option{LoggerOption(s.logger)}, s.connOpts...)
	opts = append(opts, OnMessageOption(func(m Message) error {
		return handler.Handle(conn, m)
	}))

	conn, err := NewConn(raw, opts...)
	if err != nil {
		s.logger.Error("session setup failed", "remote_addr", raw.RemoteAddr(), "error", err)
		_ = raw.Close()
		return
	}
	_ = conn.Run(ctx)
}

// Close stops the server by closing the listener. It bypasses any pending
// shutdown timeout. Running sessions are not closed.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
