//go:build linux || darwin

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/cloudwego/netpoll"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/Zereker/mux"
)

type transportKey struct{}

type session struct {
	transport *mux.Transport
	frameSize int
}

func (s *session) reply(m mux.Message) (mux.Message, error) {
	switch m := m.(type) {
	case mux.Tinit:
		size, err := mux.NegotiateFrameSize(s.frameSize, m.Headers)
		if err != nil {
			return nil, err
		}
		if size > 0 {
			if err = s.transport.SetFrameSize(size); err != nil {
				return nil, err
			}
		}
		var headers []mux.Header
		if s.frameSize > 0 {
			headers = []mux.Header{mux.FrameSizeHeader(uint32(s.frameSize))}
		}
		return mux.Rinit{Tag: m.Tag, Version: mux.LatestVersion, Headers: headers}, nil
	case mux.Tdispatch:
		return mux.RdispatchOk{Tag: m.Tag, Contexts: m.Contexts, Reply: m.Req}, nil
	case mux.Treq:
		return mux.RreqOk{Tag: m.Tag, Reply: m.Req}, nil
	case mux.Tping:
		return mux.Rping{Tag: m.Tag}, nil
	case mux.Tdrain:
		return mux.Rdrain{Tag: m.Tag}, nil
	case mux.Tdiscarded:
		return nil, nil
	default:
		return mux.Rerr{Tag: m.FrameTag(), Err: "unexpected " + mux.TypeName(m.Type())}, nil
	}
}

// onRequest drains every complete message netpoll has buffered, then
// flushes the replies.
func onRequest(ctx context.Context, conn netpoll.Connection) error {
	s, ok := ctx.Value(transportKey{}).(*session)
	if !ok {
		return errors.New("no session for connection")
	}

	for {
		m, err := s.transport.Receive()
		var tagErr *mux.TagError
		switch {
		case errors.Is(err, mux.ErrWouldBlock):
			return s.flush(conn)
		case errors.As(err, &tagErr):
			slog.Warn("message dropped", "remote_addr", conn.RemoteAddr(), "error", err)
			continue
		case err != nil:
			slog.Error("closing connection", "remote_addr", conn.RemoteAddr(), "error", err)
			return conn.Close()
		}

		out, err := s.reply(m)
		if err != nil {
			return conn.Close()
		}
		if out == nil {
			continue
		}
		if err = s.transport.Send(out); err != nil {
			slog.Warn("reply rejected", "remote_addr", conn.RemoteAddr(), "error", err)
		}
	}
}

func (s *session) flush(conn netpoll.Connection) error {
	err := s.transport.Flush()
	if err == nil || errors.Is(err, mux.ErrWouldBlock) {
		return nil
	}
	slog.Error("write failed", "remote_addr", conn.RemoteAddr(), "error", err)
	return conn.Close()
}

func main() {
	listen := pflag.String("addr", ":9000", "address to listen on")
	frameSize := pflag.Int("frame-size", 64*1024, "fragment size advertised in Rinit, 0 disables fragmentation")
	maxFrame := pflag.Int("max-frame-length", mux.DefaultMaxFrameLength, "largest inbound frame accepted")
	pflag.Parse()

	listener, err := netpoll.CreateListener("tcp", *listen)
	if err != nil {
		slog.Error("failed to listen", "error", err)
		os.Exit(1)
	}

	eventLoop, err := netpoll.NewEventLoop(
		onRequest,
		netpoll.WithOnConnect(func(ctx context.Context, conn netpoll.Connection) context.Context {
			slog.Info("client connected", "remote_addr", conn.RemoteAddr())
			t := mux.NewTransport(mux.NewNetpollChannel(conn), mux.TransportMaxFrameLengthOption(*maxFrame))
			return context.WithValue(ctx, transportKey{}, &session{transport: t, frameSize: *frameSize})
		}),
		netpoll.WithOnDisconnect(func(ctx context.Context, conn netpoll.Connection) {
			slog.Info("client disconnected", "remote_addr", conn.RemoteAddr())
			if s, ok := ctx.Value(transportKey{}).(*session); ok {
				s.transport.Close()
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create event loop", "error", err)
		os.Exit(1)
	}

	slog.Info("server start", "addr", *listen)
	if err := eventLoop.Serve(listener); err != nil {
		slog.Error("server error", "error", err)
	}
}
