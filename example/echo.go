package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Zereker/mux"
)

// echo answers every request with its own payload.
type echo struct {
	frameSize int
}

func (e *echo) Handle(conn *mux.Conn, m mux.Message) error {
	switch m := m.(type) {
	case mux.Tinit:
		size, err := mux.NegotiateFrameSize(e.frameSize, m.Headers)
		if err != nil {
			return err
		}
		var headers []mux.Header
		if e.frameSize > 0 {
			headers = []mux.Header{mux.FrameSizeHeader(uint32(e.frameSize))}
		}
		if err = conn.WriteTimeout(mux.Rinit{Tag: m.Tag, Version: mux.LatestVersion, Headers: headers}, time.Second); err != nil {
			return err
		}
		if size > 0 {
			if err = conn.SetFrameSize(size); err != nil {
				slog.Warn("frame size not applied", "conn_id", conn.ID(), "error", err)
			}
		}
		slog.Info("session initialized", "conn_id", conn.ID(), "version", m.Version, "frame_size", size)
		return nil
	case mux.Tdispatch:
		return conn.WriteTimeout(mux.RdispatchOk{Tag: m.Tag, Contexts: m.Contexts, Reply: m.Req}, time.Second)
	case mux.Treq:
		return conn.WriteTimeout(mux.RreqOk{Tag: m.Tag, Reply: m.Req}, time.Second)
	case mux.Tping:
		return conn.WriteTimeout(mux.Rping{Tag: m.Tag}, time.Second)
	case mux.Tdrain:
		return conn.WriteTimeout(mux.Rdrain{Tag: m.Tag}, time.Second)
	case mux.Tdiscarded:
		slog.Debug("request discarded", "conn_id", conn.ID(), "tag", m.Which, "why", m.Why)
		return nil
	default:
		slog.Warn("unexpected message", "conn_id", conn.ID(), "type", mux.TypeName(m.Type()), "tag", m.FrameTag())
		return conn.WriteTimeout(mux.Rerr{Tag: m.FrameTag(), Err: "unexpected " + mux.TypeName(m.Type())}, time.Second)
	}
}

func main() {
	listen := pflag.String("addr", "127.0.0.1:12345", "address to listen on")
	frameSize := pflag.Int("frame-size", 64*1024, "fragment size advertised in Rinit, 0 disables fragmentation")
	configPath := pflag.String("config", "", "TOML file with connection options")
	pflag.Parse()

	var connOpts []mux.Option
	if *configPath != "" {
		cfg, err := mux.LoadConfig(*configPath)
		if err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		connOpts = cfg.Options()
	}

	addr, err := net.ResolveTCPAddr("tcp", *listen)
	if err != nil {
		panic(err)
	}

	server, err := mux.New(addr, mux.ServerConnOptions(connOpts...))
	if err != nil {
		slog.Error("failed to create server", "error", err)
		return
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down server...")
		cancel()
	}()

	slog.Info("server start", "addr", addr.String())
	if err := server.Serve(ctx, &echo{frameSize: *frameSize}); err != nil && ctx.Err() == nil {
		slog.Error("server error", "error", err)
	}
}
