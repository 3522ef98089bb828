package mux

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHandler implements Handler interface for testing
type mockHandler struct {
	mu       sync.Mutex
	conns    map[*Conn]bool
	handleCh chan Message
}

func newMockHandler() *mockHandler {
	return &mockHandler{
		conns:    make(map[*Conn]bool),
		handleCh: make(chan Message, 10),
	}
}

// Handle records the message and answers requests with their payload.
func (h *mockHandler) Handle(conn *Conn, m Message) error {
	h.mu.Lock()
	h.conns[conn] = true
	h.mu.Unlock()

	select {
	case h.handleCh <- m:
	default:
	}

	if req, ok := m.(Treq); ok {
		return conn.Write(RreqOk{Tag: req.Tag, Reply: req.Req})
	}
	return nil
}

func (h *mockHandler) connCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func TestNew(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := New(addr)
	require.NoError(t, err)
	defer server.Close()

	assert.NotNil(t, server.listener)
}

func TestNew_InvalidAddr(t *testing.T) {
	// First create a listener to occupy a port
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server1, err := New(addr)
	require.NoError(t, err)
	defer server1.Close()

	// Try to listen on the same port - should fail
	occupiedAddr := server1.listener.Addr().(*net.TCPAddr)
	_, err = New(occupiedAddr)
	assert.Error(t, err, "expected error for occupied port")
}

func TestServer_Options(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	logger := &mockLogger{}
	server, err := New(addr,
		ServerLoggerOption(logger),
		ServerShutdownTimeoutOption(time.Second),
		ServerConnOptions(FrameSizeOption(64)),
		ServerConnOptions(BufferSizeOption(4)),
	)
	require.NoError(t, err)
	defer server.Close()

	assert.Same(t, logger, server.logger)
	assert.Equal(t, time.Second, server.shutdownTimeout)
	assert.Len(t, server.connOpts, 2)
}

func TestServer_Close(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := New(addr)
	require.NoError(t, err)

	assert.NoError(t, server.Close())

	// Verify listener is closed by trying to accept
	_, err = server.listener.AcceptTCP()
	assert.Error(t, err, "expected error after close")
}

func TestServer_Addr(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := New(addr)
	require.NoError(t, err)
	defer server.Close()

	assert.NotNil(t, server.Addr())
}

func TestServer_Serve(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := New(addr, ServerConnOptions(FrameSizeOption(64)))
	require.NoError(t, err)

	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())

	// Start serving in goroutine
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()

	clientConn, err := net.DialTCP("tcp", nil, server.listener.Addr().(*net.TCPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	req := Treq{Tag: 5, Req: make([]byte, 200)}
	writeMessages(t, clientConn, 0, req)

	select {
	case m := <-handler.handleCh:
		assert.Equal(t, req, m)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for handler")
	}

	// the reply is cut to the session's frame size
	_ = clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	reply, frames := readMessage(t, clientConn, NewFramer(0))
	assert.Len(t, frames, 4)
	assert.Equal(t, RreqOk{Tag: 5, Reply: req.Req}, reply)

	// Cancel context to stop server
	cancel()

	// Wait for Serve to return
	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestServer_Serve_MultipleConnections(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := New(addr)
	require.NoError(t, err)

	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start serving in goroutine
	go server.Serve(ctx, handler)

	// Connect multiple clients
	numClients := 5
	clients := make([]*net.TCPConn, numClients)
	for i := 0; i < numClients; i++ {
		clientConn, err := net.DialTCP("tcp", nil, server.listener.Addr().(*net.TCPAddr))
		require.NoError(t, err, "client %d dial", i)
		clients[i] = clientConn
		writeMessages(t, clientConn, 0, Tping{Tag: uint32(i + 2)})
	}

	// Wait for all handlers to receive a message
	for i := 0; i < numClients; i++ {
		select {
		case m := <-handler.handleCh:
			assert.IsType(t, Tping{}, m, "handler %d", i)
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for handler %d", i)
		}
	}

	assert.Equal(t, numClients, handler.connCount())

	// Close all client connections
	for _, conn := range clients {
		conn.Close()
	}
}

func TestServer_Serve_ContextCanceled(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := New(addr)
	require.NoError(t, err)

	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())

	// Start serving in goroutine
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()

	// Give server time to start
	time.Sleep(time.Millisecond * 50)

	// Cancel context
	cancel()

	// Wait for Serve to return
	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestServer_CloseBypassesShutdownTimeout(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := New(addr, ServerShutdownTimeoutOption(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, HandlerFunc(func(*Conn, Message) error { return nil }))
	}()

	time.Sleep(time.Millisecond * 50)
	cancel()
	time.Sleep(time.Millisecond * 50)
	server.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}
