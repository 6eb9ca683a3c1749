package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

// ListenTCP serves LSP sessions over TCP connections on addr until ctx
// is cancelled. The wire format is the same Content-Length framed
// JSON-RPC used on stdio; every accepted connection runs its own
// server instance.
func ListenTCP(ctx context.Context, logger *zap.Logger, addr string, factory ServerFactory) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("tcp")

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	logger.Info("listening", zap.String("addr", addr))

	var sessions sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			drained := make(chan struct{})
			go func() {
				sessions.Wait()
				close(drained)
			}()
			select {
			case <-drained:
			case <-time.After(5 * time.Second):
				logger.Warn("sessions still draining at listener close")
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		srv, err := factory()
		if err != nil {
			logger.Error("creating server for connection failed", zap.Error(err))
			_ = conn.Close()
			continue
		}
		logger.Info("session connected", zap.String("remote", conn.RemoteAddr().String()))
		sessions.Add(1)
		go func(conn net.Conn) {
			defer sessions.Done()
			defer func() { _ = conn.Close() }()
			if err := srv.Serve(ctx, jsonrpc2.NewStream(conn)); err != nil {
				logger.Warn("session failed",
					zap.String("remote", conn.RemoteAddr().String()),
					zap.Error(err))
			}
			logger.Info("session disconnected", zap.String("remote", conn.RemoteAddr().String()))
		}(conn)
	}
}
