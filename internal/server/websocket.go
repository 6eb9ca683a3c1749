package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	encjson "github.com/segmentio/encoding/json"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

// wsStream adapts a websocket connection to the jsonrpc2 stream
// interface. Each websocket message carries one JSON-RPC message; no
// Content-Length framing is used on this transport.
type wsStream struct {
	conn *websocket.Conn
}

// NewWebSocketStream wraps an upgraded websocket connection.
func NewWebSocketStream(conn *websocket.Conn) jsonrpc2.Stream {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(ctx context.Context) (jsonrpc2.Message, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, 0, err
	}
	msg, err := jsonrpc2.DecodeMessage(data)
	if err != nil {
		return nil, 0, err
	}
	return msg, int64(len(data)), nil
}

func (s *wsStream) Write(ctx context.Context, msg jsonrpc2.Message) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := encjson.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshaling message: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}

// ServerFactory builds a fresh server per connection. LSP sessions are
// stateful, so websocket clients never share one.
type ServerFactory func() (*Server, error)

// ListenWebSocket serves LSP sessions over websocket connections on
// addr until ctx is cancelled. Every accepted connection runs its own
// server instance.
func ListenWebSocket(ctx context.Context, logger *zap.Logger, addr string, factory ServerFactory) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("websocket")

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// The transport is meant for local tooling; origin policy is
		// left to whatever sits in front of it.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed",
				zap.String("remote", r.RemoteAddr),
				zap.Error(err))
			return
		}
		srv, err := factory()
		if err != nil {
			logger.Error("creating server for connection failed", zap.Error(err))
			_ = conn.Close()
			return
		}
		logger.Info("session connected", zap.String("remote", r.RemoteAddr))
		go func() {
			defer func() { _ = conn.Close() }()
			if err := srv.Serve(ctx, NewWebSocketStream(conn)); err != nil {
				logger.Warn("session failed",
					zap.String("remote", r.RemoteAddr),
					zap.Error(err))
			}
			logger.Info("session disconnected", zap.String("remote", r.RemoteAddr))
		}()
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", zap.String("addr", addr))
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
