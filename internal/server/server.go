// Package server binds the request execution queue, the handler
// registry, and the workspace manager to a JSON-RPC connection and
// drives the LSP server lifecycle.
package server

import (
	"context"
	"sync"
	"sync/atomic"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"

	"lsp-framework/internal/config"
	"lsp-framework/internal/handler"
	"lsp-framework/internal/lsperr"
	"lsp-framework/internal/queue"
	"lsp-framework/internal/version"
	"lsp-framework/internal/workspace"
)

// LifecycleState is the server lifecycle state.
type LifecycleState int32

const (
	// StateInitializing covers the window between construction and the
	// client's initialized notification.
	StateInitializing LifecycleState = iota
	// StateInitialized is normal operation.
	StateInitialized
	// StateShuttingDown is entered by the shutdown request or a
	// transport disconnect; both converge on the same routine.
	StateShuttingDown
	// StateExited is terminal.
	StateExited
)

func (s LifecycleState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateShuttingDown:
		return "shutting-down"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Server is one LSP session: a lifecycle state machine in front of the
// request execution queue. Create one per connection.
type Server struct {
	logger   *zap.Logger
	name     string
	version  string
	manager  *workspace.Manager
	registry *handler.Registry
	queue    *queue.Queue

	extraHandlers []*handler.Handler

	stateMu        sync.Mutex
	state          LifecycleState
	initializeSeen bool
	clientName     string
	clientVersion  string

	shutdownOnce      sync.Once
	shutdownRequested atomic.Bool

	exitOnce sync.Once
	exited   chan struct{}

	inflightMu sync.Mutex
	inflight   map[jsonrpc2.ID]*queue.Item
}

// Option customizes a server at construction.
type Option func(*Server) error

// WithHandlers registers additional method handlers next to the
// built-in lifecycle and document synchronization handlers.
func WithHandlers(handlers ...*handler.Handler) Option {
	return func(s *Server) error {
		s.extraHandlers = append(s.extraHandlers, handlers...)
		return nil
	}
}

// WithWorkspaces registers workspaces with the manager, in lookup
// order.
func WithWorkspaces(workspaces ...*workspace.Workspace) Option {
	return func(s *Server) error {
		for _, w := range workspaces {
			s.manager.RegisterWorkspace(w)
		}
		return nil
	}
}

// WithInfo overrides the name and version reported in the initialize
// result.
func WithInfo(name, ver string) Option {
	return func(s *Server) error {
		s.name = name
		s.version = ver
		return nil
	}
}

// New builds a server from the configured language table and the given
// options. Handler registration problems are reported here, before any
// request is accepted.
func New(logger *zap.Logger, cfg *config.Config, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}
	s := &Server{
		logger:   logger.Named("server"),
		name:     "lsp-framework",
		version:  version.Version,
		manager:  workspace.NewManager(logger, cfg.Languages),
		exited:   make(chan struct{}),
		inflight: make(map[jsonrpc2.ID]*queue.Item),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	registry, err := handler.NewRegistry(append(s.builtinHandlers(), s.extraHandlers...)...)
	if err != nil {
		return nil, err
	}
	s.registry = registry
	s.queue = queue.New(logger, registry, s.manager, s)
	return s, nil
}

// Manager exposes the workspace manager, mainly for wiring host
// workspaces and for tests.
func (s *Server) Manager() *workspace.Manager { return s.manager }

// Queue exposes the request execution queue.
func (s *Server) Queue() *queue.Queue { return s.queue }

// State returns the lifecycle state.
func (s *Server) State() LifecycleState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Serve runs the session on stream until the client exits or the
// transport drops. It starts the queue, dispatches messages in arrival
// order, and tears everything down before returning.
func (s *Server) Serve(ctx context.Context, stream jsonrpc2.Stream) error {
	if err := s.queue.Start(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn := jsonrpc2.NewConn(stream)
	conn.Go(ctx, s.handle)
	s.logger.Info("session started")

	select {
	case <-conn.Done():
		// The transport dropped without an exit notification; converge
		// on the same shutdown routine the request would have run.
		s.logger.Warn("transport closed before exit, shutting down")
		_ = s.Shutdown()
		_ = s.Exit()
		<-s.exited
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
		_ = s.Shutdown()
		_ = s.Exit()
		<-s.exited
		_ = conn.Close()
		<-conn.Done()
	case <-s.exited:
		_ = conn.Close()
		<-conn.Done()
	}

	s.queue.Shutdown()
	<-s.queue.Done()
	if err := conn.Err(); err != nil {
		s.logger.Debug("connection closed", zap.Error(err))
	}
	s.logger.Info("session ended")
	return nil
}

// Shutdown is the idempotent shutdown routine. The explicit shutdown
// request and the transport-disconnect path both land here; the
// cleanup body runs exactly once no matter how many callers race.
// Queue teardown is deliberately left to Exit: the exit notification
// still has to travel through the queue after shutdown.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownRequested.Store(true)
		s.stateMu.Lock()
		s.state = StateShuttingDown
		s.stateMu.Unlock()
		s.logger.Info("shutdown requested")
	})
	return nil
}

// Exit terminates the session: it drains the request queue and signals
// the transport loop to release the connection. Calling Exit before
// Shutdown is a protocol violation: it fails with ErrNotShutDown and
// performs no teardown.
func (s *Server) Exit() error {
	if !s.shutdownRequested.Load() {
		return lsperr.ErrNotShutDown
	}
	s.exitOnce.Do(func() {
		s.stateMu.Lock()
		s.state = StateExited
		s.stateMu.Unlock()
		s.queue.Shutdown()
		close(s.exited)
		s.logger.Info("exit requested")
	})
	return nil
}

// WaitForExit blocks until teardown completes. Exit is a notification
// with no reply, so callers that need to know when the session is gone
// wait on this signal instead. It fails if shutdown was never
// requested.
func (s *Server) WaitForExit(ctx context.Context) error {
	if !s.shutdownRequested.Load() {
		return lsperr.ErrNotShutDown
	}
	select {
	case <-s.exited:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-s.queue.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
