package server

import (
	"context"
	"errors"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"lsp-framework/internal/handler"
	"lsp-framework/internal/lsperr"
)

var errMissingParams = errors.New("params missing")

// builtinHandlers wires the lifecycle handshake and text document
// synchronization. All of them mutate server or tracking state, so
// they run serialized on the queue loop.
func (s *Server) builtinHandlers() []*handler.Handler {
	return []*handler.Handler{
		handler.NewRequest(
			handler.Info{Method: protocol.MethodInitialize, Mutating: true},
			s.handleInitialize),
		handler.NewNotificationNoParams(
			handler.Info{Method: protocol.MethodInitialized, Mutating: true},
			s.handleInitialized),
		handler.NewRequestNoParams(
			handler.Info{Method: protocol.MethodShutdown, Mutating: true},
			s.handleShutdown),
		handler.NewNotificationNoParams(
			handler.Info{Method: protocol.MethodExit, Mutating: true},
			s.handleExit),
		handler.NewNotification(
			handler.Info{Method: protocol.MethodTextDocumentDidOpen, Mutating: true},
			s.handleDidOpen),
		handler.NewNotification(
			handler.Info{Method: protocol.MethodTextDocumentDidChange, Mutating: true},
			s.handleDidChange),
		handler.NewNotification(
			handler.Info{Method: protocol.MethodTextDocumentDidClose, Mutating: true},
			s.handleDidClose),
	}
}

func (s *Server) handleInitialize(ctx context.Context, rctx *handler.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	s.stateMu.Lock()
	if s.initializeSeen {
		s.stateMu.Unlock()
		return nil, lsperr.NewContractError("initialize", "initialize requested twice")
	}
	s.initializeSeen = true
	if params != nil && params.ClientInfo != nil {
		s.clientName = params.ClientInfo.Name
		s.clientVersion = params.ClientInfo.Version
	}
	s.stateMu.Unlock()

	rctx.Logger.Info("initialize received",
		zap.String("client", s.clientName),
		zap.String("clientVersion", s.clientVersion))

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindFull,
			},
		},
		ServerInfo: &protocol.ServerInfo{
			Name:    s.name,
			Version: s.version,
		},
	}, nil
}

func (s *Server) handleInitialized(ctx context.Context, rctx *handler.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !s.initializeSeen {
		return lsperr.NewContractError("initialized", "initialized delivered before initialize")
	}
	if s.state != StateInitializing {
		return lsperr.NewContractError("initialized", "initialized delivered twice")
	}
	s.state = StateInitialized
	rctx.Logger.Info("server initialized")
	return nil
}

func (s *Server) handleShutdown(ctx context.Context, rctx *handler.Context) (interface{}, error) {
	return nil, rctx.Lifecycle.Shutdown()
}

func (s *Server) handleExit(ctx context.Context, rctx *handler.Context) error {
	return rctx.Lifecycle.Exit()
}

func (s *Server) handleDidOpen(ctx context.Context, rctx *handler.Context, params *protocol.DidOpenTextDocumentParams) error {
	if params == nil {
		return lsperr.NewInvalidParamsError(rctx.Method, errMissingParams)
	}
	td := params.TextDocument
	return s.manager.StartTracking(td.URI, string(td.LanguageID), td.Version, td.Text)
}

func (s *Server) handleDidChange(ctx context.Context, rctx *handler.Context, params *protocol.DidChangeTextDocumentParams) error {
	if params == nil {
		return lsperr.NewInvalidParamsError(rctx.Method, errMissingParams)
	}
	if len(params.ContentChanges) == 0 {
		rctx.Logger.Debug("didChange without content changes",
			zap.String("uri", string(params.TextDocument.URI)))
		return nil
	}
	// Full sync: the last change carries the complete text.
	text := params.ContentChanges[len(params.ContentChanges)-1].Text
	return s.manager.UpdateTrackedDocument(params.TextDocument.URI, params.TextDocument.Version, text)
}

func (s *Server) handleDidClose(ctx context.Context, rctx *handler.Context, params *protocol.DidCloseTextDocumentParams) error {
	if params == nil {
		return lsperr.NewInvalidParamsError(rctx.Method, errMissingParams)
	}
	return s.manager.StopTracking(params.TextDocument.URI)
}
