package server

import (
	"context"
	"errors"
	"fmt"

	encjson "github.com/segmentio/encoding/json"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/pkg/xcontext"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"lsp-framework/internal/lsperr"
	"lsp-framework/internal/queue"
)

// requestCancelledCode is the LSP error code for a cancelled request.
const requestCancelledCode jsonrpc2.Code = -32800

// handle is the jsonrpc2 handler. The connection delivers messages one
// at a time, so enqueueing synchronously here preserves client arrival
// order; replies are sent from a goroutine once the item completes so
// the read loop is never blocked on handler execution.
func (s *Server) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	method := req.Method()

	// Cancellation is served out of band. Queueing it behind the very
	// work it is trying to cancel would defeat its purpose.
	if method == protocol.MethodCancelRequest {
		s.cancelRequest(req.Params())
		return nil
	}

	if gated, err := s.gate(method); gated {
		if _, ok := req.(*jsonrpc2.Call); ok {
			return reply(ctx, nil, err)
		}
		s.logger.Debug("dropping notification", zap.String("method", method), zap.Error(err))
		return nil
	}

	if !s.registry.Known(method) {
		if _, ok := req.(*jsonrpc2.Call); ok {
			return reply(ctx, nil, jsonrpc2.Errorf(jsonrpc2.MethodNotFound, "method not supported: %s", method))
		}
		s.logger.Debug("ignoring unsupported notification", zap.String("method", method))
		return nil
	}

	item := s.queue.Enqueue(ctx, method, req.Params())

	call, ok := req.(*jsonrpc2.Call)
	if !ok {
		// Notifications carry no reply; failures surface in the queue
		// telemetry instead.
		return nil
	}

	id := call.ID()
	s.trackInflight(id, item)
	// Values such as trace attachments survive, cancellation of the
	// read loop does not: a completed item always gets its reply.
	replyCtx := xcontext.Detach(ctx)
	go func() {
		defer s.untrackInflight(id)
		result, err := item.Wait(replyCtx)
		if rerr := reply(replyCtx, result, mapError(err)); rerr != nil {
			s.logger.Warn("failed to deliver reply",
				zap.String("method", method),
				zap.Error(rerr))
		}
	}()
	return nil
}

// gate enforces the lifecycle handshake: before initialize only the
// handshake and lifecycle methods are admitted, after shutdown only
// exit is, and after exit nothing is.
func (s *Server) gate(method string) (bool, error) {
	switch s.State() {
	case StateInitializing:
		switch method {
		case protocol.MethodInitialize, protocol.MethodInitialized, protocol.MethodExit, protocol.MethodShutdown:
			return false, nil
		}
		return true, jsonrpc2.NewError(jsonrpc2.ServerNotInitialized, "server not initialized")
	case StateShuttingDown:
		if method == protocol.MethodExit {
			return false, nil
		}
		return true, jsonrpc2.NewError(jsonrpc2.InvalidRequest, "server is shutting down")
	case StateExited:
		return true, jsonrpc2.NewError(jsonrpc2.InvalidRequest, lsperr.ErrServerExited.Error())
	default:
		return false, nil
	}
}

// cancelRequest resolves a $/cancelRequest notification against the
// in-flight map. Unknown ids are fine: the request may have completed
// a moment earlier.
func (s *Server) cancelRequest(raw []byte) {
	if len(raw) == 0 {
		return
	}
	var params protocol.CancelParams
	if err := encjson.Unmarshal(raw, &params); err != nil {
		s.logger.Debug("malformed cancel request", zap.Error(err))
		return
	}

	var id jsonrpc2.ID
	switch v := params.ID.(type) {
	case float64:
		id = jsonrpc2.NewNumberID(int32(v))
	case int64:
		id = jsonrpc2.NewNumberID(int32(v))
	case string:
		id = jsonrpc2.NewStringID(v)
	default:
		s.logger.Debug("cancel request with unsupported id type")
		return
	}

	s.inflightMu.Lock()
	item, ok := s.inflight[id]
	s.inflightMu.Unlock()
	if !ok {
		s.logger.Debug("cancel request for unknown id", zap.String("id", fmt.Sprint(id)))
		return
	}
	s.logger.Debug("cancelling request",
		zap.String("id", fmt.Sprint(id)),
		zap.String("method", item.Method()))
	item.Cancel()
}

func (s *Server) trackInflight(id jsonrpc2.ID, item *queue.Item) {
	s.inflightMu.Lock()
	s.inflight[id] = item
	s.inflightMu.Unlock()
}

func (s *Server) untrackInflight(id jsonrpc2.ID) {
	s.inflightMu.Lock()
	delete(s.inflight, id)
	s.inflightMu.Unlock()
}

// mapError translates queue and handler errors into wire errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return jsonrpc2.NewError(requestCancelledCode, "request cancelled")
	case errors.Is(err, lsperr.ErrQueueNotAccepting),
		errors.Is(err, lsperr.ErrQueueShutDown),
		errors.Is(err, lsperr.ErrNotShutDown),
		errors.Is(err, lsperr.ErrServerExited):
		return jsonrpc2.Errorf(jsonrpc2.InvalidRequest, "%s", err)
	case lsperr.IsMethodNotFoundError(err):
		return jsonrpc2.Errorf(jsonrpc2.MethodNotFound, "%s", err)
	case lsperr.IsInvalidParamsError(err):
		return jsonrpc2.Errorf(jsonrpc2.InvalidParams, "%s", err)
	case lsperr.IsContractError(err):
		return jsonrpc2.Errorf(jsonrpc2.InvalidRequest, "%s", err)
	default:
		var wire *jsonrpc2.Error
		if errors.As(err, &wire) {
			return wire
		}
		return jsonrpc2.Errorf(jsonrpc2.InternalError, "%s", err)
	}
}
