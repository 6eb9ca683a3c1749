package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"lsp-framework/internal/handler"
	"lsp-framework/internal/lsperr"
	"lsp-framework/internal/workspace"
)

// State is the queue lifecycle state.
type State int32

const (
	// StateNotStarted accepts work but does not process it yet. Start
	// is separate from construction so callers can finish wiring
	// before early-arriving requests are dequeued.
	StateNotStarted State = iota
	// StateAccepting is normal operation.
	StateAccepting
	// StateDraining stops intake; enqueued work still completes.
	StateDraining
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateAccepting:
		return "accepting"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Queue is the request execution queue. A single background loop
// resolves each item's context in strict arrival order, executes
// mutating handlers inline, and fans non-mutating handlers out to
// goroutines. The serialized resolution phase is what makes reads
// observe every mutation enqueued before them.
type Queue struct {
	logger    *zap.Logger
	registry  *handler.Registry
	manager   *workspace.Manager
	lifecycle handler.Lifecycle

	mu      sync.Mutex
	cond    *sync.Cond
	state   State
	pending []*Item

	wg   sync.WaitGroup
	done chan struct{}
}

// New creates a queue in StateNotStarted.
func New(logger *zap.Logger, registry *handler.Registry, manager *workspace.Manager, lifecycle handler.Lifecycle) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		logger:    logger.Named("queue"),
		registry:  registry,
		manager:   manager,
		lifecycle: lifecycle,
		done:      make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// State returns the current lifecycle state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Done is closed once the queue is fully stopped: the loop has exited
// and every in-flight read has finished.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Start launches the background loop. It must be called exactly once,
// after all subscribers and handlers are wired.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != StateNotStarted {
		return lsperr.ErrQueueAlreadyStarted
	}
	q.state = StateAccepting
	go q.run()
	return nil
}

// Enqueue submits a request for execution and returns its item. Before
// Start the item is parked until the loop begins. Once the queue is
// draining or stopped the item is returned pre-failed with
// ErrQueueNotAccepting; it is never silently dropped and never nil.
func (q *Queue) Enqueue(ctx context.Context, method string, raw json.RawMessage) *Item {
	it := newItem(ctx, method, raw)
	q.mu.Lock()
	switch q.state {
	case StateNotStarted, StateAccepting:
		q.pending = append(q.pending, it)
		q.cond.Signal()
		q.mu.Unlock()
		q.logger.Debug("request enqueued", zap.String("method", method))
	default:
		q.mu.Unlock()
		it.complete(nil, lsperr.ErrQueueNotAccepting)
		q.logger.Debug("request rejected, queue not accepting work",
			zap.String("method", method),
			zap.Stringer("state", q.State()))
	}
	return it
}

// Shutdown moves the queue out of intake. Work already enqueued drains
// to completion; Done reports full stop. Calling Shutdown more than
// once is a no-op. A queue that was never started completes its parked
// items with ErrQueueShutDown instead of leaving them hanging.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	switch q.state {
	case StateNotStarted:
		parked := q.pending
		q.pending = nil
		q.state = StateStopped
		q.mu.Unlock()
		for _, it := range parked {
			it.complete(nil, lsperr.ErrQueueShutDown)
		}
		close(q.done)
		q.logger.Info("queue stopped before start", zap.Int("parked", len(parked)))
	case StateAccepting:
		q.state = StateDraining
		q.cond.Broadcast()
		q.mu.Unlock()
		q.logger.Info("queue draining")
	default:
		q.mu.Unlock()
	}
}

// run is the single serializing loop.
func (q *Queue) run() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && q.state == StateAccepting {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			break
		}
		it := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if fatal := q.process(it); fatal != nil {
			q.failPending(fatal)
			break
		}
	}

	q.wg.Wait()
	q.mu.Lock()
	q.state = StateStopped
	leftover := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, it := range leftover {
		it.complete(nil, lsperr.ErrQueueShutDown)
	}
	close(q.done)
	q.logger.Info("queue stopped")
}

// failPending completes the not-yet-processed items with the fatal
// resolution error and closes intake. Called from the loop only.
func (q *Queue) failPending(fatal error) {
	q.mu.Lock()
	if q.state == StateAccepting {
		q.state = StateDraining
	}
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	q.logger.Error("fatal resolution error, failing queued requests",
		zap.Error(fatal),
		zap.Int("failed", len(pending)))
	for _, it := range pending {
		it.complete(nil, fatal)
	}
}

// process runs the serialized resolution phase for one item and
// dispatches execution. A non-nil return is fatal to the queue.
func (q *Queue) process(it *Item) error {
	if it.completed() {
		q.logger.Debug("skipping completed request", zap.String("method", it.method))
		return nil
	}
	if err := it.ctx.Err(); err != nil {
		it.complete(nil, err)
		return nil
	}

	entry, ok := q.registry.Default(it.method)
	if !ok {
		it.complete(nil, lsperr.NewMethodNotFoundError(it.method))
		return nil
	}

	var docURI uri.URI
	if u, ok := entry.DocumentURI(it.raw); ok {
		docURI = u
	}
	language := handler.LanguageDefault
	if docURI != "" {
		if detected := q.manager.LanguageFor(docURI); detected != "" {
			language = detected
		}
	}

	h, err := q.registry.Resolve(it.method, language)
	if err != nil {
		it.complete(nil, err)
		if lsperr.IsMethodNotFoundError(err) {
			return nil
		}
		// Known method without a usable handler is a wiring bug, not a
		// bad request. Nothing behind this item can be trusted to
		// resolve either.
		return err
	}

	rctx := &handler.Context{
		Method:    it.method,
		Language:  language,
		Lifecycle: q.lifecycle,
		Logger:    q.logger.With(zap.String("method", it.method)),
	}
	if docURI != "" {
		doc, sol := q.manager.GetLspDocument(docURI)
		rctx.URI = docURI
		rctx.Document = doc
		rctx.Solution = sol
	} else if h.Info().RequiresSolution {
		if sol, ok := q.manager.TryGetHostLspSolution(); ok {
			rctx.Solution = sol
		}
	}

	q.logger.Debug("request resolved",
		zap.String("method", it.method),
		zap.String("language", language),
		zap.Bool("mutating", h.Mutating()),
		zap.Stringer("kind", h.Kind()))

	if h.Mutating() {
		q.execute(it, h, rctx)
	} else {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.execute(it, h, rctx)
		}()
	}
	return nil
}

// execute invokes the handler and resolves the item. Panics and errors
// stay local to the item; the loop and the other items are unaffected.
func (q *Queue) execute(it *Item, h *handler.Handler, rctx *handler.Context) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("handler panic",
				zap.String("method", it.method),
				zap.Any("panic", r),
				zap.Stack("stack"))
			it.complete(nil, fmt.Errorf("handler for %s panicked: %v", it.method, r))
		}
	}()

	if it.completed() {
		return
	}
	result, err := h.Invoke(it.ctx, rctx, it.raw)
	if err != nil {
		q.logger.Debug("request failed",
			zap.String("method", it.method),
			zap.Duration("elapsed", time.Since(it.created)),
			zap.Error(err))
		it.complete(nil, err)
		return
	}
	q.logger.Debug("request completed",
		zap.String("method", it.method),
		zap.Duration("elapsed", time.Since(it.created)))
	it.complete(result, err)
}
