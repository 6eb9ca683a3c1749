// Package queue implements the request execution queue: a single
// serializing loop that resolves request context in strict arrival
// order, runs mutating handlers one at a time, and fans read-only
// handlers out to concurrent goroutines.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Item is one queued request. Its completion signal resolves exactly
// once, whatever combination of execution, cancellation, and queue
// shutdown races to finish it first.
type Item struct {
	method  string
	raw     json.RawMessage
	created time.Time

	ctx    context.Context
	cancel context.CancelFunc

	once   sync.Once
	done   chan struct{}
	result interface{}
	err    error
}

func newItem(ctx context.Context, method string, raw json.RawMessage) *Item {
	ictx, cancel := context.WithCancel(ctx)
	return &Item{
		method:  method,
		raw:     raw,
		created: time.Now(),
		ctx:     ictx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Method returns the LSP method the item carries.
func (it *Item) Method() string { return it.method }

// Done is closed once the item has completed.
func (it *Item) Done() <-chan struct{} { return it.done }

// Wait blocks until the item completes or ctx is cancelled. The
// returned error is the handler fault, a cancellation, or a queue
// shutdown error; a nil error carries the handler result.
func (it *Item) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-it.done:
		return it.result, it.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel cancels this one item: its context is cancelled and its
// completion resolves as cancelled if nothing else resolved it first.
// The queue loop itself is unaffected; a handler already running
// observes the cancelled context.
func (it *Item) Cancel() {
	it.cancel()
	it.complete(nil, context.Canceled)
}

// complete resolves the completion signal. First caller wins; every
// later call is a no-op. The item context is released on completion.
func (it *Item) complete(result interface{}, err error) {
	it.once.Do(func() {
		it.result = result
		it.err = err
		close(it.done)
		it.cancel()
	})
}

func (it *Item) completed() bool {
	select {
	case <-it.done:
		return true
	default:
		return false
	}
}
