package handler

import (
	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"lsp-framework/internal/workspace"
)

// Lifecycle is the slice of the server that built-in handlers may
// drive. Keeping it an interface lets handlers live below the server
// package without importing it.
type Lifecycle interface {
	// Shutdown moves the server into its shutting-down state. Safe to
	// call more than once.
	Shutdown() error
	// Exit terminates the server. Calling Exit before Shutdown is a
	// protocol violation and fails.
	Exit() error
}

// Context carries everything resolved for one request before its
// handler runs: identity, language, and the document and solution
// snapshots pinned during the queue's resolution phase. Handlers must
// treat Document and Solution as immutable.
type Context struct {
	// Method is the LSP method being served.
	Method string
	// Language detected for the request's document. LanguageDefault
	// for requests that carry no document or an unknown extension.
	Language string
	// URI of the document the request addresses; empty for requests
	// that carry no document.
	URI uri.URI
	// Document pinned for the request, nil when the request has no
	// document or the document is unknown.
	Document *workspace.Document
	// Solution the document belongs to (or the host solution for
	// solution-level requests). Nil when unresolved.
	Solution *workspace.Solution
	// Lifecycle gives built-in handlers access to server shutdown.
	Lifecycle Lifecycle
	// Logger is scoped to the request's method.
	Logger *zap.Logger
}
