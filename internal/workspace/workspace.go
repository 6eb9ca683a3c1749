package workspace

import (
	"sync"

	"go.lsp.dev/uri"
)

// Kind classifies a workspace for projection and fallback decisions.
type Kind string

const (
	// KindHost is the primary workspace owned by the host environment.
	KindHost Kind = "host"
	// KindMiscellaneousFiles holds documents the server tracks but no
	// registered workspace knows about.
	KindMiscellaneousFiles Kind = "miscellaneous-files"
)

// SolutionChangeListener observes workspace solution transitions.
// Listeners run after the new solution is installed and outside the
// workspace lock, so ordering across concurrent mutations is
// best-effort.
type SolutionChangeListener func(old, new *Solution)

// Workspace is a live, versioned container of documents. Every
// mutation installs a fresh immutable Solution and bumps the version;
// solutions already handed out are never modified.
type Workspace struct {
	name string
	kind Kind

	mu        sync.Mutex
	current   *Solution
	listeners []SolutionChangeListener
}

// NewWorkspace creates an empty workspace at version zero.
func NewWorkspace(name string, kind Kind) *Workspace {
	return &Workspace{
		name:    name,
		kind:    kind,
		current: newSolution(name, kind, 0, nil),
	}
}

// Name returns the workspace name used in logs.
func (w *Workspace) Name() string { return w.name }

// Kind returns the workspace kind.
func (w *Workspace) Kind() Kind { return w.kind }

// CurrentSolution returns the latest installed solution.
func (w *Workspace) CurrentSolution() *Solution {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// OnSolutionChanged registers a listener for solution transitions.
func (w *Workspace) OnSolutionChanged(fn SolutionChangeListener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// AddDocument installs doc, replacing any document with the same URI.
func (w *Workspace) AddDocument(doc *Document) {
	w.mutate(func(documents map[uri.URI]*Document) {
		documents[doc.uri] = doc
	})
}

// RemoveDocument drops the document at u. Removing an absent document
// still advances the workspace version.
func (w *Workspace) RemoveDocument(u uri.URI) {
	w.mutate(func(documents map[uri.URI]*Document) {
		delete(documents, u)
	})
}

// SetDocumentText replaces the text of the document at u, simulating
// the host environment editing a file. Unknown URIs are ignored.
func (w *Workspace) SetDocumentText(u uri.URI, text string, version int32) {
	w.mutate(func(documents map[uri.URI]*Document) {
		if old, ok := documents[u]; ok {
			documents[u] = old.withText(text, version)
		}
	})
}

// mutate clones the current document set, applies fn, installs the
// result as a new solution one version ahead, and notifies listeners.
// Listeners are invoked after the lock is released so they may call
// back into the workspace.
func (w *Workspace) mutate(fn func(documents map[uri.URI]*Document)) {
	w.mu.Lock()
	old := w.current
	documents := old.cloneDocuments()
	fn(documents)
	current := newSolution(w.name, w.kind, old.version+1, documents)
	w.current = current
	listeners := make([]SolutionChangeListener, len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(old, current)
	}
}
