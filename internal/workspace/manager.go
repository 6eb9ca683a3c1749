package workspace

import (
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"lsp-framework/internal/lsperr"
)

// TrackedDocument is the authoritative text the client has synced for
// an open document. It is the source of truth for request handling;
// workspace solutions are reconciled against it.
type TrackedDocument struct {
	URI        uri.URI
	LanguageID string
	Version    int32
	Text       string
	Checksum   Checksum
}

// trackedSet is an immutable snapshot of all tracked documents. The
// manager swaps whole snapshots so readers never need a lock.
type trackedSet struct {
	docs map[uri.URI]TrackedDocument
}

func (s *trackedSet) with(td TrackedDocument) *trackedSet {
	docs := make(map[uri.URI]TrackedDocument, len(s.docs)+1)
	for k, v := range s.docs {
		docs[k] = v
	}
	docs[td.URI] = td
	return &trackedSet{docs: docs}
}

func (s *trackedSet) without(u uri.URI) *trackedSet {
	docs := make(map[uri.URI]TrackedDocument, len(s.docs))
	for k, v := range s.docs {
		if k != u {
			docs[k] = v
		}
	}
	return &trackedSet{docs: docs}
}

// projection caches the reconciled solution for one workspace version.
// Entries are only valid for the tracked set they were computed
// against; every tracked-set mutation clears the whole cache.
type projection struct {
	version  int64
	solution *Solution
}

// Manager reconciles client-synced document text with workspace
// solutions. Tracked text always wins: any solution handed to a
// request handler reflects every tracked document that the solution's
// workspace contains.
//
// Lock order is Manager.mu before Workspace.mu. Workspace listeners
// run outside the workspace lock, so the change subscription below may
// take Manager.mu safely.
type Manager struct {
	logger *zap.Logger

	// byExtension maps lowercase file extensions to language IDs for
	// documents that are not tracked.
	byExtension map[string]string

	// tracked is copy-on-write; reads are lock-free, swaps happen
	// under mu so they stay atomic with cache invalidation.
	tracked atomic.Pointer[trackedSet]

	// mu guards everything below: the workspace list, the projection
	// cache, and the previous-solution snapshots. Keeping one guard
	// for all projection state keeps reconcile-and-cache a single
	// atomic step.
	mu          sync.Mutex
	workspaces  []*Workspace
	misc        *Workspace
	projections map[*Workspace]projection
	previous    map[*Workspace]*Solution
}

// NewManager creates a manager with no registered workspaces. The
// languages table maps language IDs to file extensions, as configured.
func NewManager(logger *zap.Logger, languages map[string][]string) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	byExtension := make(map[string]string, len(languages))
	for lang, exts := range languages {
		for _, ext := range exts {
			byExtension[strings.ToLower(ext)] = lang
		}
	}
	m := &Manager{
		logger:      logger.Named("workspace"),
		byExtension: byExtension,
		misc:        NewWorkspace("miscellaneous-files", KindMiscellaneousFiles),
		projections: make(map[*Workspace]projection),
		previous:    make(map[*Workspace]*Solution),
	}
	m.tracked.Store(&trackedSet{docs: map[uri.URI]TrackedDocument{}})
	return m
}

// RegisterWorkspace subscribes to a workspace's solution changes and
// adds it to the projection order. Workspaces are consulted in
// registration order during document lookup.
func (m *Manager) RegisterWorkspace(w *Workspace) {
	m.mu.Lock()
	m.workspaces = append(m.workspaces, w)
	m.mu.Unlock()

	w.OnSolutionChanged(func(old, new *Solution) {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Remember the pre-change solution. If tracked text lags a
		// workspace that already moved on, reconciliation can still
		// serve the older matching snapshot instead of forking.
		m.previous[w] = old
	})
}

// StartTracking records the text of a newly opened document. Tracking
// a URI that is already tracked is a client protocol violation.
func (m *Manager) StartTracking(u uri.URI, languageID string, version int32, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.tracked.Load()
	if _, ok := set.docs[u]; ok {
		return lsperr.NewContractError("StartTracking", "document %s is already tracked", u)
	}
	m.tracked.Store(set.with(TrackedDocument{
		URI:        u,
		LanguageID: languageID,
		Version:    version,
		Text:       text,
		Checksum:   ChecksumOf(text),
	}))
	m.invalidateLocked()
	m.logger.Debug("started tracking document",
		zap.String("uri", string(u)),
		zap.String("language", languageID),
		zap.Int32("version", version))
	return nil
}

// UpdateTrackedDocument replaces the tracked text after a change
// notification. The document must already be tracked.
func (m *Manager) UpdateTrackedDocument(u uri.URI, version int32, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.tracked.Load()
	td, ok := set.docs[u]
	if !ok {
		return lsperr.NewContractError("UpdateTrackedDocument", "document %s is not tracked", u)
	}
	td.Version = version
	td.Text = text
	td.Checksum = ChecksumOf(text)
	m.tracked.Store(set.with(td))
	m.invalidateLocked()

	// Keep the miscellaneous-files copy current so the common case
	// needs no fork on the next lookup.
	if _, ok := m.misc.CurrentSolution().Document(u); ok {
		m.misc.SetDocumentText(u, text, version)
	}
	m.logger.Debug("updated tracked document",
		zap.String("uri", string(u)),
		zap.Int32("version", version))
	return nil
}

// StopTracking forgets a closed document and evicts any copy the
// miscellaneous-files workspace holds for it. The document must be
// tracked.
func (m *Manager) StopTracking(u uri.URI) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.tracked.Load()
	if _, ok := set.docs[u]; !ok {
		return lsperr.NewContractError("StopTracking", "document %s is not tracked", u)
	}
	m.tracked.Store(set.without(u))
	m.invalidateLocked()

	if _, ok := m.misc.CurrentSolution().Document(u); ok {
		m.misc.RemoveDocument(u)
	}
	m.logger.Debug("stopped tracking document", zap.String("uri", string(u)))
	return nil
}

// invalidateLocked drops every cached projection. Called with mu held
// after each tracked-set mutation.
func (m *Manager) invalidateLocked() {
	for k := range m.projections {
		delete(m.projections, k)
	}
}

// TrackedDocument returns the tracked state for u, if any.
func (m *Manager) TrackedDocument(u uri.URI) (TrackedDocument, bool) {
	td, ok := m.tracked.Load().docs[u]
	return td, ok
}

// IsTracking reports whether u is currently tracked.
func (m *Manager) IsTracking(u uri.URI) bool {
	_, ok := m.tracked.Load().docs[u]
	return ok
}

// TrackedDocuments returns a copy of the tracked set.
func (m *Manager) TrackedDocuments() map[uri.URI]TrackedDocument {
	set := m.tracked.Load()
	out := make(map[uri.URI]TrackedDocument, len(set.docs))
	for k, v := range set.docs {
		out[k] = v
	}
	return out
}

// LanguageFor resolves the language ID for a document: the tracked
// language when the document is open, the configured extension table
// otherwise. Returns "" when the language is unknown.
func (m *Manager) LanguageFor(u uri.URI) string {
	if td, ok := m.tracked.Load().docs[u]; ok && td.LanguageID != "" {
		return td.LanguageID
	}
	path := strings.TrimPrefix(string(u), "file://")
	ext := strings.ToLower(filepath.Ext(path))
	return m.byExtension[ext]
}

// GetLspDocument resolves u to a document and the solution it belongs
// to. Registered workspaces are consulted in order; a tracked document
// no workspace knows about is served from the miscellaneous-files
// workspace. A miss is logged, not an error: requests for unknown
// documents are expected during editor races.
func (m *Manager) GetLspDocument(u uri.URI) (*Document, *Solution) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.workspaces {
		sol := m.solutionForLocked(w)
		if doc, ok := sol.Document(u); ok {
			return doc, sol
		}
	}

	td, tracked := m.tracked.Load().docs[u]
	if !tracked {
		m.logger.Debug("document not found in any registered workspace", zap.String("uri", string(u)))
		return nil, nil
	}

	if _, ok := m.misc.CurrentSolution().Document(u); !ok {
		language := td.LanguageID
		if language == "" {
			language = m.LanguageFor(u)
		}
		m.misc.AddDocument(NewDocument(u, language, td.Version, td.Text))
		m.logger.Info("serving document from miscellaneous-files workspace",
			zap.String("uri", string(u)),
			zap.String("language", language))
	}
	sol := m.solutionForLocked(m.misc)
	doc, ok := sol.Document(u)
	if !ok {
		// Unreachable given the add above, but never hand out a
		// document from a different solution than the one returned.
		m.logger.Error("miscellaneous-files workspace lost document", zap.String("uri", string(u)))
		return nil, nil
	}
	return doc, sol
}

// TryGetHostLspSolution returns the reconciled solution of the first
// registered host workspace.
func (m *Manager) TryGetHostLspSolution() (*Solution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.workspaces {
		if w.Kind() == KindHost {
			return m.solutionForLocked(w), true
		}
	}
	return nil, false
}

// solutionForLocked returns the reconciled solution for w, serving
// from the projection cache when the workspace version is unchanged.
func (m *Manager) solutionForLocked(w *Workspace) *Solution {
	current := w.CurrentSolution()
	if p, ok := m.projections[w]; ok && p.version == current.Version() {
		return p.solution
	}
	sol := m.reconcileLocked(w, current)
	m.projections[w] = projection{version: current.Version(), solution: sol}
	return sol
}

// reconcileLocked produces a solution for w whose text agrees with
// every tracked document the workspace contains.
//
// Three steps, cheapest first: reuse the current solution when its
// checksums already match, reuse the remembered pre-change snapshot
// when that one matches, and only then fork the current solution with
// tracked text.
func (m *Manager) reconcileLocked(w *Workspace, current *Solution) *Solution {
	set := m.tracked.Load()

	if matchesTracked(current, set) {
		return current
	}
	if prev, ok := m.previous[w]; ok && matchesTracked(prev, set) {
		m.logger.Debug("reusing previous workspace solution",
			zap.String("workspace", w.Name()),
			zap.Int64("version", prev.Version()))
		return prev
	}

	sol := current
	for u, td := range set.docs {
		sol = sol.WithDocumentText(u, td.Text, td.Version)
	}
	m.logger.Debug("forked workspace solution with tracked text",
		zap.String("workspace", w.Name()),
		zap.Int64("version", current.Version()))
	return sol
}

// matchesTracked reports whether every tracked URI present in s
// carries exactly the tracked text. Tracked URIs the solution does not
// contain are irrelevant to it and are ignored.
func matchesTracked(s *Solution, set *trackedSet) bool {
	for u, td := range set.docs {
		doc, ok := s.Document(u)
		if !ok {
			continue
		}
		if doc.Checksum() != td.Checksum {
			return false
		}
	}
	return true
}
