package workspace

import (
	"sort"

	"go.lsp.dev/uri"
)

// Solution is an immutable snapshot of a workspace's documents at a
// single version. Forking a solution yields an independent snapshot;
// the live workspace it came from is never affected.
type Solution struct {
	workspace string
	kind      Kind
	version   int64
	documents map[uri.URI]*Document
}

func newSolution(workspaceName string, kind Kind, version int64, documents map[uri.URI]*Document) *Solution {
	return &Solution{
		workspace: workspaceName,
		kind:      kind,
		version:   version,
		documents: documents,
	}
}

// Workspace returns the name of the workspace this solution came from.
func (s *Solution) Workspace() string { return s.workspace }

// Kind returns the kind of the originating workspace.
func (s *Solution) Kind() Kind { return s.kind }

// Version returns the workspace version this solution was captured at.
// Forked solutions keep the version of the solution they were forked
// from; they are projections of that version, not new workspace states.
func (s *Solution) Version() int64 { return s.version }

// Document looks up a document by URI.
func (s *Solution) Document(u uri.URI) (*Document, bool) {
	d, ok := s.documents[u]
	return d, ok
}

// Documents returns every document in the solution, ordered by URI.
func (s *Solution) Documents() []*Document {
	out := make([]*Document, 0, len(s.documents))
	for _, d := range s.documents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uri < out[j].uri })
	return out
}

// Len returns the number of documents in the solution.
func (s *Solution) Len() int { return len(s.documents) }

// WithDocumentText forks the solution, replacing the text of the
// document at u. Every other document is shared with the receiver. If
// the solution holds no document for u the receiver is returned
// unchanged.
func (s *Solution) WithDocumentText(u uri.URI, text string, version int32) *Solution {
	old, ok := s.documents[u]
	if !ok {
		return s
	}
	if old.checksum == ChecksumOf(text) && old.version == version {
		return s
	}
	documents := make(map[uri.URI]*Document, len(s.documents))
	for k, v := range s.documents {
		documents[k] = v
	}
	documents[u] = old.withText(text, version)
	return newSolution(s.workspace, s.kind, s.version, documents)
}

// cloneDocuments copies the document map for mutation by the owning
// workspace.
func (s *Solution) cloneDocuments() map[uri.URI]*Document {
	documents := make(map[uri.URI]*Document, len(s.documents)+1)
	for k, v := range s.documents {
		documents[k] = v
	}
	return documents
}
