// Package workspace tracks LSP document text and projects it onto
// workspace solutions. The manager owns the authoritative copy of every
// open document and reconciles it with the solutions reported by the
// registered workspaces so request handlers always observe text that is
// at least as fresh as the latest didOpen/didChange notification.
package workspace

import (
	"crypto/sha256"

	"go.lsp.dev/uri"
)

// Checksum identifies document text content. Two documents with equal
// checksums are treated as having identical text.
type Checksum [sha256.Size]byte

// ChecksumOf computes the content checksum for text.
func ChecksumOf(text string) Checksum {
	return sha256.Sum256([]byte(text))
}

// Document is an immutable snapshot of a single file inside a Solution.
// Mutating operations on solutions produce new Document values; a
// Document handed to a request handler never changes underneath it.
type Document struct {
	uri      uri.URI
	language string
	version  int32
	text     string
	checksum Checksum
}

// NewDocument builds an immutable document snapshot. The checksum is
// computed once at construction.
func NewDocument(u uri.URI, language string, version int32, text string) *Document {
	return &Document{
		uri:      u,
		language: language,
		version:  version,
		text:     text,
		checksum: ChecksumOf(text),
	}
}

// URI returns the document identity.
func (d *Document) URI() uri.URI { return d.uri }

// Language returns the language identifier the document was opened with.
func (d *Document) Language() string { return d.language }

// Version returns the client-reported document version.
func (d *Document) Version() int32 { return d.version }

// Text returns the full document text.
func (d *Document) Text() string { return d.text }

// Checksum returns the content checksum computed at construction.
func (d *Document) Checksum() Checksum { return d.checksum }

// withText derives a new snapshot carrying text at version. The
// receiver is left untouched.
func (d *Document) withText(text string, version int32) *Document {
	return &Document{
		uri:      d.uri,
		language: d.language,
		version:  version,
		text:     text,
		checksum: ChecksumOf(text),
	}
}
