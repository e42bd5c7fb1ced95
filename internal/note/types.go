// Package note models vault documents and splits them into retrievable
// chunks. Documents are markdown notes with frontmatter, #tags, and
// [[wikilinks]]; chunks follow heading boundaries.
package note

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document is an immutable snapshot of one vault note per index generation.
type Document struct {
	// ID is the vault-relative path, the stable identifier.
	ID string

	// Title comes from frontmatter, the first H1, or the filename stem.
	Title string

	// Text is the full note body, frontmatter included.
	Text string

	// Tags collected from frontmatter and inline #tags, normalized lowercase.
	Tags []string

	// Links holds outbound wikilink targets, normalized to note names.
	Links []string

	// Backlinks holds inbound link sources. Populated by the indexer when
	// the adjacency structure for a generation is built.
	Backlinks []string

	// ModTime is the note's last modification time.
	ModTime time.Time

	// ContentHash is the SHA-256 of Text, used for idempotent upserts.
	ContentHash string

	// TokenCount under the engine's counting rule.
	TokenCount int

	// Embedding is the dense vector, nil until indexed.
	Embedding []float32
}

// Chunk is a sub-document unit derived at heading boundaries. A chunk never
// outlives its parent document's index generation.
type Chunk struct {
	// ID is content-addressable: hash of parent ID and chunk text.
	ID string

	// DocumentID is the parent document's ID.
	DocumentID string

	// HeaderPath is the breadcrumb of headings above this chunk
	// (e.g. "Projects > Engine > Caching").
	HeaderPath string

	// Start and End are character offsets into the parent document text.
	Start int
	End   int

	// Text is the chunk content.
	Text string

	// TokenCount under the engine's counting rule.
	TokenCount int

	// Embedding is the chunk's own vector, nil until indexed.
	Embedding []float32
}

// HashContent returns the hex SHA-256 of text.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ChunkID derives a content-addressable chunk identifier. Content-based IDs
// stay stable when unrelated parts of the note shift.
func ChunkID(documentID, text string) string {
	sum := sha256.Sum256([]byte(documentID + "\x00" + text))
	return documentID + "#" + hex.EncodeToString(sum[:8])
}
