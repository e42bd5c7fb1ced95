// Package index maintains the lexical and semantic indices over the vault
// and publishes generation-versioned snapshots for the query path.
//
// Readers always operate against one snapshot; writers build the next
// snapshot under an exclusive lock and publish it atomically. A reader sees
// the old generation or the new one, never a torn view.
package index

import (
	"github.com/caioniehues/obsidian-copilot-sub001/internal/note"
)

// Candidate pairs a chunk with its raw per-query signal values. Candidates
// are query-scoped and never persisted.
type Candidate struct {
	// Chunk is the retrieval unit.
	Chunk *note.Chunk

	// Document is the parent document from the snapshot, backlinks resolved.
	Document *note.Document

	// Lexical is the BM25-style score normalized to [0,1] within this
	// candidate set.
	Lexical float64

	// Semantic is the embedding cosine similarity in [0,1]. Zero when the
	// chunk has no embedding (graceful degradation).
	Semantic float64

	// OutboundIDs are the parent document's resolved outbound link targets.
	OutboundIDs []string
}

// Snapshot is an immutable view of the indexed corpus at one generation.
type Snapshot struct {
	// Generation is the monotonic counter identifying this snapshot.
	Generation uint64

	// Documents maps document ID to its snapshot copy.
	Documents map[string]*note.Document

	// Chunks maps chunk ID to chunk.
	Chunks map[string]*note.Chunk

	// Outbound maps document ID to resolved outbound link document IDs.
	// Built once per generation; graph scoring walks it at depth 1.
	Outbound map[string][]string
}

// CorpusSize returns the number of documents in the snapshot.
func (s *Snapshot) CorpusSize() int {
	if s == nil {
		return 0
	}
	return len(s.Documents)
}
