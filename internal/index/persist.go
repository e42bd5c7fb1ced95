package index

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	engerr "github.com/caioniehues/obsidian-copilot-sub001/internal/errors"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/note"
)

// FormatVersion is the on-disk index format version. A mismatch on load
// forces a full rebuild from source notes; there is no partial migration.
const FormatVersion = 1

const (
	manifestFile  = "manifest.json"
	documentsFile = "documents.gob"
	vectorsFile   = "vectors.hnsw"
)

// manifest describes persisted index state for versioned invalidation.
type manifest struct {
	FormatVersion int       `json:"format_version"`
	Generation    uint64    `json:"generation"`
	Model         string    `json:"model"`
	Dimensions    int       `json:"dimensions"`
	Counter       string    `json:"counter"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// persistedCorpus is the gob payload for documents and chunks.
type persistedCorpus struct {
	Documents map[string]*note.Document
	Chunks    map[string]*note.Chunk
}

// savePersisted writes manifest, corpus, and vector state. The bleve index
// persists itself; documents and vectors use temp-file-then-rename.
func (i *Indexer) savePersisted() error {
	snap := i.snapshot.Load()

	if err := i.vectors.Save(filepath.Join(i.cfg.Dir, vectorsFile)); err != nil {
		return fmt.Errorf("save vectors: %w", err)
	}

	corpus := persistedCorpus{Documents: snap.Documents, Chunks: snap.Chunks}
	docsPath := filepath.Join(i.cfg.Dir, documentsFile)
	tmp := docsPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create documents file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(corpus); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode documents: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close documents file: %w", err)
	}
	if err := os.Rename(tmp, docsPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename documents file: %w", err)
	}

	m := manifest{
		FormatVersion: FormatVersion,
		Generation:    snap.Generation,
		Model:         i.embedder.ModelName(),
		Dimensions:    i.embedder.Dimensions(),
		Counter:       i.counter.Name(),
		UpdatedAt:     time.Now(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	manifestPath := filepath.Join(i.cfg.Dir, manifestFile)
	tmp = manifestPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return os.Rename(tmp, manifestPath)
}

// loadPersisted restores documents, chunks, and vectors from a previous
// run. Any structural problem is reported as corruption; the caller starts
// fresh and re-indexes.
func (i *Indexer) loadPersisted() error {
	manifestPath := filepath.Join(i.cfg.Dir, manifestFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Fresh directory
		}
		return engerr.CorruptionError("manifest unreadable", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return engerr.CorruptionError("manifest corrupt", err)
	}
	if m.FormatVersion != FormatVersion {
		return engerr.New(engerr.ErrCodeIndexVersion,
			fmt.Sprintf("index format version %d, engine requires %d", m.FormatVersion, FormatVersion), nil)
	}
	if m.Model != i.embedder.ModelName() || m.Dimensions != i.embedder.Dimensions() {
		return engerr.New(engerr.ErrCodeDimensionMismatch,
			"persisted index was built with a different embedder", nil).
			WithDetail("index_model", m.Model).
			WithDetail("current_model", i.embedder.ModelName())
	}

	docsPath := filepath.Join(i.cfg.Dir, documentsFile)
	f, err := os.Open(docsPath)
	if err != nil {
		return engerr.CorruptionError("documents file unreadable", err)
	}
	defer f.Close()

	var corpus persistedCorpus
	if err := gob.NewDecoder(f).Decode(&corpus); err != nil {
		return engerr.CorruptionError("documents file corrupt", err)
	}

	// Structural invariant: every chunk's parent must exist.
	for id, c := range corpus.Chunks {
		if _, ok := corpus.Documents[c.DocumentID]; !ok {
			return engerr.CorruptionError(
				fmt.Sprintf("chunk %s references missing document %s", id, c.DocumentID), nil)
		}
	}

	if err := i.vectors.Load(filepath.Join(i.cfg.Dir, vectorsFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Vectors absent is tolerable; semantic signal degrades.
			i.publishLoaded(m.Generation, corpus)
			return nil
		}
		return engerr.CorruptionError("vector index unreadable", err)
	}

	i.publishLoaded(m.Generation, corpus)
	return nil
}

// publishLoaded builds and stores the snapshot for loaded state.
func (i *Indexer) publishLoaded(generation uint64, corpus persistedCorpus) {
	base := &Snapshot{
		// rebuildSnapshot bumps by one; start one below the saved value.
		Generation: generation - 1,
		Documents:  corpus.Documents,
		Chunks:     corpus.Chunks,
	}
	snap := i.rebuildSnapshot(base, func(map[string]*note.Document, map[string]*note.Chunk) {})
	i.snapshot.Store(snap)
}

// clearIndexDir removes persisted index files so a rebuild starts clean.
// The lock file is preserved.
func clearIndexDir(dir string) {
	for _, name := range []string{manifestFile, documentsFile, vectorsFile, vectorsFile + ".meta"} {
		_ = os.Remove(filepath.Join(dir, name))
	}
	_ = os.RemoveAll(filepath.Join(dir, "lexical.bleve"))
}
