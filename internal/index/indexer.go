package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/embed"
	engerr "github.com/caioniehues/obsidian-copilot-sub001/internal/errors"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/note"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/token"
)

// Config configures the indexer.
type Config struct {
	// Dir is the persistence directory. Empty means in-memory only.
	Dir string

	// MaxChunkTokens caps chunk size during splitting.
	MaxChunkTokens int

	// M and EfSearch are HNSW tuning parameters.
	M        int
	EfSearch int
}

// Indexer maintains the lexical index, the vector index, and the published
// snapshot. Upsert and Remove take the writer lock; Candidates only loads
// the current snapshot and queries the underlying indices, which have their
// own read locking.
type Indexer struct {
	mu       sync.Mutex // serializes writers
	snapshot atomic.Pointer[Snapshot]

	lexical  *LexicalIndex
	vectors  *VectorIndex
	embedder embed.Embedder
	counter  token.Counter

	cfg  Config
	lock *flock.Flock
}

// New creates an indexer. When cfg.Dir is set, the directory is locked
// against concurrent processes and previously persisted state is loaded;
// corruption or a format version mismatch triggers a silent fresh start so
// the caller can rebuild from source notes.
func New(cfg Config, embedder embed.Embedder, counter token.Counter) (*Indexer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if counter == nil {
		return nil, fmt.Errorf("token counter is required")
	}

	idx := &Indexer{
		embedder: embedder,
		counter:  counter,
		cfg:      cfg,
	}
	idx.snapshot.Store(&Snapshot{
		Documents: map[string]*note.Document{},
		Chunks:    map[string]*note.Chunk{},
		Outbound:  map[string][]string{},
	})

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		idx.lock = flock.New(filepath.Join(cfg.Dir, "index.lock"))
		locked, err := idx.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire index lock: %w", err)
		}
		if !locked {
			return nil, engerr.New(engerr.ErrCodeIndexLocked,
				"index directory is locked by another process", nil).
				WithDetail("dir", cfg.Dir)
		}
	}

	lexPath := ""
	if cfg.Dir != "" {
		lexPath = filepath.Join(cfg.Dir, "lexical.bleve")
	}
	lexical, err := NewLexicalIndex(lexPath)
	if err != nil {
		if engerr.IsFatal(err) && cfg.Dir != "" {
			// Corrupt on-disk index: clear and rebuild from source notes.
			slog.Warn("lexical_index_corrupt", slog.String("error", err.Error()))
			clearIndexDir(cfg.Dir)
			lexical, err = NewLexicalIndex(lexPath)
		}
		if err != nil {
			idx.unlock()
			return nil, err
		}
	}
	idx.lexical = lexical

	vectors, err := NewVectorIndex(VectorConfig{
		Dimensions: embedder.Dimensions(),
		M:          cfg.M,
		EfSearch:   cfg.EfSearch,
	})
	if err != nil {
		idx.unlock()
		return nil, err
	}
	idx.vectors = vectors

	if cfg.Dir != "" {
		if err := idx.loadPersisted(); err != nil {
			// Persisted state unusable: keep the fresh empty index. The
			// caller re-indexes the vault to rebuild.
			slog.Warn("index_load_failed, starting fresh",
				slog.String("error", err.Error()))
		}
	}

	return idx, nil
}

// Generation returns the current index generation.
func (i *Indexer) Generation() uint64 {
	return i.snapshot.Load().Generation
}

// Snapshot returns the current published snapshot.
func (i *Indexer) Snapshot() *Snapshot {
	return i.snapshot.Load()
}

// Upsert parses and indexes one note. Re-upserting identical content is a
// no-op: no generation bump, no index churn. Malformed notes return a corpus
// error the caller logs and skips; they never abort a batch.
func (i *Indexer) Upsert(ctx context.Context, id string, content []byte, modTime time.Time) error {
	doc, err := note.Parse(id, content, modTime, i.counter)
	if err != nil {
		slog.Warn("document_skipped",
			slog.String("path", id),
			slog.String("error", err.Error()))
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	prev := i.snapshot.Load()
	if existing, ok := prev.Documents[id]; ok && existing.ContentHash == doc.ContentHash {
		return nil
	}

	chunks := note.Split(doc, i.counter, note.ChunkerOptions{MaxChunkTokens: i.cfg.MaxChunkTokens})

	// Embeddings are computed here, during upsert, never on the query path.
	texts := make([]string, len(chunks))
	for j, c := range chunks {
		texts[j] = c.HeaderPath + "\n" + c.Text
	}
	embeddings, err := i.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// Index lexically anyway; semantic signal degrades to zero.
		slog.Debug("embedding_failed, lexical only",
			slog.String("path", id),
			slog.String("error", err.Error()))
		embeddings = nil
	}
	if embeddings != nil {
		for j := range chunks {
			chunks[j].Embedding = embeddings[j]
		}
	}

	if err := i.replaceChunks(ctx, prev, doc, chunks); err != nil {
		return err
	}

	next := i.rebuildSnapshot(prev, func(docs map[string]*note.Document, chunkMap map[string]*note.Chunk) {
		for _, old := range chunksOf(prev, id) {
			delete(chunkMap, old.ID)
		}
		docs[id] = doc
		for _, c := range chunks {
			chunkMap[c.ID] = c
		}
	})
	i.snapshot.Store(next)

	slog.Debug("document_indexed",
		slog.String("path", id),
		slog.Int("chunks", len(chunks)),
		slog.Uint64("generation", next.Generation))
	return nil
}

// Remove deletes a document and its chunks from all indices.
// Removing an unknown ID is a no-op and does not bump the generation.
func (i *Indexer) Remove(ctx context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	prev := i.snapshot.Load()
	if _, ok := prev.Documents[id]; !ok {
		return nil
	}

	old := chunksOf(prev, id)
	ids := make([]string, len(old))
	for j, c := range old {
		ids[j] = c.ID
	}

	if err := i.lexical.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete from lexical index: %w", err)
	}
	if err := i.vectors.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete from vector index: %w", err)
	}

	next := i.rebuildSnapshot(prev, func(docs map[string]*note.Document, chunkMap map[string]*note.Chunk) {
		delete(docs, id)
		for _, c := range old {
			delete(chunkMap, c.ID)
		}
	})
	i.snapshot.Store(next)

	slog.Debug("document_removed", slog.String("path", id), slog.Uint64("generation", next.Generation))
	return nil
}

// Candidates retrieves a relevance-ordered candidate superset for the
// ranker. Lexical and semantic retrieval run in parallel; either leg failing
// degrades to the other. Fewer matches than max returns all available,
// never an error.
func (i *Indexer) Candidates(ctx context.Context, query string, max int) ([]*Candidate, error) {
	snap := i.snapshot.Load()
	if max <= 0 || len(snap.Chunks) == 0 {
		return []*Candidate{}, nil
	}

	var (
		lexResults []*LexicalResult
		vecResults []*VectorResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := i.lexical.Search(gctx, query, max)
		if err != nil {
			return fmt.Errorf("lexical leg: %w", err)
		}
		lexResults = res
		return nil
	})
	g.Go(func() error {
		vec, err := i.embedder.Embed(gctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		res, err := i.vectors.Search(gctx, vec, max)
		if err != nil {
			return fmt.Errorf("semantic leg: %w", err)
		}
		vecResults = res
		return nil
	})
	if err := g.Wait(); err != nil {
		if lexResults == nil && vecResults == nil {
			return nil, engerr.Wrap(engerr.ErrCodeSearchFailed, err)
		}
		slog.Debug("retrieval_degraded", slog.String("error", err.Error()))
	}

	return mergeCandidates(snap, lexResults, vecResults, max), nil
}

// mergeCandidates joins the two result lists by chunk ID, normalizes the
// lexical scores into [0,1], and resolves chunks against the snapshot.
// Hits unknown to the snapshot are skipped so the view stays consistent.
func mergeCandidates(snap *Snapshot, lex []*LexicalResult, vec []*VectorResult, max int) []*Candidate {
	var maxLex float64
	for _, r := range lex {
		if r.Score > maxLex {
			maxLex = r.Score
		}
	}

	byID := make(map[string]*Candidate, len(lex)+len(vec))

	resolve := func(id string) *Candidate {
		if c, ok := byID[id]; ok {
			return c
		}
		chunk, ok := snap.Chunks[id]
		if !ok {
			return nil
		}
		doc, ok := snap.Documents[chunk.DocumentID]
		if !ok {
			return nil
		}
		c := &Candidate{
			Chunk:       chunk,
			Document:    doc,
			OutboundIDs: snap.Outbound[doc.ID],
		}
		byID[id] = c
		return c
	}

	for _, r := range lex {
		if c := resolve(r.ID); c != nil && maxLex > 0 {
			c.Lexical = r.Score / maxLex
		}
	}
	for _, r := range vec {
		if c := resolve(r.ID); c != nil {
			c.Semantic = float64(r.Score)
		}
	}

	candidates := make([]*Candidate, 0, len(byID))
	for _, c := range byID {
		candidates = append(candidates, c)
	}

	// Relevance hint ordering; the ranker applies the real composite score.
	sort.Slice(candidates, func(a, b int) bool {
		ha := candidates[a].Lexical + candidates[a].Semantic
		hb := candidates[b].Lexical + candidates[b].Semantic
		if ha != hb {
			return ha > hb
		}
		return candidates[a].Chunk.ID < candidates[b].Chunk.ID
	})

	if len(candidates) > max {
		candidates = candidates[:max]
	}
	return candidates
}

// replaceChunks swaps a document's chunks in the lexical and vector indices.
func (i *Indexer) replaceChunks(ctx context.Context, prev *Snapshot, doc *note.Document, chunks []*note.Chunk) error {
	old := chunksOf(prev, doc.ID)
	if len(old) > 0 {
		ids := make([]string, len(old))
		for j, c := range old {
			ids[j] = c.ID
		}
		if err := i.lexical.Delete(ctx, ids); err != nil {
			return fmt.Errorf("delete stale lexical chunks: %w", err)
		}
		if err := i.vectors.Delete(ctx, ids); err != nil {
			return fmt.Errorf("delete stale vectors: %w", err)
		}
	}

	ids := make([]string, len(chunks))
	contents := make([]string, len(chunks))
	var vecIDs []string
	var vecs [][]float32
	for j, c := range chunks {
		ids[j] = c.ID
		contents[j] = c.HeaderPath + "\n" + c.Text
		if c.Embedding != nil {
			vecIDs = append(vecIDs, c.ID)
			vecs = append(vecs, c.Embedding)
		}
	}

	if err := i.lexical.Index(ctx, ids, contents); err != nil {
		return fmt.Errorf("index lexical chunks: %w", err)
	}
	if len(vecIDs) > 0 {
		if err := i.vectors.Add(ctx, vecIDs, vecs); err != nil {
			return fmt.Errorf("index vectors: %w", err)
		}
	}
	return nil
}

// rebuildSnapshot clones the previous snapshot, applies the mutation, and
// rebuilds the link adjacency for the new generation.
func (i *Indexer) rebuildSnapshot(prev *Snapshot, mutate func(map[string]*note.Document, map[string]*note.Chunk)) *Snapshot {
	docs := make(map[string]*note.Document, len(prev.Documents)+1)
	for id, d := range prev.Documents {
		docs[id] = d
	}
	chunks := make(map[string]*note.Chunk, len(prev.Chunks))
	for id, c := range prev.Chunks {
		chunks[id] = c
	}

	mutate(docs, chunks)

	outbound, inbound := buildAdjacency(docs)

	// Documents get fresh copies carrying this generation's backlinks, so
	// older snapshots stay immutable.
	resolved := make(map[string]*note.Document, len(docs))
	for id, d := range docs {
		cp := *d
		cp.Backlinks = inbound[id]
		resolved[id] = &cp
	}

	return &Snapshot{
		Generation: prev.Generation + 1,
		Documents:  resolved,
		Chunks:     chunks,
		Outbound:   outbound,
	}
}

// buildAdjacency resolves wikilink targets to document IDs and returns
// outbound and inbound edge lists. Targets resolve by exact ID, filename
// stem, or title, case-insensitively.
func buildAdjacency(docs map[string]*note.Document) (outbound, inbound map[string][]string) {
	byName := make(map[string]string, len(docs)*2)
	for id, d := range docs {
		base := filepath.Base(id)
		stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
		byName[stem] = id
		if t := strings.ToLower(d.Title); t != "" {
			byName[t] = id
		}
		byName[strings.ToLower(id)] = id
	}

	outbound = make(map[string][]string)
	inbound = make(map[string][]string)
	for id, d := range docs {
		for _, target := range d.Links {
			tid, ok := byName[strings.ToLower(target)]
			if !ok || tid == id {
				continue
			}
			outbound[id] = append(outbound[id], tid)
			inbound[tid] = append(inbound[tid], id)
		}
	}
	for id := range outbound {
		sort.Strings(outbound[id])
	}
	for id := range inbound {
		sort.Strings(inbound[id])
	}
	return outbound, inbound
}

// chunksOf returns the snapshot's chunks belonging to one document.
func chunksOf(snap *Snapshot, docID string) []*note.Chunk {
	var out []*note.Chunk
	for _, c := range snap.Chunks {
		if c.DocumentID == docID {
			out = append(out, c)
		}
	}
	return out
}

// Compact removes lazy-deleted vector graph nodes. Invoked by the
// background optimize pass.
func (i *Indexer) Compact() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.vectors.Compact()
}

// VectorOrphans reports how many lazy-deleted nodes the vector graph holds.
func (i *Indexer) VectorOrphans() int {
	return i.vectors.Orphans()
}

// Close persists state when a directory is configured, releases the
// directory lock, and closes the underlying indices.
func (i *Indexer) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var firstErr error
	if i.cfg.Dir != "" {
		if err := i.savePersisted(); err != nil {
			firstErr = err
		}
	}
	if err := i.lexical.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := i.vectors.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	i.unlock()
	return firstErr
}

func (i *Indexer) unlock() {
	if i.lock != nil {
		_ = i.lock.Unlock()
	}
}
