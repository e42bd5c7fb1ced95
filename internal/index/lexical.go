package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	engerr "github.com/caioniehues/obsidian-copilot-sub001/internal/errors"
)

const (
	// NoteStopFilterName is the name of the prose stop word filter.
	NoteStopFilterName = "note_stop"

	// NoteAnalyzerName is the name of the note analyzer.
	NoteAnalyzerName = "note_analyzer"
)

// noteStopWords are high-frequency prose words excluded from the lexical
// index. Markdown notes are prose, not code; the list reflects that.
var noteStopWords = []string{
	"the", "a", "an", "and", "or", "of", "to", "in", "on", "for",
	"is", "are", "was", "be", "this", "that", "it", "as", "at", "by",
	"with", "from", "not", "but", "have", "has",
}

func init() {
	_ = registry.RegisterTokenFilter(NoteStopFilterName, noteStopFilterConstructor)
}

// LexicalResult is a single lexical search hit.
type LexicalResult struct {
	ID    string
	Score float64
}

// lexicalDocument is the document structure handed to bleve.
type lexicalDocument struct {
	Content string `json:"content"`
}

// LexicalIndex wraps bleve v2 for BM25-style keyword search over chunks.
type LexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// NewLexicalIndex creates a lexical index. An empty path creates an
// in-memory index. An existing on-disk index that fails validation is
// reported as corruption so the caller can rebuild from source notes.
func NewLexicalIndex(path string) (*LexicalIndex, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil {
			return nil, engerr.CorruptionError(
				fmt.Sprintf("lexical index at %s cannot be opened", path), err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create/open lexical index: %w", err)
	}

	return &LexicalIndex{index: idx, path: path}, nil
}

// createIndexMapping builds the bleve mapping with the note analyzer.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(NoteAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			NoteStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = NoteAnalyzerName
	return indexMapping, nil
}

// Index adds or replaces chunks in the index.
func (l *LexicalIndex) Index(ctx context.Context, ids []string, contents []string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(contents) {
		return fmt.Errorf("ids and contents length mismatch: %d vs %d", len(ids), len(contents))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := l.index.NewBatch()
	for i, id := range ids {
		if err := batch.Index(id, lexicalDocument{Content: contents[i]}); err != nil {
			return fmt.Errorf("index chunk %s: %w", id, err)
		}
	}

	if err := l.index.Batch(batch); err != nil {
		return fmt.Errorf("execute index batch: %w", err)
	}
	return nil
}

// Search returns chunks matching the query, scored by bleve's BM25-style
// relevance. An empty query returns no results, never an error.
func (l *LexicalIndex) Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	if strings.TrimSpace(query) == "" {
		return []*LexicalResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	results := make([]*LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &LexicalResult{ID: hit.ID, Score: hit.Score})
	}
	return results, nil
}

// Delete removes chunks from the index.
func (l *LexicalIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := l.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}

	if err := l.index.Batch(batch); err != nil {
		return fmt.Errorf("execute delete batch: %w", err)
	}
	return nil
}

// DocCount returns the number of indexed chunks.
func (l *LexicalIndex) DocCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return 0
	}
	n, _ := l.index.DocCount()
	return int(n)
}

// Close closes the index.
func (l *LexicalIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.index != nil {
		return l.index.Close()
	}
	return nil
}

// noteStopFilterConstructor creates the prose stop word filter for bleve.
func noteStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	stops := make(map[string]struct{}, len(noteStopWords))
	for _, w := range noteStopWords {
		stops[w] = struct{}{}
	}
	return &noteStopFilter{stopWords: stops}, nil
}

// noteStopFilter implements analysis.TokenFilter for prose stop words.
type noteStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *noteStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, tok := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(tok.Term))]; !isStop {
			result = append(result, tok)
		}
	}
	return result
}
