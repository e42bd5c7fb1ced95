// Package strategy decides how retrieved content is shaped to fit a token
// budget. Selection is a pure function of the candidate set shape and the
// budget; given the same inputs it always returns the same strategy, which
// keeps cache keys stable.
package strategy

import (
	"fmt"
)

// Strategy identifies a context-shaping approach.
type Strategy string

const (
	// WholeDocument includes complete documents. Chosen when few documents
	// match and they collectively fit comfortably in the budget.
	WholeDocument Strategy = "whole_document"

	// Chunked includes the best-scoring chunks across documents. The
	// general-purpose default.
	Chunked Strategy = "chunked"

	// Hierarchical includes summaries of many documents plus full detail
	// for the top-ranked ones. Chosen for broad queries over large corpora.
	Hierarchical Strategy = "hierarchical"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case WholeDocument, Chunked, Hierarchical:
		return true
	}
	return false
}

// Shape summarizes the candidate set for selection.
type Shape struct {
	// CandidateCount is the number of distinct documents among candidates.
	CandidateCount int

	// TotalDocTokens is the summed token count of those documents.
	TotalDocTokens int

	// CorpusSize is the total number of documents in the index.
	CorpusSize int
}

// Thresholds are the selection tuning knobs.
type Thresholds struct {
	// WholeDocMaxCandidates is the most matched documents WholeDocument
	// will serve.
	WholeDocMaxCandidates int

	// WholeDocFitFactor is the fraction of the budget that the matched
	// documents must fit within for WholeDocument.
	WholeDocFitFactor float64

	// HierarchicalCorpusSize is the corpus size at which broad queries
	// switch to Hierarchical.
	HierarchicalCorpusSize int
}

// Selector chooses a strategy for a query.
type Selector struct {
	thresholds Thresholds
}

// New creates a selector with the given thresholds.
func New(t Thresholds) *Selector {
	return &Selector{thresholds: t}
}

// Select picks the strategy for the given candidate shape and budget.
// A hint, when valid, overrides the heuristic entirely.
func (s *Selector) Select(shape Shape, budget int, hint Strategy) (Strategy, string) {
	if hint != "" && hint.Valid() {
		return hint, fmt.Sprintf("caller requested %s", hint)
	}

	t := s.thresholds

	if shape.CandidateCount > 0 &&
		shape.CandidateCount <= t.WholeDocMaxCandidates &&
		float64(shape.TotalDocTokens) <= float64(budget)*t.WholeDocFitFactor {
		return WholeDocument, fmt.Sprintf(
			"%d documents fit in %.0f%% of budget", shape.CandidateCount, t.WholeDocFitFactor*100)
	}

	if shape.CorpusSize >= t.HierarchicalCorpusSize &&
		shape.CandidateCount > t.WholeDocMaxCandidates {
		return Hierarchical, fmt.Sprintf(
			"broad match (%d documents) over large corpus (%d)", shape.CandidateCount, shape.CorpusSize)
	}

	return Chunked, "default chunk selection"
}
