// Package rank turns raw retrieval signals into a single deterministic
// ordering. The composite score blends the lexical, semantic, and graph
// signals with configured weights; ties break on stable document metadata so
// the same snapshot and query always produce the same order.
package rank

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/index"
)

// Weights are the signal blend coefficients. They must sum to 1; config
// validation enforces that before a Ranker is built.
type Weights struct {
	Lexical  float64
	Semantic float64
	Graph    float64
}

// ScoredCandidate is a candidate with its composite relevance score.
type ScoredCandidate struct {
	*index.Candidate

	// Composite is the weighted blend of all signals, in [0,1].
	Composite float64

	// Graph is the depth-1 link connectivity score, in [0,1].
	Graph float64

	// Inbound is the candidate document's backlink count, kept for
	// tie-breaking.
	Inbound int
}

// Ranker scores and orders retrieval candidates. Safe for concurrent use;
// the background optimizer may swap weights while queries score.
type Ranker struct {
	mu      sync.RWMutex
	weights Weights
	logger  *slog.Logger
}

// New creates a ranker with the given signal weights.
func New(weights Weights, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{weights: weights, logger: logger}
}

// Weights returns the current signal weights.
func (r *Ranker) Weights() Weights {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.weights
}

// SetWeights replaces the signal weights. Called by the background
// optimizer after re-tuning.
func (r *Ranker) SetWeights(w Weights) {
	r.mu.Lock()
	r.weights = w
	r.mu.Unlock()
}

// Score computes composite scores for the candidate set and returns it
// ordered best-first. The graph signal counts depth-1 links between
// candidate documents only; links to documents outside the set contribute
// nothing, which keeps scoring a single pass over the set.
func (r *Ranker) Score(candidates []*index.Candidate) []*ScoredCandidate {
	if len(candidates) == 0 {
		return []*ScoredCandidate{}
	}
	weights := r.Weights()

	inSet := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		inSet[c.Document.ID] = struct{}{}
	}

	// Raw connectivity: outbound links into the set plus backlinks from it.
	connectivity := make(map[string]int, len(candidates))
	for _, c := range candidates {
		id := c.Document.ID
		if _, seen := connectivity[id]; seen {
			continue
		}
		n := 0
		for _, target := range c.OutboundIDs {
			if _, ok := inSet[target]; ok {
				n++
			}
		}
		for _, source := range c.Document.Backlinks {
			if _, ok := inSet[source]; ok {
				n++
			}
		}
		connectivity[id] = n
	}

	maxConn := 0
	for _, n := range connectivity {
		if n > maxConn {
			maxConn = n
		}
	}

	scored := make([]*ScoredCandidate, len(candidates))
	for i, c := range candidates {
		graph := 0.0
		if maxConn > 0 {
			graph = float64(connectivity[c.Document.ID]) / float64(maxConn)
		}
		if c.Semantic == 0 && c.Chunk.Embedding == nil {
			r.logger.Debug("semantic_signal_missing",
				slog.String("chunk", c.Chunk.ID))
		}
		scored[i] = &ScoredCandidate{
			Candidate: c,
			Graph:     graph,
			Inbound:   len(c.Document.Backlinks),
			Composite: weights.Lexical*c.Lexical +
				weights.Semantic*c.Semantic +
				weights.Graph*graph,
		}
	}

	sort.Slice(scored, func(a, b int) bool {
		sa, sb := scored[a], scored[b]
		if sa.Composite != sb.Composite {
			return sa.Composite > sb.Composite
		}
		if sa.Inbound != sb.Inbound {
			return sa.Inbound > sb.Inbound
		}
		if !sa.Document.ModTime.Equal(sb.Document.ModTime) {
			return sa.Document.ModTime.After(sb.Document.ModTime)
		}
		return sa.Chunk.ID < sb.Chunk.ID
	})

	return scored
}
