// Package engine wires retrieval, ranking, strategy selection, packing, and
// caching into the single Query entry point, and runs the background
// optimization pass.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/cache"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/config"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/embed"
	engerr "github.com/caioniehues/obsidian-copilot-sub001/internal/errors"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/index"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/pack"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/rank"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/strategy"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/token"
)

// Request is a context retrieval request.
type Request struct {
	// Text is the query text.
	Text string `json:"text"`

	// StrategyHint, when set to a valid strategy name, bypasses the
	// heuristic selection.
	StrategyHint string `json:"strategy_hint,omitempty"`

	// Budget is the token budget. A budget at or below zero yields an
	// empty context rather than an error.
	Budget int `json:"budget,omitempty"`
}

// Response is the assembled context.
type Response struct {
	// Context is the rendered context string, ready for a model prompt.
	Context string `json:"context"`

	// DocumentsIncluded lists the source documents, first-appearance order.
	DocumentsIncluded []string `json:"documents_included"`

	// TokensUsed is the token total of all included units.
	TokensUsed int `json:"tokens_used"`

	// Strategy is the shaping strategy that was applied.
	Strategy strategy.Strategy `json:"strategy"`

	// Reason explains the strategy choice, or why the context is empty.
	Reason string `json:"reason"`

	// Source is "cache" or "computed".
	Source string `json:"source"`
}

// telemetry accumulates query-path observations for the optimizer.
type telemetry struct {
	mu            sync.Mutex
	queries       uint64
	semanticEmpty uint64 // queries whose candidates carried no semantic signal
	computeMillis float64
}

// Engine is the query orchestrator.
type Engine struct {
	cfg      *config.Config
	indexer  *index.Indexer
	ranker   *rank.Ranker
	selector *strategy.Selector
	packer   *pack.Packer
	cache    *cache.Manager
	embedder embed.Embedder
	counter  token.Counter
	logger   *slog.Logger

	tel telemetry
}

// New assembles an engine from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, engerr.New(engerr.ErrCodeConfigInvalid, err.Error(), err)
	}

	counter := token.NewCounter(cfg.Token.Encoding, cfg.Token.CharsPerToken)
	embedder := embed.NewCachedEmbedder(
		embed.NewStaticEmbedder(cfg.Index.Dimensions), embed.DefaultEmbeddingCacheSize)

	indexer, err := index.New(index.Config{
		Dir:      cfg.Index.Dir,
		M:        cfg.Index.M,
		EfSearch: cfg.Index.EfSearch,
	}, embedder, counter)
	if err != nil {
		return nil, err
	}

	cacheMgr, err := cache.New(cache.Config{
		RecentSize:   cfg.Cache.RecentCapacity,
		FrequentSize: cfg.Cache.FrequentCapacity,
		CommonSize:   cfg.Cache.CommonCapacity,
		Path:         cfg.Cache.Path,
		Weights: cache.Weights{
			Frequency:  cfg.Cache.FrequencyWeight,
			Recency:    cfg.Cache.RecencyWeight,
			Similarity: cfg.Cache.SimilarityWeight,
			Cost:       cfg.Cache.CostWeight,
		},
	}, logger)
	if err != nil {
		indexer.Close()
		return nil, err
	}

	return &Engine{
		cfg:     cfg,
		indexer: indexer,
		ranker: rank.New(rank.Weights{
			Lexical:  cfg.Ranking.LexicalWeight,
			Semantic: cfg.Ranking.SemanticWeight,
			Graph:    cfg.Ranking.GraphWeight,
		}, logger),
		selector: strategy.New(strategy.Thresholds{
			WholeDocMaxCandidates:  cfg.Strategy.WholeDocMaxCandidates,
			WholeDocFitFactor:      cfg.Strategy.WholeDocFitFactor,
			HierarchicalCorpusSize: cfg.Strategy.HierarchicalCorpusSize,
		}),
		packer: pack.New(pack.Options{
			SafetyMargin:          cfg.Budget.SafetyMargin,
			SummaryBudgetFraction: cfg.Strategy.SummaryBudgetFraction,
		}, counter),
		cache:    cacheMgr,
		embedder: embedder,
		counter:  counter,
		logger:   logger,
	}, nil
}

// Query runs the full pipeline: cache lookup, retrieval, ranking, strategy
// selection, packing, cache fill. Identical queries against the same index
// generation return the identical packed context.
func (e *Engine) Query(ctx context.Context, req Request) (*Response, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, engerr.New(engerr.ErrCodeQueryEmpty, "query text is empty", nil)
	}
	budget := req.Budget

	hint := strategy.Strategy(req.StrategyHint)
	if req.StrategyHint != "" && !hint.Valid() {
		e.logger.Debug("unknown_strategy_hint", slog.String("hint", req.StrategyHint))
		hint = ""
	}

	generation := e.indexer.Generation()
	// Selection is deterministic per generation, so the hint stands in for
	// the resolved strategy in the key.
	key := cache.ComputeKey(text, hint, budget, generation)
	fingerprint := cache.Fingerprint(text)

	if data := e.cache.Get(key, generation); data != nil {
		var resp Response
		if err := json.Unmarshal(data, &resp); err == nil {
			e.cache.Observe(fingerprint)
			resp.Source = "cache"
			return &resp, nil
		}
		e.logger.Warn("cache_entry_undecodable", slog.String("key", string(key)))
	}

	start := time.Now()
	resp, err := e.compute(ctx, text, hint, budget)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	// A canceled request must not poison the cache with partial work.
	if ctx.Err() == nil {
		if data, err := json.Marshal(resp); err == nil {
			e.cache.Put(key, data, generation, fingerprint, float64(elapsed.Milliseconds()))
		}
	}

	e.logger.Debug("query_computed",
		slog.String("strategy", string(resp.Strategy)),
		slog.Int("documents", len(resp.DocumentsIncluded)),
		slog.Int("tokens", resp.TokensUsed),
		slog.Duration("elapsed", elapsed))
	return resp, nil
}

// compute runs the uncached pipeline.
func (e *Engine) compute(ctx context.Context, text string, hint strategy.Strategy, budget int) (*Response, error) {
	candidates, err := e.indexer.Candidates(ctx, text, e.cfg.Index.MaxCandidates)
	if err != nil {
		return nil, err
	}
	scored := e.ranker.Score(candidates)

	snap := e.indexer.Snapshot()
	shape := candidateShape(scored, snap.CorpusSize())
	strat, reason := e.selector.Select(shape, budget, hint)

	packed := e.packer.Pack(scored, strat, budget)
	if len(packed.Units) == 0 {
		reason = packed.Reason
	}

	e.recordTelemetry(scored)

	return &Response{
		Context:           packed.Render(),
		DocumentsIncluded: packed.DocumentIDs(),
		TokensUsed:        packed.TokensUsed,
		Strategy:          strat,
		Reason:            reason,
		Source:            "computed",
	}, nil
}

// candidateShape summarizes the scored set for strategy selection.
func candidateShape(scored []*rank.ScoredCandidate, corpusSize int) strategy.Shape {
	seen := make(map[string]struct{}, len(scored))
	total := 0
	for _, s := range scored {
		if _, ok := seen[s.Document.ID]; ok {
			continue
		}
		seen[s.Document.ID] = struct{}{}
		total += s.Document.TokenCount
	}
	return strategy.Shape{
		CandidateCount: len(seen),
		TotalDocTokens: total,
		CorpusSize:     corpusSize,
	}
}

func (e *Engine) recordTelemetry(scored []*rank.ScoredCandidate) {
	semanticSeen := false
	for _, s := range scored {
		if s.Semantic > 0 {
			semanticSeen = true
			break
		}
	}

	e.tel.mu.Lock()
	e.tel.queries++
	if len(scored) > 0 && !semanticSeen {
		e.tel.semanticEmpty++
	}
	e.tel.mu.Unlock()
}

// Upsert indexes one note. Exposed for the watcher and the index command.
func (e *Engine) Upsert(ctx context.Context, id string, content []byte, modTime time.Time) error {
	return e.indexer.Upsert(ctx, id, content, modTime)
}

// Remove drops one note from the index.
func (e *Engine) Remove(ctx context.Context, id string) error {
	return e.indexer.Remove(ctx, id)
}

// Generation returns the current index generation.
func (e *Engine) Generation() uint64 {
	return e.indexer.Generation()
}

// Stats reports engine state for the stats command.
type Stats struct {
	Generation    uint64      `json:"generation"`
	Documents     int         `json:"documents"`
	Chunks        int         `json:"chunks"`
	VectorOrphans int         `json:"vector_orphans"`
	Cache         cache.Stats `json:"cache"`
	Counter       string      `json:"counter"`
	Embedder      string      `json:"embedder"`
	Weights       rank.Weights `json:"weights"`
}

// Stats returns a snapshot of engine state.
func (e *Engine) Stats() Stats {
	snap := e.indexer.Snapshot()
	return Stats{
		Generation:    snap.Generation,
		Documents:     len(snap.Documents),
		Chunks:        len(snap.Chunks),
		VectorOrphans: e.indexer.VectorOrphans(),
		Cache:         e.cache.Stats(),
		Counter:       e.counter.Name(),
		Embedder:      e.embedder.ModelName(),
		Weights:       e.ranker.Weights(),
	}
}

// Close shuts down the engine, persisting index state.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.cache.Close(); err != nil {
		firstErr = err
	}
	if err := e.indexer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.embedder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
