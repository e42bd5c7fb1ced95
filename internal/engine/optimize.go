package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/rank"
)

// orphanCompactThreshold is the lazy-deleted vector count above which the
// optimize pass rebuilds the HNSW graph.
const orphanCompactThreshold = 128

// semanticStarvedRatio is the fraction of queries without any semantic
// signal above which weight shifts toward the lexical leg.
const semanticStarvedRatio = 0.5

// Optimize runs one background maintenance pass: sweep stale cache entries,
// compact the vector graph when lazy deletions pile up, and re-tune ranking
// weights from the observed query mix. Never runs on the query path.
func (e *Engine) Optimize(ctx context.Context) {
	generation := e.indexer.Generation()
	e.cache.PurgeStale(generation)
	e.cache.Retune()

	if orphans := e.indexer.VectorOrphans(); orphans > orphanCompactThreshold {
		if err := e.indexer.Compact(); err != nil {
			e.logger.Warn("vector_compact_failed", slog.String("error", err.Error()))
		} else {
			e.logger.Info("vector_compacted", slog.Int("orphans_removed", orphans))
		}
	}

	e.retuneWeights()
}

// retuneWeights shifts weight from the semantic to the lexical signal when
// most recent queries saw no semantic scores at all (embeddings missing or
// the vector leg degraded). The graph weight is left alone; telemetry
// counters reset after each pass so tuning tracks the recent workload.
func (e *Engine) retuneWeights() {
	e.tel.mu.Lock()
	queries := e.tel.queries
	starved := e.tel.semanticEmpty
	e.tel.queries = 0
	e.tel.semanticEmpty = 0
	e.tel.mu.Unlock()

	if queries < 10 {
		return // Too little signal to act on
	}

	w := e.ranker.Weights()
	if float64(starved)/float64(queries) > semanticStarvedRatio && w.Semantic > 0 {
		retuned := rank.Weights{
			Lexical:  w.Lexical + w.Semantic,
			Semantic: 0,
			Graph:    w.Graph,
		}
		e.ranker.SetWeights(retuned)
		e.logger.Info("weights_retuned",
			slog.Float64("lexical", retuned.Lexical),
			slog.Float64("semantic", retuned.Semantic),
			slog.Float64("graph", retuned.Graph),
			slog.Uint64("starved_queries", starved),
			slog.Uint64("queries", queries))
	}
}

// StartOptimizer runs Optimize on the configured interval until ctx is
// canceled. The returned channel closes when the loop exits.
func (e *Engine) StartOptimizer(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.cfg.Optimize.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Optimize(ctx)
			}
		}
	}()
	return done
}
