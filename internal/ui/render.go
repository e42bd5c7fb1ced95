package ui

import (
	"fmt"
	"strings"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/engine"
)

// RenderResponse formats a query response for the terminal. The packed
// context itself is printed verbatim; only the surrounding summary is styled.
func RenderResponse(resp *engine.Response, styles Styles) string {
	var b strings.Builder

	b.WriteString(styles.Header.Render("Context"))
	b.WriteString(styles.Dim.Render(fmt.Sprintf("  strategy=%s  tokens=%d  source=%s",
		resp.Strategy, resp.TokensUsed, resp.Source)))
	b.WriteString("\n")
	if resp.Reason != "" {
		b.WriteString(styles.Dim.Render("  " + resp.Reason))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(resp.DocumentsIncluded) == 0 {
		b.WriteString(styles.Warning.Render("no matching notes"))
		b.WriteString("\n")
		return b.String()
	}

	for _, id := range resp.DocumentsIncluded {
		b.WriteString(styles.Label.Render("  - "))
		b.WriteString(styles.Value.Render(id))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(resp.Context)
	b.WriteString("\n")
	return b.String()
}

// RenderStats formats engine statistics as an aligned key/value listing.
func RenderStats(s engine.Stats, styles Styles) string {
	var b strings.Builder
	b.WriteString(styles.Header.Render("Engine"))
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString(styles.Label.Render(fmt.Sprintf("  %-16s", label)))
		b.WriteString(styles.Value.Render(value))
		b.WriteString("\n")
	}

	row("generation", fmt.Sprintf("%d", s.Generation))
	row("documents", fmt.Sprintf("%d", s.Documents))
	row("chunks", fmt.Sprintf("%d", s.Chunks))
	row("vector orphans", fmt.Sprintf("%d", s.VectorOrphans))
	row("counter", s.Counter)
	row("embedder", s.Embedder)
	row("weights", fmt.Sprintf("lexical=%.2f semantic=%.2f graph=%.2f",
		s.Weights.Lexical, s.Weights.Semantic, s.Weights.Graph))

	b.WriteString(styles.Header.Render("Cache"))
	b.WriteString("\n")
	row("recent hits", fmt.Sprintf("%d", s.Cache.RecentHits))
	row("frequent hits", fmt.Sprintf("%d", s.Cache.FrequentHits))
	row("common hits", fmt.Sprintf("%d", s.Cache.CommonHits))
	row("misses", fmt.Sprintf("%d", s.Cache.Misses))
	row("stale evicted", fmt.Sprintf("%d", s.Cache.StaleEvicted))
	return b.String()
}
