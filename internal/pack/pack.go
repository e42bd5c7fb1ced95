// Package pack assembles ranked content into a token budget. Units are
// atomic: a unit either fits whole or is skipped, never truncated. Packing
// walks candidates best-first and keeps trying lower-ranked units after a
// skip, so small late units can still use leftover budget.
package pack

import (
	"strings"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/rank"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/strategy"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/token"
)

// Unit is one atomic piece of packed context.
type Unit struct {
	// DocumentID is the source document.
	DocumentID string `json:"document_id"`

	// ChunkID is set for chunk-level units, empty for whole documents and
	// summaries.
	ChunkID string `json:"chunk_id,omitempty"`

	// HeaderPath locates a chunk within its document.
	HeaderPath string `json:"header_path,omitempty"`

	// Text is the included content.
	Text string `json:"text"`

	// Tokens is the unit's token count.
	Tokens int `json:"tokens"`

	// Score is the composite relevance score that earned inclusion.
	Score float64 `json:"score"`

	// Reason explains why the unit is present.
	Reason string `json:"reason"`
}

// PackedContext is the packing result.
type PackedContext struct {
	Units      []Unit            `json:"units"`
	TokensUsed int               `json:"tokens_used"`
	Budget     int               `json:"budget"`
	Strategy   strategy.Strategy `json:"strategy"`
	Reason     string            `json:"reason"`
}

// Options configures the packer.
type Options struct {
	// SafetyMargin is the budget fraction held back to absorb token count
	// drift between counting and actual model tokenization.
	SafetyMargin float64

	// SummaryBudgetFraction is the effective-budget share reserved for
	// summaries under the hierarchical strategy.
	SummaryBudgetFraction float64
}

// Packer fits ranked candidates into token budgets.
type Packer struct {
	opts    Options
	counter token.Counter
}

// New creates a packer.
func New(opts Options, counter token.Counter) *Packer {
	return &Packer{opts: opts, counter: counter}
}

// Pack assembles the context for the chosen strategy. A budget at or below
// zero is not an error: it yields an empty but valid context whose Reason
// explains the outcome.
func (p *Packer) Pack(scored []*rank.ScoredCandidate, strat strategy.Strategy, budget int) *PackedContext {
	effective := int(float64(budget) * (1 - p.opts.SafetyMargin))
	if budget <= 0 || effective <= 0 || len(scored) == 0 {
		reason := "no candidates"
		switch {
		case budget <= 0:
			reason = "no token budget"
		case effective <= 0:
			reason = "budget below the safety margin floor"
		}
		return &PackedContext{
			Units:    []Unit{},
			Budget:   budget,
			Strategy: strat,
			Reason:   reason,
		}
	}

	var units []Unit
	var reason string
	switch strat {
	case strategy.WholeDocument:
		units = p.packWholeDocuments(scored, effective)
		reason = "complete documents within budget"
	case strategy.Hierarchical:
		units = p.packHierarchical(scored, effective)
		reason = "summaries plus top-ranked detail"
	default:
		units = p.packChunks(scored, effective)
		reason = "best chunks within budget"
	}

	used := 0
	for _, u := range units {
		used += u.Tokens
	}
	return &PackedContext{
		Units:      units,
		TokensUsed: used,
		Budget:     budget,
		Strategy:   strat,
		Reason:     reason,
	}
}

// packChunks walks chunks best-first and packs every one that fits.
func (p *Packer) packChunks(scored []*rank.ScoredCandidate, budget int) []Unit {
	units := make([]Unit, 0, len(scored))
	remaining := budget
	for _, s := range scored {
		if s.Chunk.TokenCount > remaining {
			continue
		}
		units = append(units, Unit{
			DocumentID: s.Document.ID,
			ChunkID:    s.Chunk.ID,
			HeaderPath: s.Chunk.HeaderPath,
			Text:       s.Chunk.Text,
			Tokens:     s.Chunk.TokenCount,
			Score:      s.Composite,
			Reason:     "ranked chunk",
		})
		remaining -= s.Chunk.TokenCount
	}
	return units
}

// packWholeDocuments packs each candidate's complete document once, in rank
// order of the document's best chunk.
func (p *Packer) packWholeDocuments(scored []*rank.ScoredCandidate, budget int) []Unit {
	var units []Unit
	remaining := budget
	seen := make(map[string]struct{})
	for _, s := range scored {
		if _, ok := seen[s.Document.ID]; ok {
			continue
		}
		seen[s.Document.ID] = struct{}{}
		if s.Document.TokenCount > remaining {
			continue
		}
		units = append(units, Unit{
			DocumentID: s.Document.ID,
			Text:       s.Document.Text,
			Tokens:     s.Document.TokenCount,
			Score:      s.Composite,
			Reason:     "whole document",
		})
		remaining -= s.Document.TokenCount
	}
	return units
}

// packHierarchical reserves a budget slice for one summary per matched
// document, then spends the rest on top-ranked chunks.
func (p *Packer) packHierarchical(scored []*rank.ScoredCandidate, budget int) []Unit {
	summaryBudget := int(float64(budget) * p.opts.SummaryBudgetFraction)

	var units []Unit
	remaining := summaryBudget
	seen := make(map[string]struct{})
	for _, s := range scored {
		if _, ok := seen[s.Document.ID]; ok {
			continue
		}
		seen[s.Document.ID] = struct{}{}

		text := p.summarize(s)
		tokens := p.counter.Count(text)
		if tokens > remaining {
			continue
		}
		units = append(units, Unit{
			DocumentID: s.Document.ID,
			Text:       text,
			Tokens:     tokens,
			Score:      s.Composite,
			Reason:     "document summary",
		})
		remaining -= tokens
	}

	summaryUsed := summaryBudget - remaining
	detail := p.packChunks(scored, budget-summaryUsed)
	return append(units, detail...)
}

// summarize produces a short extractive summary: the title plus the
// document's leading paragraph.
func (p *Packer) summarize(s *rank.ScoredCandidate) string {
	lead := s.Document.Text
	if i := strings.Index(lead, "\n\n"); i > 0 {
		lead = lead[:i]
	}
	lead = strings.TrimSpace(lead)
	if s.Document.Title != "" && !strings.Contains(lead, s.Document.Title) {
		return s.Document.Title + "\n" + lead
	}
	return lead
}

// Render joins packed units into the final context string. Units are
// separated by a blank line and prefixed with their source location.
func (c *PackedContext) Render() string {
	var b strings.Builder
	for i, u := range c.Units {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("<!-- ")
		b.WriteString(u.DocumentID)
		if u.HeaderPath != "" {
			b.WriteString(" :: ")
			b.WriteString(u.HeaderPath)
		}
		b.WriteString(" -->\n")
		b.WriteString(u.Text)
	}
	return b.String()
}

// DocumentIDs returns the distinct documents represented in the context,
// in first-appearance order.
func (c *PackedContext) DocumentIDs() []string {
	seen := make(map[string]struct{}, len(c.Units))
	var out []string
	for _, u := range c.Units {
		if _, ok := seen[u.DocumentID]; ok {
			continue
		}
		seen[u.DocumentID] = struct{}{}
		out = append(out, u.DocumentID)
	}
	return out
}
