package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/config"
	engerr "github.com/caioniehues/obsidian-copilot-sub001/internal/errors"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/strategy"
)

func testEngine(t *testing.T, vaultPath string) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Vault.Path = vaultPath
	cfg.Token.Encoding = "" // estimator only; no BPE data in tests
	cfg.Index.Dimensions = 64

	e, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func seedNotes(t *testing.T, e *Engine, notes map[string]string) {
	t.Helper()
	for id, content := range notes {
		require.NoError(t, e.Upsert(context.Background(), id, []byte(content), time.Now()))
	}
}

func TestQuery_Validation(t *testing.T) {
	e := testEngine(t, t.TempDir())

	t.Run("empty text", func(t *testing.T) {
		_, err := e.Query(context.Background(), Request{Text: "   "})
		require.Error(t, err)
		assert.Equal(t, engerr.ErrCodeQueryEmpty, engerr.GetCode(err))
	})
}

func TestQuery_NonPositiveBudget(t *testing.T) {
	e := testEngine(t, t.TempDir())
	seedNotes(t, e, map[string]string{
		"a.md": "# Alpha\n\nA note about harbors.\n",
	})

	// Zero and negative budgets are answered with an empty valid context,
	// never an error.
	for _, budget := range []int{0, -5} {
		resp, err := e.Query(context.Background(), Request{Text: "harbors", Budget: budget})
		require.NoError(t, err)
		assert.Empty(t, resp.Context)
		assert.Empty(t, resp.DocumentsIncluded)
		assert.Zero(t, resp.TokensUsed)
		assert.Equal(t, "no token budget", resp.Reason)
	}
}

func TestQuery_ComputedThenCached(t *testing.T) {
	e := testEngine(t, t.TempDir())
	seedNotes(t, e, map[string]string{
		"cache.md": "# Cache Design\n\nTiered eviction with composite scoring and demotion.\n",
		"pack.md":  "# Packing\n\nFirst fit within the token budget, units never split.\n",
	})

	req := Request{Text: "tiered eviction scoring", Budget: 10_000}

	first, err := e.Query(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "computed", first.Source)
	require.NotEmpty(t, first.DocumentsIncluded)

	second, err := e.Query(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "cache", second.Source)

	// The cached response is identical apart from its source.
	assert.Equal(t, first.Context, second.Context)
	assert.Equal(t, first.DocumentsIncluded, second.DocumentsIncluded)
	assert.Equal(t, first.TokensUsed, second.TokensUsed)
	assert.Equal(t, first.Strategy, second.Strategy)
}

func TestQuery_GenerationChangeInvalidatesCache(t *testing.T) {
	e := testEngine(t, t.TempDir())
	seedNotes(t, e, map[string]string{
		"a.md": "# Alpha\n\nNotes about sailing knots.\n",
	})

	req := Request{Text: "sailing knots", Budget: 10_000}
	_, err := e.Query(context.Background(), req)
	require.NoError(t, err)

	seedNotes(t, e, map[string]string{
		"b.md": "# Beta\n\nMore sailing knots and rigging.\n",
	})

	resp, err := e.Query(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "computed", resp.Source, "new generation must bypass the old cache entry")
}

func TestQuery_StrategyHint(t *testing.T) {
	e := testEngine(t, t.TempDir())
	seedNotes(t, e, map[string]string{
		"a.md": "# Alpha\n\nShort note about tides.\n",
	})

	resp, err := e.Query(context.Background(), Request{
		Text:         "tides",
		Budget:       10_000,
		StrategyHint: string(strategy.Hierarchical),
	})
	require.NoError(t, err)
	assert.Equal(t, strategy.Hierarchical, resp.Strategy)
}

func TestQuery_EmptyCorpus(t *testing.T) {
	e := testEngine(t, t.TempDir())

	resp, err := e.Query(context.Background(), Request{Text: "anything", Budget: 1_000})
	require.NoError(t, err)
	assert.Empty(t, resp.DocumentsIncluded)
	assert.Zero(t, resp.TokensUsed)
	assert.Equal(t, "computed", resp.Source)
}


func TestReindexVault(t *testing.T) {
	vault := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(vault, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("top.md", "# Top\n\nHarbor logistics.\n")
	write("sub/nested.md", "# Nested\n\nDock schedules.\n")
	write(".obsidian/workspace.md", "editor state, never indexed")
	write("notes.txt", "not markdown")

	e := testEngine(t, vault)

	indexed, skipped, removed, err := e.ReindexVault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, indexed)
	assert.Zero(t, skipped)
	assert.Zero(t, removed)

	// Deleting a file and rescanning drops it from the index.
	require.NoError(t, os.Remove(filepath.Join(vault, "top.md")))
	_, _, removed, err = e.ReindexVault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	resp, err := e.Query(context.Background(), Request{Text: "harbor logistics", Budget: 5_000})
	require.NoError(t, err)
	assert.NotContains(t, resp.DocumentsIncluded, "top.md")
}

func TestReindexVault_Idempotent(t *testing.T) {
	vault := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(vault, "a.md"), []byte("# A\n\nbody\n"), 0o644))

	e := testEngine(t, vault)
	_, _, _, err := e.ReindexVault(context.Background())
	require.NoError(t, err)
	gen := e.Generation()

	_, _, _, err = e.ReindexVault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gen, e.Generation(), "unchanged files must not bump the generation")
}

func TestOptimize(t *testing.T) {
	e := testEngine(t, t.TempDir())
	seedNotes(t, e, map[string]string{
		"a.md": "# Alpha\n\nLighthouse maintenance.\n",
	})

	_, err := e.Query(context.Background(), Request{Text: "lighthouse", Budget: 5_000})
	require.NoError(t, err)

	// A write makes the cached entry stale; the pass sweeps it.
	seedNotes(t, e, map[string]string{
		"b.md": "# Beta\n\nFoghorn testing.\n",
	})
	e.Optimize(context.Background())

	resp, err := e.Query(context.Background(), Request{Text: "lighthouse", Budget: 5_000})
	require.NoError(t, err)
	assert.Equal(t, "computed", resp.Source)
}

func TestStats(t *testing.T) {
	e := testEngine(t, t.TempDir())
	seedNotes(t, e, map[string]string{
		"a.md": "# Alpha\n\nPier inspections.\n",
	})

	s := e.Stats()
	assert.Equal(t, uint64(1), s.Generation)
	assert.Equal(t, 1, s.Documents)
	assert.Positive(t, s.Chunks)
	assert.Equal(t, "estimated", s.Counter)
	assert.InDelta(t, 1.0, s.Weights.Lexical+s.Weights.Semantic+s.Weights.Graph, 0.001)
}

func TestStartOptimizer_StopsOnCancel(t *testing.T) {
	e := testEngine(t, t.TempDir())
	e.cfg.Optimize.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := e.StartOptimizer(ctx)

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("optimizer did not stop after cancel")
	}
}
