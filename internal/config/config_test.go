package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.InDelta(t, 1.0, cfg.Ranking.LexicalWeight+cfg.Ranking.SemanticWeight+cfg.Ranking.GraphWeight, 0.001)
	assert.Equal(t, 150_000, cfg.Budget.DefaultTokens)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Ranking, cfg.Ranking)
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copilot.yaml")

	cfg := Default()
	cfg.Budget.DefaultTokens = 100_000
	cfg.Strategy.HierarchicalCorpusSize = 10
	cfg.Optimize.Interval = time.Minute
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 100_000, loaded.Budget.DefaultTokens)
	assert.Equal(t, 10, loaded.Strategy.HierarchicalCorpusSize)
	assert.Equal(t, time.Minute, loaded.Optimize.Interval)
}

func TestLoad_VersionMismatchFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 99\nbudget:\n  default_tokens: 7\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Budget.DefaultTokens, cfg.Budget.DefaultTokens)
}

func TestLoad_EnvOverridesWeights(t *testing.T) {
	t.Setenv("COPILOT_LEXICAL_WEIGHT", "0.5")
	t.Setenv("COPILOT_SEMANTIC_WEIGHT", "0.3")
	t.Setenv("COPILOT_GRAPH_WEIGHT", "0.2")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Ranking.LexicalWeight)
	assert.Equal(t, 0.3, cfg.Ranking.SemanticWeight)
	assert.Equal(t, 0.2, cfg.Ranking.GraphWeight)
}

func TestLoad_EnvOverrideBreakingSumFails(t *testing.T) {
	t.Setenv("COPILOT_LEXICAL_WEIGHT", "0.9")

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"weights sum", func(c *Config) { c.Ranking.LexicalWeight = 0.9 }},
		{"negative weight", func(c *Config) {
			c.Ranking.LexicalWeight = -0.2
			c.Ranking.SemanticWeight = 1.0
			c.Ranking.GraphWeight = 0.2
		}},
		{"safety margin", func(c *Config) { c.Budget.SafetyMargin = 1.5 }},
		{"summary fraction", func(c *Config) { c.Strategy.SummaryBudgetFraction = 0 }},
		{"fit factor", func(c *Config) { c.Strategy.WholeDocFitFactor = 0 }},
		{"chars per token", func(c *Config) { c.Token.CharsPerToken = 0 }},
		{"max candidates", func(c *Config) { c.Index.MaxCandidates = 0 }},
		{"dimensions", func(c *Config) { c.Index.Dimensions = -1 }},
		{"cache capacity", func(c *Config) { c.Cache.RecentCapacity = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
