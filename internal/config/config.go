// Package config loads, validates, and persists engine configuration.
//
// Configuration precedence, lowest to highest:
//  1. Built-in defaults
//  2. Config file (copilot.yaml in the vault root or an explicit path)
//  3. Environment variables (COPILOT_LEXICAL_WEIGHT, COPILOT_SEMANTIC_WEIGHT,
//     COPILOT_GRAPH_WEIGHT)
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config schema version. A mismatch on load forces
// defaults rather than a partial migration.
const CurrentVersion = 1

// Config represents the complete engine configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Vault    VaultConfig    `yaml:"vault" json:"vault"`
	Index    IndexConfig    `yaml:"index" json:"index"`
	Ranking  RankingConfig  `yaml:"ranking" json:"ranking"`
	Strategy StrategyConfig `yaml:"strategy" json:"strategy"`
	Budget   BudgetConfig   `yaml:"budget" json:"budget"`
	Token    TokenConfig    `yaml:"token" json:"token"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Optimize OptimizeConfig `yaml:"optimize" json:"optimize"`
	Watch    WatchConfig    `yaml:"watch" json:"watch"`
	LogLevel string         `yaml:"log_level" json:"log_level"`
}

// VaultConfig configures which notes are indexed.
type VaultConfig struct {
	// Path is the vault root directory.
	Path string `yaml:"path" json:"path"`
	// Include is the set of glob patterns to index (default: **/*.md).
	Include []string `yaml:"include" json:"include"`
	// Exclude is the set of glob patterns to skip.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// IndexConfig configures the lexical and semantic indices.
type IndexConfig struct {
	// Dir is the directory holding persisted index state.
	// Empty means in-memory only (tests).
	Dir string `yaml:"dir" json:"dir"`

	// MaxCandidates caps the candidate superset handed to the ranker.
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates"`

	// Dimensions is the embedding vector dimension.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// M is HNSW max connections per layer.
	M int `yaml:"hnsw_m" json:"hnsw_m"`

	// EfSearch is HNSW query-time search width.
	EfSearch int `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
}

// RankingConfig holds the composite score weights.
// Weights must sum to 1.0. Scoring code receives this struct explicitly;
// no weight constant lives anywhere else.
type RankingConfig struct {
	// LexicalWeight is the weight for BM25 keyword matching.
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`

	// SemanticWeight is the weight for embedding cosine similarity.
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`

	// GraphWeight is the weight for the wikilink adjacency boost.
	GraphWeight float64 `yaml:"graph_weight" json:"graph_weight"`
}

// StrategyConfig holds the strategy selection thresholds.
type StrategyConfig struct {
	// WholeDocMaxCandidates is the largest candidate set still eligible
	// for the whole-document strategy.
	WholeDocMaxCandidates int `yaml:"whole_doc_max_candidates" json:"whole_doc_max_candidates"`

	// WholeDocFitFactor requires each document to fit within this fraction
	// of the budget for the whole-document strategy.
	WholeDocFitFactor float64 `yaml:"whole_doc_fit_factor" json:"whole_doc_fit_factor"`

	// HierarchicalCorpusSize is the corpus size above which the
	// hierarchical strategy is chosen.
	HierarchicalCorpusSize int `yaml:"hierarchical_corpus_size" json:"hierarchical_corpus_size"`

	// SummaryBudgetFraction is the budget share reserved for summaries in
	// the hierarchical strategy.
	SummaryBudgetFraction float64 `yaml:"summary_budget_fraction" json:"summary_budget_fraction"`
}

// BudgetConfig configures token budgets.
type BudgetConfig struct {
	// DefaultTokens is the budget used when a query does not supply one.
	DefaultTokens int `yaml:"default_tokens" json:"default_tokens"`

	// SafetyMargin shaves this fraction off the nominal budget so the
	// estimate-based packing never overflows the true model budget.
	SafetyMargin float64 `yaml:"safety_margin" json:"safety_margin"`
}

// TokenConfig configures token counting.
type TokenConfig struct {
	// Encoding is the tiktoken encoding name (default: cl100k_base).
	Encoding string `yaml:"encoding" json:"encoding"`

	// CharsPerToken is the estimation divisor used when tiktoken is
	// unavailable. The ratio is a coarse heuristic; validate empirically
	// against the downstream model's tokenizer.
	CharsPerToken float64 `yaml:"chars_per_token" json:"chars_per_token"`
}

// CacheConfig configures the tiered context cache.
type CacheConfig struct {
	// RecentCapacity is the entry capacity of the most-recent tier.
	RecentCapacity int `yaml:"recent_capacity" json:"recent_capacity"`

	// FrequentCapacity is the entry capacity of the most-frequent tier.
	FrequentCapacity int `yaml:"frequent_capacity" json:"frequent_capacity"`

	// CommonCapacity is the entry capacity of the disk-backed tier.
	CommonCapacity int `yaml:"common_capacity" json:"common_capacity"`

	// Path is the disk tier database path. Empty means in-memory.
	Path string `yaml:"path" json:"path"`

	// Eviction weights for the composite score
	// a*frequency + b*recency + c*similarity + d*cost.
	FrequencyWeight  float64 `yaml:"frequency_weight" json:"frequency_weight"`
	RecencyWeight    float64 `yaml:"recency_weight" json:"recency_weight"`
	SimilarityWeight float64 `yaml:"similarity_weight" json:"similarity_weight"`
	CostWeight       float64 `yaml:"cost_weight" json:"cost_weight"`
}

// OptimizeConfig configures the background tuning loop.
type OptimizeConfig struct {
	// Interval between optimization passes.
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// WatchConfig configures the vault file watcher.
type WatchConfig struct {
	// Debounce is the window for coalescing rapid file events.
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Vault: VaultConfig{
			Include: []string{"**/*.md"},
			Exclude: []string{".obsidian/**", ".trash/**"},
		},
		Index: IndexConfig{
			MaxCandidates: 200,
			Dimensions:    256,
			M:             16,
			EfSearch:      64,
		},
		Ranking: RankingConfig{
			LexicalWeight:  0.4,
			SemanticWeight: 0.4,
			GraphWeight:    0.2,
		},
		Strategy: StrategyConfig{
			WholeDocMaxCandidates:  8,
			WholeDocFitFactor:      0.5,
			HierarchicalCorpusSize: 64,
			SummaryBudgetFraction:  0.2,
		},
		Budget: BudgetConfig{
			DefaultTokens: 150_000,
			SafetyMargin:  0.05,
		},
		Token: TokenConfig{
			Encoding:      "cl100k_base",
			CharsPerToken: 4.0,
		},
		Cache: CacheConfig{
			RecentCapacity:   32,
			FrequentCapacity: 128,
			CommonCapacity:   1024,
			FrequencyWeight:  0.35,
			RecencyWeight:    0.35,
			SimilarityWeight: 0.15,
			CostWeight:       0.15,
		},
		Optimize: OptimizeConfig{
			Interval: 5 * time.Minute,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from path, applies env overrides, and validates.
// A missing file returns defaults; a version mismatch also returns defaults
// rather than attempting partial migration.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		cfg = Default()
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	sum := c.Ranking.LexicalWeight + c.Ranking.SemanticWeight + c.Ranking.GraphWeight
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("ranking weights must sum to 1.0, got %.3f", sum)
	}
	if c.Ranking.LexicalWeight < 0 || c.Ranking.SemanticWeight < 0 || c.Ranking.GraphWeight < 0 {
		return fmt.Errorf("ranking weights must be non-negative")
	}
	if c.Budget.SafetyMargin < 0 || c.Budget.SafetyMargin >= 1 {
		return fmt.Errorf("safety margin must be in [0, 1), got %.3f", c.Budget.SafetyMargin)
	}
	if f := c.Strategy.SummaryBudgetFraction; f <= 0 || f >= 1 {
		return fmt.Errorf("summary budget fraction must be in (0, 1), got %.3f", f)
	}
	if c.Strategy.WholeDocFitFactor <= 0 || c.Strategy.WholeDocFitFactor > 1 {
		return fmt.Errorf("whole-doc fit factor must be in (0, 1], got %.3f", c.Strategy.WholeDocFitFactor)
	}
	if c.Token.CharsPerToken <= 0 {
		return fmt.Errorf("chars per token must be positive, got %.2f", c.Token.CharsPerToken)
	}
	if c.Index.MaxCandidates <= 0 {
		return fmt.Errorf("max candidates must be positive, got %d", c.Index.MaxCandidates)
	}
	if c.Index.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Index.Dimensions)
	}
	if c.Cache.RecentCapacity <= 0 || c.Cache.FrequentCapacity <= 0 || c.Cache.CommonCapacity <= 0 {
		return fmt.Errorf("cache tier capacities must be positive")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides for the ranking
// weights. Invalid values are ignored; Validate catches inconsistent sums.
func applyEnvOverrides(cfg *Config) {
	if v, ok := envFloat("COPILOT_LEXICAL_WEIGHT"); ok {
		cfg.Ranking.LexicalWeight = v
	}
	if v, ok := envFloat("COPILOT_SEMANTIC_WEIGHT"); ok {
		cfg.Ranking.SemanticWeight = v
	}
	if v, ok := envFloat("COPILOT_GRAPH_WEIGHT"); ok {
		cfg.Ranking.GraphWeight = v
	}
}

func envFloat(key string) (float64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
