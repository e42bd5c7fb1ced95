package cache

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/strategy"
)

func testConfig(path string) Config {
	return Config{
		RecentSize:   2,
		FrequentSize: 2,
		CommonSize:   4,
		Weights:      Weights{Frequency: 0.35, Recency: 0.35, Similarity: 0.15, Cost: 0.15},
		Path:         path,
	}
}

func newTestManager(t *testing.T, path string) *Manager {
	t.Helper()
	m, err := New(testConfig(path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestComputeKey(t *testing.T) {
	base := ComputeKey("how does packing work", strategy.Chunked, 100_000, 7)

	t.Run("normalizes whitespace and case", func(t *testing.T) {
		assert.Equal(t, base, ComputeKey("  How   DOES packing\twork ", strategy.Chunked, 100_000, 7))
	})
	t.Run("varies with each component", func(t *testing.T) {
		assert.NotEqual(t, base, ComputeKey("how does packing work", strategy.Hierarchical, 100_000, 7))
		assert.NotEqual(t, base, ComputeKey("how does packing work", strategy.Chunked, 50_000, 7))
		assert.NotEqual(t, base, ComputeKey("how does packing work", strategy.Chunked, 100_000, 8))
	})
}

func TestManager_PutGet(t *testing.T) {
	m := newTestManager(t, "")
	key := ComputeKey("q", strategy.Chunked, 1000, 1)

	assert.Nil(t, m.Get(key, 1))
	m.Put(key, []byte("packed"), 1, Fingerprint("q"), 12.5)
	assert.Equal(t, []byte("packed"), m.Get(key, 1))

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.RecentHits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestManager_StaleGenerationIsMiss(t *testing.T) {
	m := newTestManager(t, "")
	key := ComputeKey("q", strategy.Chunked, 1000, 1)

	m.Put(key, []byte("old"), 1, Fingerprint("q"), 1)
	assert.Nil(t, m.Get(key, 2), "entry from an older generation must not be served")

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.StaleEvicted)

	// The stale entry was dropped outright, not demoted.
	_, frequent, _ := m.Len()
	assert.Zero(t, frequent)
}

func TestManager_DemotionToFrequentTier(t *testing.T) {
	m := newTestManager(t, "")

	// RecentSize is 2; the third put pushes the oldest into the frequent tier.
	for i := 0; i < 3; i++ {
		key := ComputeKey(fmt.Sprintf("q%d", i), strategy.Chunked, 1000, 1)
		m.Put(key, []byte{byte(i)}, 1, 0, 1)
	}

	recent, frequent, _ := m.Len()
	assert.Equal(t, 2, recent)
	assert.Equal(t, 1, frequent)

	// The demoted entry is still retrievable and gets promoted back.
	first := ComputeKey("q0", strategy.Chunked, 1000, 1)
	assert.Equal(t, []byte{0}, m.Get(first, 1))
	assert.Equal(t, uint64(1), m.Stats().FrequentHits)
}

func TestManager_DemotionToCommonTier(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, filepath.Join(dir, "cache.db"))

	// Fill recent (2) and frequent (2); further puts overflow to disk.
	for i := 0; i < 5; i++ {
		key := ComputeKey(fmt.Sprintf("q%d", i), strategy.Chunked, 1000, 1)
		m.Put(key, []byte{byte(i)}, 1, 0, 1)
	}

	_, _, common := m.Len()
	assert.Equal(t, 1, common)

	// A disk hit comes back and is promoted.
	before := m.Stats()
	for i := 0; i < 5; i++ {
		key := ComputeKey(fmt.Sprintf("q%d", i), strategy.Chunked, 1000, 1)
		assert.Equal(t, []byte{byte(i)}, m.Get(key, 1))
	}
	after := m.Stats()
	assert.Greater(t, after.CommonHits, before.CommonHits)
}

func TestManager_EvictionPrefersLowScore(t *testing.T) {
	m := newTestManager(t, "")

	hot := ComputeKey("hot", strategy.Chunked, 1000, 1)
	m.Put(hot, []byte("hot"), 1, Fingerprint("hot"), 1)
	// Repeated hits raise the hot entry's frequency.
	for i := 0; i < 5; i++ {
		m.Get(hot, 1)
	}

	// Push entries through until the frequent tier must evict. The hot
	// entry's frequency should keep it resident somewhere in memory.
	for i := 0; i < 6; i++ {
		key := ComputeKey(fmt.Sprintf("cold%d", i), strategy.Chunked, 1000, 1)
		m.Put(key, []byte("cold"), 1, 0, 1)
	}

	assert.Equal(t, []byte("hot"), m.Get(hot, 1))
	stats := m.Stats()
	assert.Zero(t, stats.CommonHits, "hot entry must not have been demoted to disk")
}

func TestManager_PurgeStale(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, filepath.Join(dir, "cache.db"))

	for i := 0; i < 5; i++ {
		key := ComputeKey(fmt.Sprintf("q%d", i), strategy.Chunked, 1000, 1)
		m.Put(key, []byte("v"), 1, 0, 1)
	}
	fresh := ComputeKey("fresh", strategy.Chunked, 1000, 2)
	m.Put(fresh, []byte("fresh"), 2, 0, 1)

	m.PurgeStale(2)

	recent, frequent, common := m.Len()
	assert.Equal(t, 1, recent+frequent+common)
	assert.Equal(t, []byte("fresh"), m.Get(fresh, 2))
}

func TestManager_CommonTierSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	key := ComputeKey("durable", strategy.Chunked, 1000, 1)

	m, err := New(testConfig(path), nil)
	require.NoError(t, err)
	// Overflow both memory tiers so "durable" lands on disk.
	m.Put(key, []byte("durable"), 1, 0, 1)
	for i := 0; i < 4; i++ {
		k := ComputeKey(fmt.Sprintf("filler%d", i), strategy.Chunked, 1000, 1)
		m.Put(k, []byte("filler"), 1, 0, 100)
	}
	require.NoError(t, m.Close())

	reopened := newTestManager(t, path)
	assert.Equal(t, []byte("durable"), reopened.Get(key, 1))
}

func TestCommonTier_TrimEvictsLowestScore(t *testing.T) {
	dir := t.TempDir()
	tier, err := openCommonTier(filepath.Join(dir, "cache.db"), 2, testConfig("").Weights)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tier.close() })

	// High frequency and cost must outweigh an hour of staleness.
	valuable := &Entry{
		Key:        "valuable",
		Value:      []byte("v"),
		Generation: 1,
		Frequency:  100,
		Cost:       5000,
		LastAccess: time.Now().Add(-time.Hour),
	}
	require.NoError(t, tier.put(valuable, 0))

	for i, key := range []Key{"fresh-a", "fresh-b"} {
		e := &Entry{
			Key:        key,
			Value:      []byte("v"),
			Generation: 1,
			Frequency:  1,
			Cost:       1,
			LastAccess: time.Now().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, tier.put(e, 0))
	}

	got, err := tier.get("valuable")
	require.NoError(t, err)
	assert.NotNil(t, got, "the highest scoring entry must survive the trim")

	n, err := tier.count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("token budget packing engine")
	b := Fingerprint("packing budget token engine")
	c := Fingerprint("completely unrelated gardening advice")

	assert.Equal(t, a, b, "fingerprint ignores token order")
	assert.Greater(t, similarity(a, b), similarity(a, c))
	assert.Equal(t, 1.0, similarity(a, a))
}

func TestManager_RetuneGrowsRecentTier(t *testing.T) {
	m := newTestManager(t, "")

	// Drive hits through the frequent tier: overflow recent, then re-read
	// the demoted entries.
	for i := 0; i < 4; i++ {
		key := ComputeKey(fmt.Sprintf("q%d", i), strategy.Chunked, 1000, 1)
		m.Put(key, []byte("v"), 1, 0, 1)
	}
	for i := 0; i < 2; i++ {
		key := ComputeKey(fmt.Sprintf("q%d", i), strategy.Chunked, 1000, 1)
		m.Get(key, 1)
	}
	require.Greater(t, m.Stats().FrequentHits, m.Stats().RecentHits)

	m.Retune()

	// With a larger recent tier, a put burst of 3 no longer overflows.
	before, _, _ := m.Len()
	assert.Greater(t, before, 0)
	for i := 10; i < 13; i++ {
		key := ComputeKey(fmt.Sprintf("q%d", i), strategy.Chunked, 1000, 1)
		m.Put(key, []byte("v"), 1, 0, 1)
	}
	recent, _, _ := m.Len()
	assert.GreaterOrEqual(t, recent, 3)
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := newTestManager(t, "")
	done := make(chan struct{})

	for w := 0; w < 4; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				key := ComputeKey(fmt.Sprintf("w%d-q%d", w, i%5), strategy.Chunked, 1000, 1)
				if m.Get(key, 1) == nil {
					m.Put(key, []byte("v"), 1, 0, 1)
				}
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		<-done
	}
}
