// Package cache keeps recently assembled contexts across three tiers: a
// small LRU of hot entries, a scored mid tier, and a SQLite-backed disk
// tier that survives restarts. Eviction demotes tier by tier rather than
// discarding, so a context only falls off the end of the disk tier.
//
// Keys incorporate the index generation, so entries built against an older
// corpus simply never match again. Stale entries are reaped lazily on
// access and in bulk by the background optimize pass.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	engerr "github.com/caioniehues/obsidian-copilot-sub001/internal/errors"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/strategy"
)

// Key identifies a cached context.
type Key string

// ComputeKey derives the cache key for a query. The query text is
// whitespace-normalized and lowercased first, so trivially reworded queries
// share an entry. The index generation is part of the key, which makes
// entries from older generations unreachable without an eager sweep.
func ComputeKey(query string, strat strategy.Strategy, budget int, generation uint64) Key {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d\x00%d", normalized, strat, budget, generation)))
	return Key(hex.EncodeToString(sum[:16]))
}

// Entry is one cached context with its bookkeeping.
type Entry struct {
	Key         Key
	Value       []byte
	Generation  uint64
	Fingerprint uint64
	Frequency   int
	LastAccess  time.Time
	Cost        float64 // compute cost of the original miss, in milliseconds
}

// Weights blend the eviction score components. Higher scores survive.
type Weights struct {
	Frequency  float64
	Recency    float64
	Similarity float64
	Cost       float64
}

// Config configures the cache manager.
type Config struct {
	// RecentSize, FrequentSize, and CommonSize cap the three tiers.
	RecentSize   int
	FrequentSize int
	CommonSize   int

	// Weights tune the frequent tier's eviction score.
	Weights Weights

	// Path is the SQLite file for the common tier. Empty disables the
	// disk tier; demotions out of the frequent tier are then dropped.
	Path string
}

// Stats counts cache outcomes per tier.
type Stats struct {
	RecentHits   uint64
	FrequentHits uint64
	CommonHits   uint64
	Misses       uint64
	StaleEvicted uint64
}

// Manager is the tiered cache. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	recent   *lru.Cache[Key, *Entry]
	frequent map[Key]*Entry
	common   *commonTier

	cfg       Config
	recentCap int
	stats     Stats
	logger    *slog.Logger

	// lastFingerprint is the most recent query's fingerprint; the eviction
	// score's similarity component compares stored entries against it.
	lastFingerprint uint64

	// dropping suppresses demotion while intentionally discarding entries;
	// recent.Remove fires the eviction callback like any other eviction.
	dropping bool
}

// New creates the cache manager and opens the disk tier when configured.
func New(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		frequent:  make(map[Key]*Entry),
		cfg:       cfg,
		recentCap: cfg.RecentSize,
		logger:    logger,
	}

	recent, err := lru.NewWithEvict[Key, *Entry](cfg.RecentSize, m.onRecentEvict)
	if err != nil {
		return nil, fmt.Errorf("create recent tier: %w", err)
	}
	m.recent = recent

	if cfg.Path != "" {
		common, err := openCommonTier(cfg.Path, cfg.CommonSize, cfg.Weights)
		if err != nil {
			return nil, engerr.Wrap(engerr.ErrCodeCacheFailed, err)
		}
		m.common = common
	}

	return m, nil
}

// Get returns the cached value for key, or nil on miss. An entry stored
// against a different index generation counts as a miss and is dropped.
// Hits in lower tiers are promoted back to the recent tier.
func (m *Manager) Get(key Key, generation uint64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.recent.Get(key); ok {
		if e.Generation != generation {
			m.discard(key)
			m.stats.StaleEvicted++
			m.stats.Misses++
			return nil
		}
		m.touch(e)
		m.stats.RecentHits++
		return e.Value
	}

	if e, ok := m.frequent[key]; ok {
		delete(m.frequent, key)
		if e.Generation != generation {
			m.stats.StaleEvicted++
			m.stats.Misses++
			return nil
		}
		m.touch(e)
		m.recent.Add(key, e)
		m.stats.FrequentHits++
		return e.Value
	}

	if m.common != nil {
		e, err := m.common.get(key)
		if err != nil {
			m.logger.Warn("cache_disk_read_failed", slog.String("error", err.Error()))
			m.stats.Misses++
			return nil
		}
		if e != nil {
			_ = m.common.delete(key)
			if e.Generation != generation {
				m.stats.StaleEvicted++
				m.stats.Misses++
				return nil
			}
			m.touch(e)
			m.recent.Add(key, e)
			m.stats.CommonHits++
			return e.Value
		}
	}

	m.stats.Misses++
	return nil
}

// Put stores a computed context. cost is the compute time of the miss in
// milliseconds; expensive entries are favored at eviction time.
func (m *Manager) Put(key Key, value []byte, generation uint64, fingerprint uint64, cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastFingerprint = fingerprint
	m.recent.Add(key, &Entry{
		Key:         key,
		Value:       value,
		Generation:  generation,
		Fingerprint: fingerprint,
		Frequency:   1,
		LastAccess:  time.Now(),
		Cost:        cost,
	})
}

// Observe records the current query's fingerprint without storing anything.
// Called on cache hits so the similarity component tracks the live workload.
func (m *Manager) Observe(fingerprint uint64) {
	m.mu.Lock()
	m.lastFingerprint = fingerprint
	m.mu.Unlock()
}

func (m *Manager) touch(e *Entry) {
	e.Frequency++
	e.LastAccess = time.Now()
}

// discard removes a key from the recent tier without demoting it.
func (m *Manager) discard(key Key) {
	m.dropping = true
	m.recent.Remove(key)
	m.dropping = false
}

// onRecentEvict demotes an entry pushed out of the LRU into the frequent
// tier, evicting the lowest scoring frequent entry to disk if needed.
// Runs with m.mu held, via recent.Add.
func (m *Manager) onRecentEvict(key Key, e *Entry) {
	if m.dropping {
		return
	}
	if m.cfg.FrequentSize <= 0 {
		m.demoteToCommon(e)
		return
	}

	if len(m.frequent) >= m.cfg.FrequentSize {
		victim := m.lowestScoring()
		if victim != nil {
			delete(m.frequent, victim.Key)
			m.demoteToCommon(victim)
		}
	}
	m.frequent[key] = e
}

// lowestScoring finds the frequent entry with the smallest eviction score.
// Ties evict the oldest last-access; a residual key tie-break keeps
// eviction deterministic.
func (m *Manager) lowestScoring() *Entry {
	var victim *Entry
	var victimScore float64
	now := time.Now()

	var maxFreq int
	var maxCost float64
	for _, e := range m.frequent {
		if e.Frequency > maxFreq {
			maxFreq = e.Frequency
		}
		if e.Cost > maxCost {
			maxCost = e.Cost
		}
	}

	for _, e := range m.frequent {
		s := compositeScore(m.cfg.Weights, e, now, maxFreq, maxCost, m.lastFingerprint)
		switch {
		case victim == nil || s < victimScore:
			victim = e
			victimScore = s
		case s == victimScore && e.LastAccess.Before(victim.LastAccess):
			victim = e
		case s == victimScore && e.LastAccess.Equal(victim.LastAccess) && e.Key < victim.Key:
			victim = e
		}
	}
	return victim
}

// compositeScore blends normalized frequency, recency, similarity to the
// current workload, and original compute cost. Both the frequent and the
// common tier evict their lowest scoring entry using this blend.
func compositeScore(w Weights, e *Entry, now time.Time, maxFreq int, maxCost float64, lastFingerprint uint64) float64 {
	freq := 0.0
	if maxFreq > 0 {
		freq = float64(e.Frequency) / float64(maxFreq)
	}

	age := now.Sub(e.LastAccess)
	recency := 1.0 / (1.0 + age.Minutes())

	cost := 0.0
	if maxCost > 0 {
		cost = e.Cost / maxCost
	}

	return w.Frequency*freq +
		w.Recency*recency +
		w.Similarity*similarity(e.Fingerprint, lastFingerprint) +
		w.Cost*cost
}

func (m *Manager) demoteToCommon(e *Entry) {
	if m.common == nil {
		return
	}
	if err := m.common.put(e, m.lastFingerprint); err != nil {
		m.logger.Warn("cache_demotion_failed",
			slog.String("key", string(e.Key)),
			slog.String("error", err.Error()))
	}
}

// PurgeStale removes all entries built against generations other than the
// current one. The in-memory tiers invalidate lazily on access; this bulk
// sweep keeps the disk tier from accumulating dead weight.
func (m *Manager) PurgeStale(generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range m.recent.Keys() {
		if e, ok := m.recent.Peek(key); ok && e.Generation != generation {
			m.discard(key)
			m.stats.StaleEvicted++
		}
	}
	for key, e := range m.frequent {
		if e.Generation != generation {
			delete(m.frequent, key)
			m.stats.StaleEvicted++
		}
	}
	if m.common != nil {
		n, err := m.common.purgeStale(generation)
		if err != nil {
			m.logger.Warn("cache_purge_failed", slog.String("error", err.Error()))
			return
		}
		m.stats.StaleEvicted += uint64(n)
	}
}

// Retune resizes the recent tier based on the observed hit mix. When the
// frequent tier serves more hits than the recent one, the recent tier is too
// small for the working set and grows; when recent hits dominate heavily it
// shrinks back toward its configured size. Bounds: [configured, 4x configured].
func (m *Manager) Retune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := m.cfg.RecentSize

	switch {
	case m.stats.FrequentHits > m.stats.RecentHits:
		target := min(m.recentCap*2, base*4)
		if target > m.recentCap {
			m.recentCap = target
			m.recent.Resize(target)
			m.logger.Debug("cache_recent_grown", slog.Int("capacity", target))
		}
	case m.recentCap > base && m.stats.RecentHits > 4*m.stats.FrequentHits:
		m.recentCap = base
		m.recent.Resize(base)
		m.logger.Debug("cache_recent_shrunk", slog.Int("capacity", base))
	}
}

// Stats returns a snapshot of cache counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Len returns the entry counts of the three tiers.
func (m *Manager) Len() (recent, frequent, common int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recent = m.recent.Len()
	frequent = len(m.frequent)
	if m.common != nil {
		if n, err := m.common.count(); err == nil {
			common = n
		}
	}
	return recent, frequent, common
}

// Close flushes nothing (tiers are write-through on demotion) and closes
// the disk tier.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.common != nil {
		return m.common.close()
	}
	return nil
}
