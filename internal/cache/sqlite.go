package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// schemaVersion is the common tier's on-disk schema version. A mismatch
// drops the table; cached context is always recomputable.
const schemaVersion = 1

// commonTier is the disk-backed third cache tier. Entries demoted out of
// the in-memory tiers land here and survive restarts.
type commonTier struct {
	db      *sql.DB
	cap     int
	weights Weights
}

func openCommonTier(path string, capacity int, weights Weights) (*commonTier, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	// modernc.org/sqlite is not safe for concurrent writers on one
	// connection pool beyond what SQLite serializes itself.
	db.SetMaxOpenConns(1)

	t := &commonTier{db: db, cap: capacity, weights: weights}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *commonTier) migrate() error {
	var version int
	if err := t.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != 0 && version != schemaVersion {
		if _, err := t.db.Exec("DROP TABLE IF EXISTS cache_entries"); err != nil {
			return fmt.Errorf("drop stale schema: %w", err)
		}
	}

	_, err := t.db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key         TEXT PRIMARY KEY,
			generation  INTEGER NOT NULL,
			fingerprint INTEGER NOT NULL,
			frequency   INTEGER NOT NULL,
			last_access INTEGER NOT NULL,
			cost        REAL NOT NULL,
			value       BLOB NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create cache table: %w", err)
	}
	if _, err := t.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func (t *commonTier) get(key Key) (*Entry, error) {
	row := t.db.QueryRow(`
		SELECT generation, fingerprint, frequency, last_access, cost, value
		FROM cache_entries WHERE key = ?`, string(key))

	var e Entry
	var lastAccess int64
	var fingerprint int64
	err := row.Scan(&e.Generation, &fingerprint, &e.Frequency, &lastAccess, &e.Cost, &e.Value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	e.Key = key
	e.Fingerprint = uint64(fingerprint)
	e.LastAccess = time.Unix(0, lastAccess)
	return &e, nil
}

func (t *commonTier) put(e *Entry, lastFingerprint uint64) error {
	_, err := t.db.Exec(`
		INSERT OR REPLACE INTO cache_entries
			(key, generation, fingerprint, frequency, last_access, cost, value)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.Key), e.Generation, int64(e.Fingerprint), e.Frequency,
		e.LastAccess.UnixNano(), e.Cost, e.Value)
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return t.trim(lastFingerprint)
}

// trim drops entries beyond capacity, lowest composite score first. Ties
// fall to the oldest last-access, then the key.
func (t *commonTier) trim(lastFingerprint uint64) error {
	n, err := t.count()
	if err != nil {
		return fmt.Errorf("trim cache: %w", err)
	}
	excess := n - t.cap
	if excess <= 0 {
		return nil
	}

	rows, err := t.db.Query(`
		SELECT key, fingerprint, frequency, last_access, cost
		FROM cache_entries`)
	if err != nil {
		return fmt.Errorf("trim cache: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var key string
		var fingerprint, lastAccess int64
		if err := rows.Scan(&key, &fingerprint, &e.Frequency, &lastAccess, &e.Cost); err != nil {
			return fmt.Errorf("trim cache: %w", err)
		}
		e.Key = Key(key)
		e.Fingerprint = uint64(fingerprint)
		e.LastAccess = time.Unix(0, lastAccess)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("trim cache: %w", err)
	}

	now := time.Now()
	var maxFreq int
	var maxCost float64
	for _, e := range entries {
		if e.Frequency > maxFreq {
			maxFreq = e.Frequency
		}
		if e.Cost > maxCost {
			maxCost = e.Cost
		}
	}

	scores := make(map[Key]float64, len(entries))
	for _, e := range entries {
		scores[e.Key] = compositeScore(t.weights, e, now, maxFreq, maxCost, lastFingerprint)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if scores[a.Key] != scores[b.Key] {
			return scores[a.Key] < scores[b.Key]
		}
		if !a.LastAccess.Equal(b.LastAccess) {
			return a.LastAccess.Before(b.LastAccess)
		}
		return a.Key < b.Key
	})

	for _, e := range entries[:excess] {
		if err := t.delete(e.Key); err != nil {
			return fmt.Errorf("trim cache: %w", err)
		}
	}
	return nil
}

func (t *commonTier) delete(key Key) error {
	_, err := t.db.Exec("DELETE FROM cache_entries WHERE key = ?", string(key))
	return err
}

// purgeStale removes entries from any generation but the current one.
func (t *commonTier) purgeStale(generation uint64) (int64, error) {
	res, err := t.db.Exec("DELETE FROM cache_entries WHERE generation != ?", generation)
	if err != nil {
		return 0, fmt.Errorf("purge stale entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *commonTier) count() (int, error) {
	var n int
	err := t.db.QueryRow("SELECT COUNT(*) FROM cache_entries").Scan(&n)
	return n, err
}

func (t *commonTier) close() error {
	return t.db.Close()
}
