package engine

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ReindexVault walks the vault, upserts every included note, and removes
// indexed documents whose files are gone. Unreadable or malformed notes are
// logged and skipped; the scan always completes.
func (e *Engine) ReindexVault(ctx context.Context) (indexed, skipped, removed int, err error) {
	root := e.cfg.Vault.Path
	seen := make(map[string]struct{})

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			e.logger.Warn("vault_walk_error", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != root && e.excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !e.included(rel) {
			return nil
		}

		info, infoErr := d.Info()
		var modTime time.Time
		if infoErr == nil {
			modTime = info.ModTime()
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			e.logger.Warn("note_unreadable", slog.String("path", rel), slog.String("error", readErr.Error()))
			skipped++
			return nil
		}

		seen[rel] = struct{}{}
		if upErr := e.indexer.Upsert(ctx, rel, content, modTime); upErr != nil {
			skipped++
			return nil
		}
		indexed++
		return nil
	})
	if walkErr != nil {
		return indexed, skipped, removed, walkErr
	}

	// Drop documents whose files disappeared since the last scan.
	for id := range e.indexer.Snapshot().Documents {
		if _, ok := seen[id]; ok {
			continue
		}
		if rmErr := e.indexer.Remove(ctx, id); rmErr != nil {
			e.logger.Warn("note_remove_failed", slog.String("path", id), slog.String("error", rmErr.Error()))
			continue
		}
		removed++
	}

	e.logger.Info("vault_reindexed",
		slog.Int("indexed", indexed),
		slog.Int("skipped", skipped),
		slog.Int("removed", removed),
		slog.Uint64("generation", e.indexer.Generation()))
	return indexed, skipped, removed, nil
}

// included reports whether a vault-relative path should be indexed.
func (e *Engine) included(rel string) bool {
	if e.excluded(rel) {
		return false
	}
	for _, pattern := range e.cfg.Vault.Include {
		if matchGlob(pattern, rel) {
			return true
		}
	}
	return false
}

func (e *Engine) excluded(rel string) bool {
	for _, pattern := range e.cfg.Vault.Exclude {
		if matchGlob(pattern, rel) {
			return true
		}
	}
	return false
}

// matchGlob matches a vault-relative slash path against a pattern with
// limited ** support: a leading "**/" matches any directory prefix and a
// trailing "/**" matches any subtree.
func matchGlob(pattern, rel string) bool {
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return rel == prefix || strings.HasPrefix(rel, prefix+"/")
	}
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		if ok, _ := filepath.Match(suffix, filepath.Base(rel)); ok {
			return true
		}
		return false
	}
	ok, _ := filepath.Match(pattern, rel)
	return ok
}
