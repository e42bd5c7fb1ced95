package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/engine"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/watcher"
)

// newWatchCmd creates the watch command.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the vault and keep the index current",
		Long: `Index the vault, then watch for file changes and apply them
incrementally. The background optimizer runs on its configured
interval. Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			e, err := engine.New(cfg, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, _, _, err := e.ReindexVault(cmd.Context()); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := watcher.New(cfg.Vault.Path, cfg.Watch.Debounce, applyEvents(e, cfg.Vault.Path), nil)
			if err != nil {
				return err
			}

			optimizerDone := e.StartOptimizer(ctx)

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s (generation %d)\n", cfg.Vault.Path, e.Generation())
			err = w.Run(ctx)
			<-optimizerDone
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}

// applyEvents returns a watcher handler that feeds coalesced events into
// the index.
func applyEvents(e *engine.Engine, root string) watcher.Handler {
	return func(ctx context.Context, events []watcher.Event) {
		for _, ev := range events {
			switch ev.Type {
			case watcher.Create, watcher.Modify:
				path := filepath.Join(root, filepath.FromSlash(ev.Path))
				content, err := os.ReadFile(path)
				if err != nil {
					slog.Warn("note_unreadable", slog.String("path", ev.Path), slog.String("error", err.Error()))
					continue
				}
				modTime := time.Now()
				if info, err := os.Stat(path); err == nil {
					modTime = info.ModTime()
				}
				if err := e.Upsert(ctx, ev.Path, content, modTime); err != nil {
					continue // Logged by the indexer
				}
			case watcher.Delete:
				if err := e.Remove(ctx, ev.Path); err != nil {
					slog.Warn("note_remove_failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
				}
			}
		}
	}
}
