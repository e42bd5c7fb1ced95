package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/engine"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/ui"
)

// newIndexCmd creates the index command.
func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Index or re-index the vault",
		Long: `Scan the vault, index new and changed notes, and remove deleted ones.
Unchanged notes are skipped, so repeat runs are cheap.`,
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

			start := time.Now()
			indexed, skipped, removed, err := e.ReindexVault(cmd.Context())
			if err != nil {
				return err
			}

			styles := ui.GetStyles(noColor)
			fmt.Fprintln(cmd.OutOrStdout(), styles.Header.Render("Index complete"))
			fmt.Fprintf(cmd.OutOrStdout(), "  indexed %d, skipped %d, removed %d in %s\n",
				indexed, skipped, removed, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
