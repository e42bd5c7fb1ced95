package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/engine"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/ui"
)

// newStatsCmd creates the stats command.
func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index and cache statistics",
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

			s := e.Stats()
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}

			fmt.Fprint(cmd.OutOrStdout(), ui.RenderStats(s, ui.GetStyles(noColor)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output statistics as JSON")
	return cmd
}
