package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/engine"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/ui"
)

// newQueryCmd creates the query command.
func newQueryCmd() *cobra.Command {
	var budget int
	var strategyHint string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve and pack context for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("budget") {
				budget = cfg.Budget.DefaultTokens
			}

			e, err := engine.New(cfg, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, _, _, err := e.ReindexVault(cmd.Context()); err != nil {
				return err
			}

			resp, err := e.Query(cmd.Context(), engine.Request{
				Text:         strings.Join(args, " "),
				Budget:       budget,
				StrategyHint: strategyHint,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			fmt.Fprint(cmd.OutOrStdout(), ui.RenderResponse(resp, ui.GetStyles(noColor)))
			return nil
		},
	}

	cmd.Flags().IntVar(&budget, "budget", 0, "Token budget (default: configured value)")
	cmd.Flags().StringVar(&strategyHint, "strategy", "", "Force a strategy: whole_document, chunked, hierarchical")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the response as JSON")

	return cmd
}
