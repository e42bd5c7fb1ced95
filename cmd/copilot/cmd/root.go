// Package cmd provides the CLI commands for the copilot context engine.
package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/config"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/logging"
	"github.com/caioniehues/obsidian-copilot-sub001/pkg/version"
)

var (
	vaultPath  string
	configPath string
	debugMode  bool
	noColor    bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the copilot CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copilot",
		Short: "Hybrid retrieval and context packing for markdown vaults",
		Long: `Copilot indexes a markdown vault with combined keyword and semantic
search, ranks matches with link-graph awareness, and packs the best
content into a model token budget.

Point it at a vault with --vault, index once, then query.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("copilot version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&vaultPath, "vault", ".", "Vault root directory")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <vault>/copilot.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable styled output")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

// loadConfig resolves the effective configuration for the current flags.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(vaultPath, "copilot.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Vault.Path = vaultPath
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = filepath.Join(vaultPath, ".copilot", "index")
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = filepath.Join(vaultPath, ".copilot", "cache.db")
	}
	return cfg, nil
}
