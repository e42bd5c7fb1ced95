// Package main provides the entry point for the copilot CLI.
package main

import (
	"os"

	"github.com/caioniehues/obsidian-copilot-sub001/cmd/copilot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
